package util

import "errors"

var (
	ErrUserNotFound          = errors.New("用户不存在")
	ErrEmailRegistered       = errors.New("该邮箱已被注册")
	ErrSelfRelation          = errors.New("不能添加自己为好友")
	ErrDuplicateRelationship = errors.New("已经是好友或申请待处理")
	ErrRelationNotFound      = errors.New("好友申请不存在")
	ErrNotAuthorized         = errors.New("无权处理此申请")
	ErrInvalidTransition     = errors.New("申请已处理")
	ErrNotificationNotFound  = errors.New("通知不存在")
	ErrNotEmbeddedAction     = errors.New("该通知不支持直接操作")
)
