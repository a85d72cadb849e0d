package model

import (
	"encoding/json"
)

type NotificationType string

const (
	NotifyFriendRequest NotificationType = "friend_request"
	NotifyFriendAccept  NotificationType = "friend_accept"
	NotifyExamResult    NotificationType = "exam_result"
	NotifyInfo          NotificationType = "info"
)

// Notification 站内通知行，归属单个接收者。
// IsRead 只允许 false -> true，由仓库层的条件更新保证。
type Notification struct {
	UUIDBase
	RecipientID uint             `gorm:"index;not null" json:"recipientId"`
	Type        NotificationType `gorm:"size:32;not null;index" json:"type"`
	Title       string           `gorm:"size:100;not null" json:"title"`
	Message     string           `gorm:"size:255" json:"message"`
	Payload     string           `gorm:"type:text" json:"payload"`
	IsRead      bool             `gorm:"column:is_read;default:false;index" json:"isRead"`
}

func (Notification) TableName() string {
	return "notifications"
}

// FriendRequestPayload friend_request 类型通知的结构化负载，
// 携带关系边ID以便在通知内直接处理申请。
type FriendRequestPayload struct {
	RelationshipEdgeID string `json:"relationshipEdgeId"`
	RequesterID        uint   `json:"requesterId"`
	RequesterName      string `json:"requesterName"`
}

func (p FriendRequestPayload) Encode() string {
	b, _ := json.Marshal(p)
	return string(b)
}

// DecodeFriendRequestPayload 解析通知负载中的关系边引用
func DecodeFriendRequestPayload(raw string) (FriendRequestPayload, error) {
	var p FriendRequestPayload
	err := json.Unmarshal([]byte(raw), &p)
	return p, err
}
