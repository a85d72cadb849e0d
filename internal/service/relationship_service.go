package service

import (
	"edu_social_backend/internal/model"
	"edu_social_backend/internal/repository"
	"edu_social_backend/internal/util"
	"edu_social_backend/pkg/monitoring"
	"errors"

	"gorm.io/gorm"
)

// RelationshipService 好友关系编排：申请、处理、解除、列表、搜索。
// 不变量（一对一边、状态只能从 pending 流出）由仓库层和数据库约束保证，
// 这里负责把策略性失败映射为用户可见的结果。
type RelationshipService struct {
	RelRepo   *repository.RelationshipRepository
	UserRepo  *repository.UserRepository
	NotifRepo *repository.NotificationRepository

	hub *NotifyHub
}

func NewRelationshipService(relRepo *repository.RelationshipRepository, userRepo *repository.UserRepository, notifRepo *repository.NotificationRepository) *RelationshipService {
	return &RelationshipService{
		RelRepo:   relRepo,
		UserRepo:  userRepo,
		NotifRepo: notifRepo,
	}
}

// AttachHub 推送中心在服务之后构造（hub 的内嵌操作反过来依赖本服务），
// 装配阶段回填
func (s *RelationshipService) AttachHub(hub *NotifyHub) {
	s.hub = hub
}

// SendRequest 发起好友申请。
// 对方已有发给自己的待处理申请时直接按接受处理（互加收敛）；
// 重复申请（任一方向已有 pending/accepted 边）返回 ErrDuplicateRelationship。
// friend_request 通知行和边在同一事务写入，推送在提交后进行。
func (s *RelationshipService) SendRequest(senderID, receiverID uint, message string) (*model.RelationshipEdge, error) {
	if senderID == receiverID {
		return nil, util.ErrSelfRelation
	}

	// 对方已经发过申请：视为本次申请即接受
	if reciprocal, err := s.RelRepo.FindPendingBetween(receiverID, senderID); err == nil {
		if err := s.Respond(reciprocal.ID, senderID, true); err != nil {
			return nil, err
		}
		monitoring.RelationshipOpCounter.WithLabelValues("request", "reciprocal_accept").Inc()
		return s.RelRepo.GetByID(reciprocal.ID)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	edge := &model.RelationshipEdge{
		RequesterID: senderID,
		RecipientID: receiverID,
		Message:     message,
	}
	notif := &model.Notification{
		Title:   "新的好友申请",
		Message: message,
	}

	if err := s.RelRepo.CreateWithNotification(edge, notif); err != nil {
		if errors.Is(err, util.ErrDuplicateRelationship) {
			monitoring.RelationshipOpCounter.WithLabelValues("request", "duplicate").Inc()
		}
		return nil, err
	}

	monitoring.RelationshipOpCounter.WithLabelValues("request", "created").Inc()
	if s.hub != nil {
		s.hub.PushToUser(receiverID, *notif)
	}
	return edge, nil
}

// Respond 处理申请。只有接收者可以处理；重复处理同一结果是幂等成功。
// 接受并真正完成流转后给申请方发 friend_accept 通知；
// 重放的 no-op 不再发第二条。
func (s *RelationshipService) Respond(edgeID string, recipientID uint, accept bool) error {
	edge, err := s.RelRepo.GetByID(edgeID)
	if err != nil {
		return err
	}

	status := model.RelationRejected
	if accept {
		status = model.RelationAccepted
	}

	transitioned, err := s.RelRepo.SetStatus(edgeID, recipientID, status)
	if err != nil {
		monitoring.RelationshipOpCounter.WithLabelValues("respond", "error").Inc()
		return err
	}
	monitoring.RelationshipOpCounter.WithLabelValues("respond", string(status)).Inc()

	if accept && transitioned {
		recipient, err := s.UserRepo.FindByID(recipientID)
		name := ""
		if err == nil {
			name = recipient.Name
		}
		notif := &model.Notification{
			RecipientID: edge.RequesterID,
			Type:        model.NotifyFriendAccept,
			Title:       "好友申请已通过",
			Message:     name + " 接受了你的好友申请",
		}
		if err := s.NotifRepo.Create(notif); err == nil && s.hub != nil {
			s.hub.PushToUser(edge.RequesterID, *notif)
		}
	}
	return nil
}

// RemoveFriend 解除好友关系（作用于 accepted 边，任一方都可操作）
func (s *RelationshipService) RemoveFriend(userID, friendID uint) error {
	if err := s.RelRepo.DeleteBetween(userID, friendID); err != nil {
		return err
	}
	monitoring.RelationshipOpCounter.WithLabelValues("remove", "ok").Inc()
	return nil
}

// WithdrawRequest 按边ID删除（撤回自己发出的申请，或从详情页解除好友）
func (s *RelationshipService) WithdrawRequest(edgeID string, callerID uint) error {
	return s.RelRepo.Delete(edgeID, callerID)
}

// FriendsOf 好友列表，按对端ID集合水合展示数据。
// 集合的正确性由仓库层保证（两个方向合并去重），展示排序交给调用端。
func (s *RelationshipService) FriendsOf(userID uint) ([]model.UserSummary, error) {
	ids, err := s.RelRepo.ListAcceptedIDsCached(userID)
	if err != nil {
		return nil, err
	}
	users, err := s.UserRepo.FindByIDs(ids)
	if err != nil {
		return nil, err
	}
	summaries := make([]model.UserSummary, 0, len(users))
	for i := range users {
		summaries = append(summaries, users[i].Summary())
	}
	return summaries, nil
}

// PendingRequests 待处理申请列表
func (s *RelationshipService) PendingRequests(userID uint, direction model.PendingDirection) ([]model.RelationshipEdge, error) {
	return s.RelRepo.ListPending(userID, direction)
}

// Search 搜索可添加的用户：模糊匹配昵称/邮箱，排除自己和现有好友。
// 排除集合每次现查（不走缓存），避免把已是好友的用户再次推荐出来。
func (s *RelationshipService) Search(forUserID uint, query string) ([]model.UserSummary, error) {
	friendIDs, err := s.RelRepo.ListAcceptedIDs(forUserID)
	if err != nil {
		return nil, err
	}
	exclude := append(friendIDs, forUserID)

	users, err := s.UserRepo.Search(query, exclude, 20)
	if err != nil {
		return nil, err
	}
	summaries := make([]model.UserSummary, 0, len(users))
	for i := range users {
		summaries = append(summaries, users[i].Summary())
	}
	return summaries, nil
}

// IsFriend 当前是否为好友（accepted 边，方向无关）
func (s *RelationshipService) IsFriend(userID, otherID uint) (bool, error) {
	return s.RelRepo.IsFriend(userID, otherID)
}
