package service

import (
	"edu_social_backend/internal/model"
	"edu_social_backend/internal/repository"
	"time"
)

// NotificationService 通知的 REST 读写门面。
// 实时投递走 NotifyHub，这里覆盖轮询端和外部写入方（教师端发布）。
type NotificationService struct {
	NotifRepo *repository.NotificationRepository

	hub *NotifyHub
}

func NewNotificationService(notifRepo *repository.NotificationRepository) *NotificationService {
	return &NotificationService{NotifRepo: notifRepo}
}

func (s *NotificationService) AttachHub(hub *NotifyHub) {
	s.hub = hub
}

// Publish 向一批接收者发布通知（info / exam_result 等非内嵌操作类型）。
// 行先落库，推送在写入成功后进行；推送丢失由下次快照兜底。
func (s *NotificationService) Publish(recipientIDs []uint, ntype model.NotificationType, title, message, payload string) ([]model.Notification, error) {
	created := make([]model.Notification, 0, len(recipientIDs))
	for _, recipientID := range recipientIDs {
		n := &model.Notification{
			RecipientID: recipientID,
			Type:        ntype,
			Title:       title,
			Message:     message,
			Payload:     payload,
		}
		if err := s.NotifRepo.Create(n); err != nil {
			return created, err
		}
		if s.hub != nil {
			s.hub.PushToUser(recipientID, *n)
		}
		created = append(created, *n)
	}
	return created, nil
}

func (s *NotificationService) ListRecent(recipientID uint, since time.Time, limit int) ([]model.Notification, error) {
	return s.NotifRepo.ListRecent(recipientID, since, limit)
}

func (s *NotificationService) MarkRead(notificationID string, recipientID uint) error {
	return s.NotifRepo.MarkRead(notificationID, recipientID)
}

func (s *NotificationService) MarkAllRead(recipientID uint) error {
	return s.NotifRepo.MarkAllRead(recipientID)
}

func (s *NotificationService) UnreadCount(recipientID uint) (int64, error) {
	return s.NotifRepo.UnreadCount(recipientID)
}
