package repository

import (
	"edu_social_backend/internal/model"
	"edu_social_backend/internal/util"
	"errors"
	"time"

	"gorm.io/gorm"
)

type NotificationRepository struct {
	DB *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{DB: db}
}

func (r *NotificationRepository) Create(n *model.Notification) error {
	return r.DB.Create(n).Error
}

func (r *NotificationRepository) GetByID(id string) (*model.Notification, error) {
	var n model.Notification
	err := r.DB.First(&n, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrNotificationNotFound
	}
	return &n, err
}

// ListRecent 最近通知，新的在前；since 为零值时不限制时间
func (r *NotificationRepository) ListRecent(recipientID uint, since time.Time, limit int) ([]model.Notification, error) {
	var list []model.Notification
	db := r.DB.Where("recipient_id = ?", recipientID)
	if !since.IsZero() {
		db = db.Where("created_at > ?", since)
	}
	if limit <= 0 {
		limit = 50
	}
	err := db.Order("created_at DESC").Limit(limit).Find(&list).Error
	return list, err
}

// MarkRead 已读标记只允许 false -> true，条件更新保证重复标记是 no-op。
// 更新按接收者圈定，只能标记自己的通知。
// 通知不存在报 ErrNotificationNotFound，归属他人报 ErrNotAuthorized，
// 已读重标不报错。
func (r *NotificationRepository) MarkRead(id string, recipientID uint) error {
	res := r.DB.Model(&model.Notification{}).
		Where("id = ? AND recipient_id = ? AND is_read = ?", id, recipientID, false).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		n, err := r.GetByID(id)
		if err != nil {
			return err
		}
		if n.RecipientID != recipientID {
			return util.ErrNotAuthorized
		}
	}
	return nil
}

// MarkAllRead 幂等：没有未读行时也是成功
func (r *NotificationRepository) MarkAllRead(recipientID uint) error {
	return r.DB.Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Update("is_read", true).Error
}

// UnreadCount 未读数永远现算，不单独存储，避免计数漂移
func (r *NotificationRepository) UnreadCount(recipientID uint) (int64, error) {
	var count int64
	err := r.DB.Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error
	return count, err
}
