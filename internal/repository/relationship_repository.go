package repository

import (
	"context"
	"edu_social_backend/internal/model"
	"edu_social_backend/internal/util"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// RelationshipRepository 好友关系边的唯一写入方。
// 一对用户在任一方向上最多存在一条 pending/accepted 边，
// 由 pair_key 的唯一索引在数据库层保证，而不是靠先查后插。
type RelationshipRepository struct {
	DB    *gorm.DB
	Redis *redis.Client
	ctx   context.Context
}

func NewRelationshipRepository(db *gorm.DB, rdb *redis.Client) *RelationshipRepository {
	return &RelationshipRepository{
		DB:    db,
		Redis: rdb,
		ctx:   context.Background(),
	}
}

// Create 创建一条 pending 边。
// 同一对用户并发反向申请时，后提交者撞到唯一索引，
// 统一翻译为 ErrDuplicateRelationship。
// 已被拒绝的旧边不再阻塞新申请：插入前在同一事务中清掉。
func (r *RelationshipRepository) Create(edge *model.RelationshipEdge) error {
	if edge.RequesterID == edge.RecipientID {
		return util.ErrSelfRelation
	}
	edge.PairKey = model.CanonicalPairKey(edge.RequesterID, edge.RecipientID)
	if edge.Status == "" {
		edge.Status = model.RelationPending
	}

	err := r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("pair_key = ? AND status = ?", edge.PairKey, model.RelationRejected).
			Delete(&model.RelationshipEdge{}).Error; err != nil {
			return err
		}
		return tx.Create(edge).Error
	})

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return util.ErrDuplicateRelationship
	}
	return err
}

// CreateWithNotification 在同一事务中写入边和对应的 friend_request 通知，
// 一条待处理申请不会在没有通知行的情况下存在。
func (r *RelationshipRepository) CreateWithNotification(edge *model.RelationshipEdge, notif *model.Notification) error {
	if edge.RequesterID == edge.RecipientID {
		return util.ErrSelfRelation
	}
	edge.PairKey = model.CanonicalPairKey(edge.RequesterID, edge.RecipientID)
	if edge.Status == "" {
		edge.Status = model.RelationPending
	}

	err := r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("pair_key = ? AND status = ?", edge.PairKey, model.RelationRejected).
			Delete(&model.RelationshipEdge{}).Error; err != nil {
			return err
		}
		if err := tx.Create(edge).Error; err != nil {
			return err
		}
		payload := model.FriendRequestPayload{
			RelationshipEdgeID: edge.ID,
			RequesterID:        edge.RequesterID,
		}
		var requester model.User
		if err := tx.First(&requester, edge.RequesterID).Error; err == nil {
			payload.RequesterName = requester.Name
		}
		notif.Type = model.NotifyFriendRequest
		notif.RecipientID = edge.RecipientID
		notif.Payload = payload.Encode()
		return tx.Create(notif).Error
	})

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return util.ErrDuplicateRelationship
	}
	return err
}

func (r *RelationshipRepository) GetByID(id string) (*model.RelationshipEdge, error) {
	var edge model.RelationshipEdge
	err := r.DB.First(&edge, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrRelationNotFound
	}
	return &edge, err
}

// SetStatus 状态流转，只有接收者可以处理，只有 pending 可以流转。
// 网络重试重放同一目标状态视为成功（no-op），不报错。
// 返回值标记本次调用是否真正完成了流转：重放的 no-op 返回 false，
// 调用方据此决定是否触发只应发生一次的副作用（如通知申请方）。
func (r *RelationshipRepository) SetStatus(edgeID string, recipientID uint, status model.RelationshipStatus) (bool, error) {
	edge, err := r.GetByID(edgeID)
	if err != nil {
		return false, err
	}
	if edge.RecipientID != recipientID {
		return false, util.ErrNotAuthorized
	}
	if edge.Status == status {
		return false, nil
	}
	if edge.Status != model.RelationPending {
		return false, util.ErrInvalidTransition
	}

	// 条件更新：两个界面并发处理时只有一个写入成功
	res := r.DB.Model(&model.RelationshipEdge{}).
		Where("id = ? AND status = ?", edgeID, model.RelationPending).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// 已被另一端处理过，若结果一致则按幂等成功处理
		current, err := r.GetByID(edgeID)
		if err != nil {
			return false, err
		}
		if current.Status == status {
			return false, nil
		}
		return false, util.ErrInvalidTransition
	}

	r.invalidateFriendCache(edge.RequesterID, edge.RecipientID)
	return true, nil
}

// Delete 删除关系边（解除好友或撤回申请），申请双方都可以操作
func (r *RelationshipRepository) Delete(edgeID string, callerID uint) error {
	edge, err := r.GetByID(edgeID)
	if err != nil {
		return err
	}
	if edge.RequesterID != callerID && edge.RecipientID != callerID {
		return util.ErrNotAuthorized
	}

	if err := r.DB.Delete(&model.RelationshipEdge{}, "id = ?", edgeID).Error; err != nil {
		return err
	}

	r.invalidateFriendCache(edge.RequesterID, edge.RecipientID)
	return nil
}

// DeleteBetween 按用户对删除 accepted 边（好友列表里的"删除好友"入口）
func (r *RelationshipRepository) DeleteBetween(userID, friendID uint) error {
	pairKey := model.CanonicalPairKey(userID, friendID)
	res := r.DB.Where("pair_key = ? AND status = ?", pairKey, model.RelationAccepted).
		Delete(&model.RelationshipEdge{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrRelationNotFound
	}

	r.invalidateFriendCache(userID, friendID)
	return nil
}

// ListAcceptedIDs 好友ID集合：两个方向的 accepted 边合并后按对端去重。
// 唯一索引已保证同一对端不会出现两条冲突边，这里合并前仍然防御性去重，
// 因为两个方向是独立查出来的两份结果。
func (r *RelationshipRepository) ListAcceptedIDs(userID uint) ([]uint, error) {
	var outgoing []uint
	err := r.DB.Model(&model.RelationshipEdge{}).
		Where("requester_id = ? AND status = ?", userID, model.RelationAccepted).
		Pluck("recipient_id", &outgoing).Error
	if err != nil {
		return nil, err
	}

	var incoming []uint
	err = r.DB.Model(&model.RelationshipEdge{}).
		Where("recipient_id = ? AND status = ?", userID, model.RelationAccepted).
		Pluck("requester_id", &incoming).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[uint]bool, len(outgoing)+len(incoming))
	var ids []uint
	for _, id := range append(outgoing, incoming...) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ListAcceptedIDsCached 好友ID集合（带 Redis 缓存）
func (r *RelationshipRepository) ListAcceptedIDsCached(userID uint) ([]uint, error) {
	if r.Redis == nil {
		return r.ListAcceptedIDs(userID)
	}

	key := friendCacheKey(userID)
	cached, err := r.Redis.SMembers(r.ctx, key).Result()
	if err == nil && len(cached) > 0 {
		var ids []uint
		for _, s := range cached {
			var id uint
			fmt.Sscanf(s, "%d", &id)
			if id > 0 {
				ids = append(ids, id)
			}
		}
		return ids, nil
	}

	// 缓存失效，回源数据库
	ids, err := r.ListAcceptedIDs(userID)
	if err == nil && len(ids) > 0 {
		pipe := r.Redis.Pipeline()
		for _, id := range ids {
			pipe.SAdd(r.ctx, key, id)
		}
		pipe.Expire(r.ctx, key, 24*time.Hour)
		pipe.Exec(r.ctx)
	} else if err == nil {
		// 防止缓存穿透：存哨兵值并设置短过期时间
		r.Redis.SAdd(r.ctx, key, 0)
		r.Redis.Expire(r.ctx, key, 5*time.Minute)
	}
	return ids, err
}

// ListPending 待处理申请，incoming 为收到的、outgoing 为发出的，
// 按创建时间升序（先来先处理）
func (r *RelationshipRepository) ListPending(userID uint, direction model.PendingDirection) ([]model.RelationshipEdge, error) {
	var edges []model.RelationshipEdge
	db := r.DB.Preload("Requester").Preload("Recipient").
		Where("status = ?", model.RelationPending)

	switch direction {
	case model.PendingOutgoing:
		db = db.Where("requester_id = ?", userID)
	default:
		db = db.Where("recipient_id = ?", userID)
	}

	err := db.Order("created_at ASC").Find(&edges).Error
	return edges, err
}

// FindPendingBetween 查找 sender 发给 receiver 的待处理申请
func (r *RelationshipRepository) FindPendingBetween(senderID, receiverID uint) (*model.RelationshipEdge, error) {
	var edge model.RelationshipEdge
	err := r.DB.Where("requester_id = ? AND recipient_id = ? AND status = ?",
		senderID, receiverID, model.RelationPending).
		First(&edge).Error
	if err != nil {
		return nil, err
	}
	return &edge, nil
}

func (r *RelationshipRepository) IsFriend(userID, friendID uint) (bool, error) {
	var count int64
	err := r.DB.Model(&model.RelationshipEdge{}).
		Where("pair_key = ? AND status = ?", model.CanonicalPairKey(userID, friendID), model.RelationAccepted).
		Count(&count).Error
	return count > 0, err
}

func friendCacheKey(userID uint) string {
	return fmt.Sprintf("social:relation:friends:%d", userID)
}

func (r *RelationshipRepository) invalidateFriendCache(userIDs ...uint) {
	if r.Redis == nil {
		return
	}
	for _, id := range userIDs {
		r.Redis.Del(r.ctx, friendCacheKey(id))
	}
}
