package service

import (
	"edu_social_backend/internal/model"
	"edu_social_backend/internal/repository"
	"edu_social_backend/internal/util"
	"errors"
	"sort"
	"sync"
	"time"
)

const defaultSnapshotLimit = 50

// NotificationDispatcher 单个通知订阅端（一个 WebSocket 连接）的本地状态。
// 同一个用户可能同时打开多个界面（通知面板 + 抽屉），每个界面各持有
// 一个 dispatcher 实例。快照拉取和推送事件可能交错到达、可能重复投递，
// 一致性靠按通知ID去重，不靠到达顺序或时间戳比较。
type NotificationDispatcher struct {
	notifRepo  *repository.NotificationRepository
	relService *RelationshipService

	recipientID uint

	mu     sync.Mutex
	seen   map[string]bool
	items  []model.Notification // 新的在前
	unread int64
	seeded bool
}

func NewNotificationDispatcher(notifRepo *repository.NotificationRepository, relService *RelationshipService, recipientID uint) *NotificationDispatcher {
	return &NotificationDispatcher{
		notifRepo:   notifRepo,
		relService:  relService,
		recipientID: recipientID,
		seen:        make(map[string]bool),
	}
}

// Seed 挂载时用 listRecent 快照初始化本地状态。
// 注册早于快照完成时推送事件可能先到，合并时同样按ID去重，
// 先到的推送不会在快照里被算第二次。
func (d *NotificationDispatcher) Seed(limit int) ([]model.Notification, int64, error) {
	if limit <= 0 {
		limit = defaultSnapshotLimit
	}
	snapshot, err := d.notifRepo.ListRecent(d.recipientID, time.Time{}, limit)
	if err != nil {
		return nil, 0, err
	}
	unread, err := d.notifRepo.UnreadCount(d.recipientID)
	if err != nil {
		return nil, 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, n := range snapshot {
		if d.seen[n.ID] {
			continue
		}
		d.seen[n.ID] = true
		d.items = append(d.items, n)
	}
	d.sortNewestFirst()
	d.unread = unread
	d.seeded = true

	return append([]model.Notification(nil), d.items...), d.unread, nil
}

// Apply 合并一条推送事件。重复投递返回 false，本地状态不变。
func (d *NotificationDispatcher) Apply(n model.Notification) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen[n.ID] {
		return false
	}
	d.seen[n.ID] = true
	d.items = append([]model.Notification{n}, d.items...)
	if !n.IsRead {
		d.unread++
	}
	return true
}

// MarkRead 单条已读，只作用于本人的通知。
// 重复标记是 no-op 成功；未读数以存储为准重算。
func (d *NotificationDispatcher) MarkRead(notificationID string) error {
	if err := d.notifRepo.MarkRead(notificationID, d.recipientID); err != nil {
		return err
	}
	return d.refreshAfterRead(notificationID)
}

// MarkAllRead 全部已读，多个界面并发调用安全（存储层幂等）
func (d *NotificationDispatcher) MarkAllRead() error {
	if err := d.notifRepo.MarkAllRead(d.recipientID); err != nil {
		return err
	}
	d.mu.Lock()
	for i := range d.items {
		d.items[i].IsRead = true
	}
	d.unread = 0
	d.mu.Unlock()
	return nil
}

// Act 通知内嵌操作：friend_request 类型的通知直接接受/拒绝申请。
// 另一个界面已经处理过时服务层返回 ErrInvalidTransition，
// 对用户而言申请已不再待处理，按成功收敛：照常标记已读并移出待操作视图。
func (d *NotificationDispatcher) Act(notificationID string, accept bool) error {
	n, err := d.lookup(notificationID)
	if err != nil {
		return err
	}
	if n.Type != model.NotifyFriendRequest {
		return util.ErrNotEmbeddedAction
	}

	payload, err := model.DecodeFriendRequestPayload(n.Payload)
	if err != nil || payload.RelationshipEdgeID == "" {
		return util.ErrNotEmbeddedAction
	}

	err = d.relService.Respond(payload.RelationshipEdgeID, d.recipientID, accept)
	if err != nil && !errors.Is(err, util.ErrInvalidTransition) {
		return err
	}

	if err := d.notifRepo.MarkRead(notificationID, d.recipientID); err != nil {
		return err
	}
	return d.refreshAfterRead(notificationID)
}

// Snapshot 当前本地通知列表（新的在前）
func (d *NotificationDispatcher) Snapshot() []model.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Notification(nil), d.items...)
}

func (d *NotificationDispatcher) Unread() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unread
}

func (d *NotificationDispatcher) RecipientID() uint {
	return d.recipientID
}

// lookup 优先查本地状态，快照窗口外的通知回源存储
func (d *NotificationDispatcher) lookup(notificationID string) (*model.Notification, error) {
	d.mu.Lock()
	for i := range d.items {
		if d.items[i].ID == notificationID {
			n := d.items[i]
			d.mu.Unlock()
			return &n, nil
		}
	}
	d.mu.Unlock()

	n, err := d.notifRepo.GetByID(notificationID)
	if err != nil {
		return nil, err
	}
	if n.RecipientID != d.recipientID {
		return nil, util.ErrNotAuthorized
	}
	return n, nil
}

// refreshAfterRead 本地标记 + 从存储重算未读数。
// 未读数是派生量，写后重算而不是本地增减，避免两个界面各自累计漂移。
func (d *NotificationDispatcher) refreshAfterRead(notificationID string) error {
	unread, err := d.notifRepo.UnreadCount(d.recipientID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	for i := range d.items {
		if d.items[i].ID == notificationID {
			d.items[i].IsRead = true
			break
		}
	}
	d.unread = unread
	d.mu.Unlock()
	return nil
}

func (d *NotificationDispatcher) sortNewestFirst() {
	sort.SliceStable(d.items, func(i, j int) bool {
		return d.items[i].CreatedAt.After(d.items[j].CreatedAt)
	})
}
