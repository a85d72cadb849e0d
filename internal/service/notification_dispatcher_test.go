package service

import (
	"edu_social_backend/internal/model"
	"edu_social_backend/internal/util"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func (env *socialTestEnv) seedInfoNotification(recipientID uint, title string, createdAt time.Time) *model.Notification {
	n := &model.Notification{
		RecipientID: recipientID,
		Type:        model.NotifyInfo,
		Title:       title,
	}
	n.CreatedAt = createdAt
	if err := env.notifRepo.Create(n); err != nil {
		panic(err)
	}
	return n
}

func TestDispatcherSeedThenApplyDedup(t *testing.T) {
	env := setupSocialTestEnv(t)
	bob := env.createUser("bob")

	base := time.Now().Add(-time.Hour)
	n1 := env.seedInfoNotification(bob.ID, "n1", base)
	n2 := env.seedInfoNotification(bob.ID, "n2", base.Add(time.Minute))

	d := NewNotificationDispatcher(env.notifRepo, env.relService, bob.ID)
	snapshot, unread, err := d.Seed(0)
	assert.NoError(t, err)
	assert.Len(t, snapshot, 2)
	assert.Equal(t, int64(2), unread)
	// 新的在前
	assert.Equal(t, n2.ID, snapshot[0].ID)

	// 快照里已有的通知重复推送：no-op
	assert.False(t, d.Apply(*n1))
	assert.Equal(t, int64(2), d.Unread())
	assert.Len(t, d.Snapshot(), 2)

	// 新通知正常合并
	n3 := env.seedInfoNotification(bob.ID, "n3", base.Add(2*time.Minute))
	assert.True(t, d.Apply(*n3))
	assert.Equal(t, int64(3), d.Unread())
	assert.Equal(t, n3.ID, d.Snapshot()[0].ID)

	// 同一条再推一次：状态不变
	assert.False(t, d.Apply(*n3))
	assert.Equal(t, int64(3), d.Unread())
	assert.Len(t, d.Snapshot(), 3)
}

func TestDispatcherApplyBeforeSeed(t *testing.T) {
	env := setupSocialTestEnv(t)
	bob := env.createUser("bob")

	base := time.Now().Add(-time.Hour)
	n1 := env.seedInfoNotification(bob.ID, "n1", base)

	// 注册早于快照完成：推送先到，快照后到，合并不重复计数
	d := NewNotificationDispatcher(env.notifRepo, env.relService, bob.ID)
	assert.True(t, d.Apply(*n1))

	snapshot, unread, err := d.Seed(0)
	assert.NoError(t, err)
	assert.Len(t, snapshot, 1)
	assert.Equal(t, int64(1), unread)
}

func TestDispatcherMarkRead(t *testing.T) {
	env := setupSocialTestEnv(t)
	bob := env.createUser("bob")

	base := time.Now().Add(-time.Hour)
	n1 := env.seedInfoNotification(bob.ID, "n1", base)
	env.seedInfoNotification(bob.ID, "n2", base.Add(time.Minute))

	d := NewNotificationDispatcher(env.notifRepo, env.relService, bob.ID)
	_, _, err := d.Seed(0)
	assert.NoError(t, err)

	assert.NoError(t, d.MarkRead(n1.ID))
	assert.Equal(t, int64(1), d.Unread())

	// 重复标记：no-op 成功，计数不变
	assert.NoError(t, d.MarkRead(n1.ID))
	assert.Equal(t, int64(1), d.Unread())

	err = d.MarkRead("no-such-id")
	assert.ErrorIs(t, err, util.ErrNotificationNotFound)
}

func TestDispatcherMarkAllReadTwoSurfaces(t *testing.T) {
	env := setupSocialTestEnv(t)
	bob := env.createUser("bob")

	base := time.Now().Add(-time.Hour)
	env.seedInfoNotification(bob.ID, "n1", base)
	env.seedInfoNotification(bob.ID, "n2", base.Add(time.Minute))

	// 同一用户的两个界面各持有一个 dispatcher
	panel := NewNotificationDispatcher(env.notifRepo, env.relService, bob.ID)
	drawer := NewNotificationDispatcher(env.notifRepo, env.relService, bob.ID)
	panel.Seed(0)
	drawer.Seed(0)

	assert.NoError(t, panel.MarkAllRead())
	assert.Equal(t, int64(0), panel.Unread())
	for _, n := range panel.Snapshot() {
		assert.True(t, n.IsRead)
	}

	// 另一个界面随后也全部已读：存储层幂等
	assert.NoError(t, drawer.MarkAllRead())

	count, _ := env.notifRepo.UnreadCount(bob.ID)
	assert.Equal(t, int64(0), count)
}

func TestDispatcherActAcceptsFriendRequest(t *testing.T) {
	env := setupSocialTestEnv(t)
	alice := env.createUser("alice")
	bob := env.createUser("bob")

	edge, err := env.relService.SendRequest(alice.ID, bob.ID, "")
	assert.NoError(t, err)

	d := NewNotificationDispatcher(env.notifRepo, env.relService, bob.ID)
	snapshot, _, err := d.Seed(0)
	assert.NoError(t, err)
	assert.Len(t, snapshot, 1)
	notifID := snapshot[0].ID

	assert.NoError(t, d.Act(notifID, true))

	// 申请被接受，通知转为已读
	got, _ := env.relRepo.GetByID(edge.ID)
	assert.Equal(t, model.RelationAccepted, got.Status)
	n, _ := env.notifRepo.GetByID(notifID)
	assert.True(t, n.IsRead)
	assert.Equal(t, int64(0), d.Unread())
}

func TestDispatcherActTwoSurfacesConverges(t *testing.T) {
	env := setupSocialTestEnv(t)
	alice := env.createUser("alice")
	bob := env.createUser("bob")

	edge, err := env.relService.SendRequest(alice.ID, bob.ID, "")
	assert.NoError(t, err)

	panel := NewNotificationDispatcher(env.notifRepo, env.relService, bob.ID)
	drawer := NewNotificationDispatcher(env.notifRepo, env.relService, bob.ID)
	panelSnap, _, _ := panel.Seed(0)
	drawer.Seed(0)
	notifID := panelSnap[0].ID

	// 第一个界面接受
	assert.NoError(t, panel.Act(notifID, true))

	// 第二个界面随后拒绝同一条申请：申请已不再待处理，按成功收敛
	assert.NoError(t, drawer.Act(notifID, false))

	// 先到者的结果生效
	got, _ := env.relRepo.GetByID(edge.ID)
	assert.Equal(t, model.RelationAccepted, got.Status)

	ok, _ := env.relService.IsFriend(alice.ID, bob.ID)
	assert.True(t, ok)

	// 申请方只收到一条 friend_accept，第二个界面的收敛不会再发
	var count int64
	env.db.Model(&model.Notification{}).
		Where("recipient_id = ? AND type = ?", alice.ID, model.NotifyFriendAccept).
		Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestDispatcherActRejectsNonEmbedded(t *testing.T) {
	env := setupSocialTestEnv(t)
	bob := env.createUser("bob")

	n := env.seedInfoNotification(bob.ID, "info", time.Now())

	d := NewNotificationDispatcher(env.notifRepo, env.relService, bob.ID)
	d.Seed(0)

	err := d.Act(n.ID, true)
	assert.ErrorIs(t, err, util.ErrNotEmbeddedAction)
}

func TestDispatcherActOtherUsersNotification(t *testing.T) {
	env := setupSocialTestEnv(t)
	alice := env.createUser("alice")
	bob := env.createUser("bob")
	carol := env.createUser("carol")

	_, err := env.relService.SendRequest(alice.ID, bob.ID, "")
	assert.NoError(t, err)
	notifs, _ := env.notifRepo.ListRecent(bob.ID, time.Time{}, 0)
	assert.Len(t, notifs, 1)

	// carol 不能操作发给 bob 的通知
	d := NewNotificationDispatcher(env.notifRepo, env.relService, carol.ID)
	err = d.Act(notifs[0].ID, true)
	assert.ErrorIs(t, err, util.ErrNotAuthorized)

	// 也不能把它标记为已读
	err = d.MarkRead(notifs[0].ID)
	assert.ErrorIs(t, err, util.ErrNotAuthorized)

	got, _ := env.notifRepo.GetByID(notifs[0].ID)
	assert.False(t, got.IsRead)

	count, _ := env.notifRepo.UnreadCount(bob.ID)
	assert.Equal(t, int64(1), count)
}
