package repository

import (
	"edu_social_backend/internal/model"
	"edu_social_backend/internal/util"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupRelationshipTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		panic("failed to connect database")
	}
	err = db.AutoMigrate(&model.User{}, &model.RelationshipEdge{}, &model.Notification{})
	if err != nil {
		panic(err)
	}
	return db
}

func seedUsers(db *gorm.DB, names ...string) []model.User {
	users := make([]model.User, 0, len(names))
	for _, name := range names {
		u := model.User{
			Name:     name,
			Email:    name + "@example.com",
			Password: "secret",
		}
		db.Create(&u)
		users = append(users, u)
	}
	return users
}

func mustSetStatus(t *testing.T, repo *RelationshipRepository, edgeID string, recipientID uint, status model.RelationshipStatus) {
	t.Helper()
	_, err := repo.SetStatus(edgeID, recipientID, status)
	assert.NoError(t, err)
}

func TestCanonicalPairKeyOrderIndependent(t *testing.T) {
	assert.Equal(t, model.CanonicalPairKey(1, 2), model.CanonicalPairKey(2, 1))
	assert.NotEqual(t, model.CanonicalPairKey(1, 2), model.CanonicalPairKey(1, 3))
}

func TestCreateAndListPending(t *testing.T) {
	db := setupRelationshipTestDB(t)
	users := seedUsers(db, "u1", "u2")
	repo := NewRelationshipRepository(db, nil)

	edge := &model.RelationshipEdge{RequesterID: users[0].ID, RecipientID: users[1].ID}
	assert.NoError(t, repo.Create(edge))
	assert.NotEmpty(t, edge.ID)
	assert.Equal(t, model.RelationPending, edge.Status)

	incoming, err := repo.ListPending(users[1].ID, model.PendingIncoming)
	assert.NoError(t, err)
	assert.Len(t, incoming, 1)
	assert.Equal(t, edge.ID, incoming[0].ID)
	assert.Equal(t, users[0].ID, incoming[0].RequesterID)

	outgoing, err := repo.ListPending(users[0].ID, model.PendingOutgoing)
	assert.NoError(t, err)
	assert.Len(t, outgoing, 1)

	// 对方视角没有发出的申请
	none, err := repo.ListPending(users[1].ID, model.PendingOutgoing)
	assert.NoError(t, err)
	assert.Len(t, none, 0)
}

func TestCreateSelfRelation(t *testing.T) {
	db := setupRelationshipTestDB(t)
	users := seedUsers(db, "u1")
	repo := NewRelationshipRepository(db, nil)

	err := repo.Create(&model.RelationshipEdge{RequesterID: users[0].ID, RecipientID: users[0].ID})
	assert.ErrorIs(t, err, util.ErrSelfRelation)
}

func TestCreateDuplicateEitherDirection(t *testing.T) {
	db := setupRelationshipTestDB(t)
	users := seedUsers(db, "u1", "u2")
	repo := NewRelationshipRepository(db, nil)

	assert.NoError(t, repo.Create(&model.RelationshipEdge{RequesterID: users[0].ID, RecipientID: users[1].ID}))

	// 同方向重复
	err := repo.Create(&model.RelationshipEdge{RequesterID: users[0].ID, RecipientID: users[1].ID})
	assert.ErrorIs(t, err, util.ErrDuplicateRelationship)

	// 反方向重复：规范键方向无关
	err = repo.Create(&model.RelationshipEdge{RequesterID: users[1].ID, RecipientID: users[0].ID})
	assert.ErrorIs(t, err, util.ErrDuplicateRelationship)

	var count int64
	db.Model(&model.RelationshipEdge{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSetStatusRecipientOnly(t *testing.T) {
	db := setupRelationshipTestDB(t)
	users := seedUsers(db, "u1", "u2", "u3")
	repo := NewRelationshipRepository(db, nil)

	edge := &model.RelationshipEdge{RequesterID: users[0].ID, RecipientID: users[1].ID}
	assert.NoError(t, repo.Create(edge))

	// 申请者不能替接收者处理
	_, err := repo.SetStatus(edge.ID, users[0].ID, model.RelationAccepted)
	assert.ErrorIs(t, err, util.ErrNotAuthorized)

	// 无关用户同样不行
	_, err = repo.SetStatus(edge.ID, users[2].ID, model.RelationAccepted)
	assert.ErrorIs(t, err, util.ErrNotAuthorized)

	current, err := repo.GetByID(edge.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.RelationPending, current.Status)
}

func TestSetStatusTransitions(t *testing.T) {
	db := setupRelationshipTestDB(t)
	users := seedUsers(db, "u1", "u2")
	repo := NewRelationshipRepository(db, nil)

	edge := &model.RelationshipEdge{RequesterID: users[0].ID, RecipientID: users[1].ID}
	assert.NoError(t, repo.Create(edge))

	transitioned, err := repo.SetStatus(edge.ID, users[1].ID, model.RelationAccepted)
	assert.NoError(t, err)
	assert.True(t, transitioned)

	// 网络重试重放同一目标状态：幂等成功，但不再是一次新的流转
	transitioned, err = repo.SetStatus(edge.ID, users[1].ID, model.RelationAccepted)
	assert.NoError(t, err)
	assert.False(t, transitioned)

	// 终态之后不允许再流转
	_, err = repo.SetStatus(edge.ID, users[1].ID, model.RelationRejected)
	assert.ErrorIs(t, err, util.ErrInvalidTransition)

	current, _ := repo.GetByID(edge.ID)
	assert.Equal(t, model.RelationAccepted, current.Status)
}

func TestSetStatusNotFound(t *testing.T) {
	db := setupRelationshipTestDB(t)
	repo := NewRelationshipRepository(db, nil)

	_, err := repo.SetStatus("no-such-edge", 1, model.RelationAccepted)
	assert.ErrorIs(t, err, util.ErrRelationNotFound)
}

func TestListAcceptedSymmetricAndDeduped(t *testing.T) {
	db := setupRelationshipTestDB(t)
	users := seedUsers(db, "u1", "u2", "u3")
	repo := NewRelationshipRepository(db, nil)

	// u1 -> u2 接受，u3 -> u1 接受：u1 的好友集合来自两个方向
	e1 := &model.RelationshipEdge{RequesterID: users[0].ID, RecipientID: users[1].ID}
	assert.NoError(t, repo.Create(e1))
	mustSetStatus(t, repo, e1.ID, users[1].ID, model.RelationAccepted)

	e2 := &model.RelationshipEdge{RequesterID: users[2].ID, RecipientID: users[0].ID}
	assert.NoError(t, repo.Create(e2))
	mustSetStatus(t, repo, e2.ID, users[0].ID, model.RelationAccepted)

	ids, err := repo.ListAcceptedIDs(users[0].ID)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []uint{users[1].ID, users[2].ID}, ids)

	// 对称性：任一端看另一端都是好友
	ids2, err := repo.ListAcceptedIDs(users[1].ID)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []uint{users[0].ID}, ids2)

	ok, err := repo.IsFriend(users[1].ID, users[0].ID)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteUnfriendAllowsNewRequest(t *testing.T) {
	db := setupRelationshipTestDB(t)
	users := seedUsers(db, "u1", "u2")
	repo := NewRelationshipRepository(db, nil)

	edge := &model.RelationshipEdge{RequesterID: users[0].ID, RecipientID: users[1].ID}
	assert.NoError(t, repo.Create(edge))
	mustSetStatus(t, repo, edge.ID, users[1].ID, model.RelationAccepted)

	assert.NoError(t, repo.DeleteBetween(users[1].ID, users[0].ID))

	ids, _ := repo.ListAcceptedIDs(users[0].ID)
	assert.Empty(t, ids)

	// 解除之后可以重新发起申请
	assert.NoError(t, repo.Create(&model.RelationshipEdge{RequesterID: users[1].ID, RecipientID: users[0].ID}))
}

func TestDeleteRequiresParticipant(t *testing.T) {
	db := setupRelationshipTestDB(t)
	users := seedUsers(db, "u1", "u2", "u3")
	repo := NewRelationshipRepository(db, nil)

	edge := &model.RelationshipEdge{RequesterID: users[0].ID, RecipientID: users[1].ID}
	assert.NoError(t, repo.Create(edge))

	err := repo.Delete(edge.ID, users[2].ID)
	assert.ErrorIs(t, err, util.ErrNotAuthorized)

	assert.NoError(t, repo.Delete(edge.ID, users[0].ID))
	_, err = repo.GetByID(edge.ID)
	assert.ErrorIs(t, err, util.ErrRelationNotFound)
}

func TestRejectedEdgeDoesNotBlockNewRequest(t *testing.T) {
	db := setupRelationshipTestDB(t)
	users := seedUsers(db, "u1", "u2")
	repo := NewRelationshipRepository(db, nil)

	edge := &model.RelationshipEdge{RequesterID: users[0].ID, RecipientID: users[1].ID}
	assert.NoError(t, repo.Create(edge))
	mustSetStatus(t, repo, edge.ID, users[1].ID, model.RelationRejected)

	// 拒绝是终态，但不阻塞之后的新申请
	again := &model.RelationshipEdge{RequesterID: users[0].ID, RecipientID: users[1].ID}
	assert.NoError(t, repo.Create(again))
	assert.NotEqual(t, edge.ID, again.ID)

	// 旧的拒绝行已被清理
	_, err := repo.GetByID(edge.ID)
	assert.ErrorIs(t, err, util.ErrRelationNotFound)
}

func TestListPendingOldestFirst(t *testing.T) {
	db := setupRelationshipTestDB(t)
	users := seedUsers(db, "u1", "u2", "u3")
	repo := NewRelationshipRepository(db, nil)

	base := time.Now().Add(-time.Hour)

	older := &model.RelationshipEdge{RequesterID: users[1].ID, RecipientID: users[0].ID}
	older.CreatedAt = base
	assert.NoError(t, repo.Create(older))

	newer := &model.RelationshipEdge{RequesterID: users[2].ID, RecipientID: users[0].ID}
	newer.CreatedAt = base.Add(10 * time.Minute)
	assert.NoError(t, repo.Create(newer))

	incoming, err := repo.ListPending(users[0].ID, model.PendingIncoming)
	assert.NoError(t, err)
	assert.Len(t, incoming, 2)
	assert.Equal(t, older.ID, incoming[0].ID)
	assert.Equal(t, newer.ID, incoming[1].ID)
}

func TestCreateWithNotificationTransactional(t *testing.T) {
	db := setupRelationshipTestDB(t)
	users := seedUsers(db, "u1", "u2")
	repo := NewRelationshipRepository(db, nil)

	edge := &model.RelationshipEdge{RequesterID: users[0].ID, RecipientID: users[1].ID, Message: "hi"}
	notif := &model.Notification{Title: "新的好友申请", Message: "hi"}
	assert.NoError(t, repo.CreateWithNotification(edge, notif))

	assert.Equal(t, users[1].ID, notif.RecipientID)
	assert.Equal(t, model.NotifyFriendRequest, notif.Type)

	payload, err := model.DecodeFriendRequestPayload(notif.Payload)
	assert.NoError(t, err)
	assert.Equal(t, edge.ID, payload.RelationshipEdgeID)
	assert.Equal(t, users[0].ID, payload.RequesterID)
	assert.Equal(t, "u1", payload.RequesterName)

	// 重复申请时通知行也不会产生
	dup := &model.RelationshipEdge{RequesterID: users[1].ID, RecipientID: users[0].ID}
	err = repo.CreateWithNotification(dup, &model.Notification{Title: "新的好友申请"})
	assert.ErrorIs(t, err, util.ErrDuplicateRelationship)

	var count int64
	db.Model(&model.Notification{}).Count(&count)
	assert.Equal(t, int64(1), count)
}
