package model

import (
	"fmt"
)

type RelationshipStatus string

const (
	RelationPending  RelationshipStatus = "pending"
	RelationAccepted RelationshipStatus = "accepted"
	RelationRejected RelationshipStatus = "rejected"
)

// RelationshipEdge 好友关系边：单条有向行记录谁发起了申请，
// 好友关系本身是无向的，读取时需要合并两个方向。
// PairKey 是两个用户ID的无序规范键，唯一索引保证同一对用户
// 在任一方向上最多只有一条 pending/accepted 边。
type RelationshipEdge struct {
	UUIDBase
	RequesterID uint               `gorm:"index;not null" json:"requesterId"`
	Requester   User               `gorm:"foreignKey:RequesterID;references:ID;constraint:false" json:"requester,omitempty"`
	RecipientID uint               `gorm:"index;not null" json:"recipientId"`
	Recipient   User               `gorm:"foreignKey:RecipientID;references:ID;constraint:false" json:"recipient,omitempty"`
	PairKey     string             `gorm:"size:32;uniqueIndex;not null" json:"-"`
	Status      RelationshipStatus `gorm:"size:16;default:'pending';index" json:"status"`
	Message     string             `gorm:"size:255" json:"message"`
}

func (RelationshipEdge) TableName() string {
	return "relationship_edges"
}

// CanonicalPairKey 两个用户ID的无序规范键，方向无关
func CanonicalPairKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// CounterpartOf 返回边上另一方的用户ID
func (e *RelationshipEdge) CounterpartOf(userID uint) uint {
	if e.RequesterID == userID {
		return e.RecipientID
	}
	return e.RequesterID
}

// PendingDirection listPending 的查询方向
type PendingDirection string

const (
	PendingIncoming PendingDirection = "incoming"
	PendingOutgoing PendingDirection = "outgoing"
)
