package service

import (
	"edu_social_backend/pkg/logger"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func init() {
	logger.Log = zap.NewNop()
}

func TestClientEnqueueAfterClose(t *testing.T) {
	c := &Client{Send: make(chan []byte, 1)}

	c.enqueue(WSMessage{Type: "UNREAD_COUNT", Data: 1})
	assert.Len(t, c.Send, 1)

	// 注销侧关闭之后，迟到的投递被丢弃而不是写入已关闭的通道
	c.closeSend()
	assert.NotPanics(t, func() {
		c.enqueue(WSMessage{Type: "NOTIFY_NEW", Data: nil})
	})

	// 注销和 Stop 先后触达同一个客户端：关闭只生效一次
	assert.NotPanics(t, func() {
		c.closeSend()
	})
}

func TestDropClientAfterStop(t *testing.T) {
	hub := NewNotifyHub(nil, nil, nil)
	hub.Stop()

	// Run 已退出，晚退出的连接注销不能卡住
	done := make(chan struct{})
	go func() {
		hub.dropClient(&Client{UserID: 1, Send: make(chan []byte, 1)})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dropClient blocked after hub stop")
	}
}
