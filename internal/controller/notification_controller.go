package controller

import (
	"edu_social_backend/internal/model"
	"edu_social_backend/internal/service"
	"edu_social_backend/internal/util"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// NotificationController 通知相关的HTTP请求。
// 实时订阅走 /ws；其余接口供轮询端和不保持连接的界面使用。
type NotificationController struct {
	NotifService *service.NotificationService
	RelService   *service.RelationshipService
	Hub          *service.NotifyHub
}

// ActRequest 通知内嵌操作请求
type ActRequest struct {
	Accept bool `json:"accept" example:"true"`
}

// PublishRequest 发布通知请求（教师/管理员）
type PublishRequest struct {
	RecipientIDs []uint `json:"recipientIds" binding:"required" swaggertype:"array,number" example:"1,2,3"`
	Type         string `json:"type" binding:"required" example:"info"`
	Title        string `json:"title" binding:"required" example:"考试成绩已发布"`
	Message      string `json:"message" example:"点击查看详情"`
	Payload      string `json:"payload"`
}

func NewNotificationController(notifService *service.NotificationService, relService *service.RelationshipService, hub *service.NotifyHub) *NotificationController {
	return &NotificationController{
		NotifService: notifService,
		RelService:   relService,
		Hub:          hub,
	}
}

// HandleWS godoc
// @Summary WebSocket 通知订阅
// @Description 建立 WebSocket 连接：先收到 SNAPSHOT 和 UNREAD_COUNT，之后持续收到 NOTIFY_NEW
// @Tags 通知
// @Produce  json
// @Security ApiKeyAuth
// @Param   token query string true "JWT Token"
// @Success 101 {string} string "Switching Protocols"
// @Router /api/notifications/ws [get]
func (ctrl *NotificationController) HandleWS(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}
	service.ServeWs(ctrl.Hub, c.Writer, c.Request, claims.UserID)
}

// List godoc
// @Summary 最近通知列表
// @Description 新的在前；since 为毫秒时间戳，0 表示不限制
// @Tags 通知
// @Produce  json
// @Security ApiKeyAuth
// @Param   since query int false "毫秒时间戳"
// @Param   limit query int false "条数上限，默认50"
// @Success 200 {object} util.Response{data=[]model.Notification} "成功"
// @Router /api/notifications [get]
func (ctrl *NotificationController) List(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	var since time.Time
	if ms, err := strconv.ParseInt(c.Query("since"), 10, 64); err == nil && ms > 0 {
		since = time.UnixMilli(ms)
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	list, err := ctrl.NotifService.ListRecent(claims.UserID, since, limit)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, list)
}

// UnreadCount godoc
// @Summary 未读通知数
// @Tags 通知
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=int} "成功"
// @Router /api/notifications/unread_count [get]
func (ctrl *NotificationController) UnreadCount(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	count, err := ctrl.NotifService.UnreadCount(claims.UserID)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, count)
}

// MarkRead godoc
// @Summary 标记单条通知已读
// @Description 幂等：重复标记已读的通知也返回成功
// @Tags 通知
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "通知ID"
// @Success 200 {object} util.Response "成功"
// @Router /api/notifications/{id}/read [put]
func (ctrl *NotificationController) MarkRead(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	if err := ctrl.NotifService.MarkRead(c.Param("id"), claims.UserID); err != nil {
		switch {
		case errors.Is(err, util.ErrNotificationNotFound):
			util.NotFound(c)
		case errors.Is(err, util.ErrNotAuthorized):
			util.Forbidden(c)
		default:
			util.LogInternalError(c, err)
		}
		return
	}
	util.Success(c, nil)
}

// MarkAllRead godoc
// @Summary 全部标记已读
// @Description 幂等，多个界面并发调用安全
// @Tags 通知
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response "成功"
// @Router /api/notifications/read_all [put]
func (ctrl *NotificationController) MarkAllRead(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	if err := ctrl.NotifService.MarkAllRead(claims.UserID); err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, nil)
}

// Act godoc
// @Summary 通知内嵌操作
// @Description 在 friend_request 通知内直接接受/拒绝申请；
// @Description 申请已被其它界面处理时同样返回成功并标记通知已读
// @Tags 通知
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "通知ID"
// @Param   request body ActRequest true "操作"
// @Success 200 {object} util.Response "成功"
// @Router /api/notifications/{id}/act [post]
func (ctrl *NotificationController) Act(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	var req ActRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	// 无连接的界面走同一套内嵌操作逻辑，临时实例只回源存储
	dispatcher := service.NewNotificationDispatcher(ctrl.NotifService.NotifRepo, ctrl.RelService, claims.UserID)
	if err := dispatcher.Act(c.Param("id"), req.Accept); err != nil {
		switch {
		case errors.Is(err, util.ErrNotificationNotFound):
			util.NotFound(c)
		case errors.Is(err, util.ErrNotAuthorized):
			util.Forbidden(c)
		case errors.Is(err, util.ErrNotEmbeddedAction):
			util.BadRequest(c, err.Error())
		default:
			util.LogInternalError(c, err)
		}
		return
	}
	util.Success(c, nil)
}

// Publish godoc
// @Summary 发布通知
// @Description 教师/管理员向一批用户发布 info、exam_result 等通知
// @Tags 通知
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   request body PublishRequest true "通知内容"
// @Success 200 {object} util.Response{data=[]model.Notification} "成功"
// @Router /api/notifications/publish [post]
func (ctrl *NotificationController) Publish(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	ntype := model.NotificationType(req.Type)
	if ntype == model.NotifyFriendRequest {
		// friend_request 只能由申请流程产生
		util.BadRequest(c, "unsupported notification type")
		return
	}

	created, err := ctrl.NotifService.Publish(req.RecipientIDs, ntype, req.Title, req.Message, req.Payload)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, created)
}
