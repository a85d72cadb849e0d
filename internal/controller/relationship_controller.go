package controller

import (
	"edu_social_backend/internal/model"
	"edu_social_backend/internal/service"
	"edu_social_backend/internal/util"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
)

// RelationshipController 好友关系相关的HTTP请求
type RelationshipController struct {
	RelService *service.RelationshipService
}

// SendRequestRequest 发送好友申请请求
type SendRequestRequest struct {
	ReceiverID uint   `json:"receiverId" binding:"required" example:"2"`
	Message    string `json:"message" example:"我是王小明"`
}

// RespondRequest 处理好友申请请求
type RespondRequest struct {
	Accept bool `json:"accept" example:"true"`
}

func NewRelationshipController(relService *service.RelationshipService) *RelationshipController {
	return &RelationshipController{RelService: relService}
}

// relationshipError 将策略性失败映射为简短、具体的用户可见结果
func relationshipError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrSelfRelation):
		util.BadRequest(c, err.Error())
	case errors.Is(err, util.ErrDuplicateRelationship):
		util.Conflict(c, err.Error())
	case errors.Is(err, util.ErrRelationNotFound):
		util.Error(c, 404, err.Error())
	case errors.Is(err, util.ErrNotAuthorized):
		util.Error(c, 403, err.Error())
	case errors.Is(err, util.ErrInvalidTransition):
		util.Conflict(c, err.Error())
	default:
		util.LogInternalError(c, err)
	}
}

// SendRequest godoc
// @Summary 发送好友申请
// @Description 向指定用户发起好友申请；对方已申请过自己时直接互相成为好友
// @Tags 好友
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   request body SendRequestRequest true "好友申请"
// @Success 200 {object} util.Response{data=model.RelationshipEdge} "成功"
// @Failure 409 {object} util.Response "已经是好友或申请待处理"
// @Router /api/friends/requests [post]
func (ctrl *RelationshipController) SendRequest(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	var req SendRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	edge, err := ctrl.RelService.SendRequest(claims.UserID, req.ReceiverID, req.Message)
	if err != nil {
		relationshipError(c, err)
		return
	}
	util.Success(c, edge)
}

// Respond godoc
// @Summary 处理好友申请
// @Description 接受或拒绝收到的好友申请；重复处理同一结果视为成功
// @Tags 好友
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "申请ID"
// @Param   request body RespondRequest true "处理结果"
// @Success 200 {object} util.Response "成功"
// @Failure 403 {object} util.Response "无权处理此申请"
// @Failure 409 {object} util.Response "申请已处理"
// @Router /api/friends/requests/{id}/respond [post]
func (ctrl *RelationshipController) Respond(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	if err := ctrl.RelService.Respond(c.Param("id"), claims.UserID, req.Accept); err != nil {
		relationshipError(c, err)
		return
	}
	util.Success(c, nil)
}

// ListRequests godoc
// @Summary 待处理申请列表
// @Description 收到的(incoming)或发出的(outgoing)待处理申请，按申请时间先后排序
// @Tags 好友
// @Produce  json
// @Security ApiKeyAuth
// @Param   direction query string false "incoming 或 outgoing，默认 incoming"
// @Success 200 {object} util.Response{data=[]model.RelationshipEdge} "成功"
// @Router /api/friends/requests [get]
func (ctrl *RelationshipController) ListRequests(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	direction := model.PendingIncoming
	if c.Query("direction") == string(model.PendingOutgoing) {
		direction = model.PendingOutgoing
	}

	edges, err := ctrl.RelService.PendingRequests(claims.UserID, direction)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, edges)
}

// Friends godoc
// @Summary 好友列表
// @Tags 好友
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.UserSummary} "成功"
// @Router /api/friends [get]
func (ctrl *RelationshipController) Friends(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	friends, err := ctrl.RelService.FriendsOf(claims.UserID)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, friends)
}

// RemoveFriend godoc
// @Summary 删除好友
// @Tags 好友
// @Produce  json
// @Security ApiKeyAuth
// @Param   friendId path int true "好友用户ID"
// @Success 200 {object} util.Response "成功"
// @Failure 404 {object} util.Response "好友关系不存在"
// @Router /api/friends/{friendId} [delete]
func (ctrl *RelationshipController) RemoveFriend(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	friendID, err := strconv.ParseUint(c.Param("friendId"), 10, 64)
	if err != nil {
		util.BadRequest(c, "invalid friend id")
		return
	}

	if err := ctrl.RelService.RemoveFriend(claims.UserID, uint(friendID)); err != nil {
		relationshipError(c, err)
		return
	}
	util.Success(c, nil)
}

// WithdrawRequest godoc
// @Summary 撤回好友申请
// @Description 按申请ID删除关系边，申请双方都可以操作
// @Tags 好友
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "申请ID"
// @Success 200 {object} util.Response "成功"
// @Router /api/friends/requests/{id} [delete]
func (ctrl *RelationshipController) WithdrawRequest(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	if err := ctrl.RelService.WithdrawRequest(c.Param("id"), claims.UserID); err != nil {
		relationshipError(c, err)
		return
	}
	util.Success(c, nil)
}

// Search godoc
// @Summary 搜索可添加的用户
// @Description 按昵称/邮箱模糊匹配，排除自己和现有好友
// @Tags 好友
// @Produce  json
// @Security ApiKeyAuth
// @Param   q query string true "搜索关键词"
// @Success 200 {object} util.Response{data=[]model.UserSummary} "成功"
// @Router /api/friends/search [get]
func (ctrl *RelationshipController) Search(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	query := c.Query("q")
	if query == "" {
		util.BadRequest(c, "missing query")
		return
	}

	users, err := ctrl.RelService.Search(claims.UserID, query)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, users)
}
