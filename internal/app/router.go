package app

import (
	"edu_social_backend/internal/config"
	"edu_social_backend/internal/middleware"
	"edu_social_backend/internal/model"
	"edu_social_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}

	// 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg), middleware.ActivityMiddleware(repos.user))
	{
		authGroup.GET("/me", c.auth.Me)
		authGroup.GET("/users/:id", c.user.Profile)
		authGroup.POST("/users/avatar", c.user.UploadAvatar)

		// 好友关系
		friends := authGroup.Group("/friends")
		{
			friends.GET("", c.relationship.Friends)
			friends.DELETE("/:friendId", c.relationship.RemoveFriend)
			friends.GET("/search", c.relationship.Search)
			friends.POST("/requests", c.relationship.SendRequest)
			friends.GET("/requests", c.relationship.ListRequests)
			friends.POST("/requests/:id/respond", c.relationship.Respond)
			friends.DELETE("/requests/:id", c.relationship.WithdrawRequest)
		}

		// 通知
		notifications := authGroup.Group("/notifications")
		{
			notifications.GET("/ws", c.notification.HandleWS)
			notifications.GET("", c.notification.List)
			notifications.GET("/unread_count", c.notification.UnreadCount)
			notifications.PUT("/:id/read", c.notification.MarkRead)
			notifications.PUT("/read_all", c.notification.MarkAllRead)
			notifications.POST("/:id/act", c.notification.Act)

			// 教师/管理员发布通知
			notifications.POST("/publish",
				middleware.RoleMiddleware(model.Teacher, model.Admin),
				c.notification.Publish)
		}
	}
}
