package router

import (
	"github.com/wmjx/flare-stack-blog/internal/handlers"
	"github.com/wmjx/flare-stack-blog/internal/middleware"
	"github.com/wmjx/flare-stack-blog/internal/repository"
	"github.com/wmjx/flare-stack-blog/internal/services"

	"github.com/gin-gonic/gin"
)

type Deps struct {
	Users        repository.UserRepository
	Comments     *services.CommentService
	Auth         *services.AuthService
	Unsubscribes *services.UnsubscribeService
}

// RegisterRoutes 需要在 sessions 中间件之后调用
func RegisterRoutes(r *gin.Engine, deps Deps) {
	// Handlers
	commentHandler := handlers.NewCommentHandler(deps.Comments)
	adminHandler := handlers.NewAdminHandler(deps.Comments)
	authHandler := handlers.NewAuthHandler(deps.Auth)
	unsubscribeHandler := handlers.NewUnsubscribeHandler(deps.Unsubscribes)

	r.Use(middleware.LoadUser(deps.Users))

	// 退订链接 (Unsubscribe)
	r.GET("/unsubscribe", unsubscribeHandler.Unsubscribe)  // 点击邮件中的退订链接
	r.POST("/unsubscribe", unsubscribeHandler.Unsubscribe) // 一键退订

	api := r.Group("/api")

	// 公共路由 (Public Routes)
	api.GET("/posts/:id/comments", commentHandler.ListRoots)                   // 根评论列表
	api.GET("/posts/:id/comments/:rootId/replies", commentHandler.ListReplies) // 回复列表
	api.POST("/auth/login", authHandler.Login)                                 // 登录
	api.POST("/auth/logout", authHandler.Logout)                               // 退出登录

	// 受保护路由 (Protected Routes)
	authorized := api.Group("/")
	authorized.Use(middleware.AuthRequired())
	{
		authorized.GET("/auth/me", authHandler.Me)                    // 当前用户
		authorized.POST("/posts/:id/comments", commentHandler.Create) // 发表评论
		authorized.DELETE("/comments/:id", commentHandler.Delete)     // 删除自己的评论
		authorized.GET("/me/comments", commentHandler.ListMine)       // 我的评论
	}

	// 后台路由 (Admin Routes)
	admin := api.Group("/admin")
	admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
	{
		admin.GET("/comments", adminHandler.ListComments)             // 全部评论
		admin.GET("/comments/:id", adminHandler.GetComment)           // 评论详情
		admin.PATCH("/comments/:id/status", adminHandler.Moderate)    // 手动审核
		admin.DELETE("/comments/:id", adminHandler.DeleteComment)     // 物理删除
		admin.GET("/users/:id/comment-stats", adminHandler.UserStats) // 用户评论统计
	}
}
