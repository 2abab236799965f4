package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/gyrinx-app/gyrinx-sub001/internal/middleware"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/service"
)

// PermCatalogueWrite 修改目录价格
const PermCatalogueWrite = "catalogue:write"

// ownerLookup 把服务层的所有者查询包装成中间件使用的 lookup，错误按 ServiceError 映射
func ownerLookup(find func(ctx context.Context, c *gin.Context) (string, error)) middleware.OwnerLookup {
	return func(c *gin.Context) (string, bool) {
		owner, err := find(c.Request.Context(), c)
		if err != nil {
			ServiceError(c, "获取资源失败", err)
			return "", false
		}
		return owner, true
	}
}

// ownsNode 路由 :id 指向 kind 类节点
func ownsNode(tree *service.TreeService, kind service.NodeKind) gin.HandlerFunc {
	return middleware.RequireOwner(ownerLookup(func(ctx context.Context, c *gin.Context) (string, error) {
		return tree.OwnerOf(ctx, service.NodeRef{Kind: kind, ID: c.Param("id")})
	}))
}

// Register 在已鉴权的分组上注册全部路由。名册树下的资源都只允许所有者或管理员访问
func (h *Handlers) Register(api *gin.RouterGroup) {
	tree := h.Roster.tree
	ownsRoster := ownsNode(tree, service.NodeRoster)
	ownsMember := ownsNode(tree, service.NodeMember)
	ownsItem := ownsNode(tree, service.NodeLineItem)
	ownsAdvancement := middleware.RequireOwner(ownerLookup(func(ctx context.Context, c *gin.Context) (string, error) {
		return tree.AdvancementOwner(ctx, c.Param("id"))
	}))
	ownsRatedNode := middleware.RequireOwner(ownerLookup(func(ctx context.Context, c *gin.Context) (string, error) {
		return tree.OwnerOf(ctx, service.NodeRef{Kind: service.NodeKind(c.Param("kind")), ID: c.Param("id")})
	}))

	rosters := api.Group("/rosters")
	{
		rosters.POST("", h.Roster.Create)
		rosters.GET("", h.Roster.List)
	}
	roster := rosters.Group("/:id", ownsRoster)
	{
		roster.GET("", h.Roster.Get)
		roster.POST("/commit", h.Roster.Commit)
		roster.POST("/archive", h.Roster.Archive)
		roster.POST("/currency", h.Roster.AdjustCurrency)
		roster.GET("/ledger", h.Roster.Ledger)
		roster.POST("/members", h.Roster.CreateMember)
		roster.GET("/rating", h.Rating.GetRosterRating)
		roster.GET("/breakdown", h.Rating.Breakdown)
		roster.GET("/export", h.Rating.Export)
	}

	members := api.Group("/members/:id", ownsMember)
	{
		members.GET("/rating", h.Rating.GetMemberRating)
		members.POST("/archive", h.Roster.ArchiveMember)
		members.POST("/restore", h.Roster.RestoreMember)
		members.POST("/xp", h.Roster.GrantXP)
		members.POST("/advancements", h.Roster.ApplyAdvancement)
		members.POST("/line-items", h.Roster.AttachLineItem)
		members.PUT("/override", h.Roster.SetMemberOverride)
	}

	items := api.Group("/line-items/:id", ownsItem)
	{
		items.GET("/rating", h.Rating.GetLineItemRating)
		items.PUT("/composition", h.Roster.UpdateComposition)
		items.PUT("/override", h.Roster.SetLineItemOverride)
		items.DELETE("", h.Roster.DetachLineItem)
	}

	api.DELETE("/advancements/:id", ownsAdvancement, h.Roster.ReverseAdvancement)
	api.POST("/ratings/:kind/:id/recompute", ownsRatedNode, h.Rating.Recompute)

	catalogue := api.Group("/catalogue", middleware.RequirePermission(PermCatalogueWrite))
	{
		catalogue.PUT("/templates/:kind/:id/price", h.Catalogue.UpdateTemplatePrice)
		catalogue.POST("/overrides", h.Catalogue.CreateOverride)
		catalogue.PUT("/overrides/:id/price", h.Catalogue.UpdateOverridePrice)
		// 修复遍历全部名册，只开放给管理员
		catalogue.POST("/repair", middleware.RequireRole(middleware.RoleAdmin), h.Catalogue.Repair)
	}

	api.GET("/sse/events", h.SSE.Stream)
}
