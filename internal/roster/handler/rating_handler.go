package handler

import (
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/service"
)

// RatingHandler 评分查询、重算与导出
type RatingHandler struct {
	facts  *service.FactsService
	export *service.ExportService
}

func NewRatingHandler(facts *service.FactsService, export *service.ExportService) *RatingHandler {
	return &RatingHandler{facts: facts, export: export}
}

// GetRosterRating GET /rosters/:id/rating?fallback=true
func (h *RatingHandler) GetRosterRating(c *gin.Context) {
	view, err := h.facts.GetRosterRating(c.Request.Context(), c.Param("id"), allowFallback(c))
	if err != nil {
		ServiceError(c, "获取名册评分失败", err)
		return
	}
	Success(c, view)
}

// GetMemberRating GET /members/:id/rating
func (h *RatingHandler) GetMemberRating(c *gin.Context) {
	view, err := h.facts.GetMemberRating(c.Request.Context(), c.Param("id"), allowFallback(c))
	if err != nil {
		ServiceError(c, "获取成员评分失败", err)
		return
	}
	Success(c, view)
}

// GetLineItemRating GET /line-items/:id/rating
func (h *RatingHandler) GetLineItemRating(c *gin.Context) {
	view, err := h.facts.GetLineItemRating(c.Request.Context(), c.Param("id"), allowFallback(c))
	if err != nil {
		ServiceError(c, "获取行项评分失败", err)
		return
	}
	Success(c, view)
}

// Recompute POST /ratings/:kind/:id/recompute?persist=true
func (h *RatingHandler) Recompute(c *gin.Context) {
	kind := service.NodeKind(c.Param("kind"))
	switch kind {
	case service.NodeRoster, service.NodeMember, service.NodeLineItem:
	default:
		BadRequest(c, "参数错误: 未知节点类型 "+string(kind))
		return
	}
	persist, _ := strconv.ParseBool(c.Query("persist"))
	node := service.NodeRef{Kind: kind, ID: c.Param("id")}

	f, err := h.facts.Recompute(c.Request.Context(), node, persist)
	if err != nil {
		ServiceError(c, "重算失败", err)
		return
	}
	Success(c, gin.H{
		"node":         node,
		"rating":       f.Rating,
		"stash_rating": f.StashRating,
		"currency":     f.Currency,
		"wealth":       f.Wealth(),
		"persisted":    persist,
	})
}

// Breakdown GET /rosters/:id/breakdown
func (h *RatingHandler) Breakdown(c *gin.Context) {
	b, err := h.export.Breakdown(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, "获取成本明细失败", err)
		return
	}
	Success(c, b)
}

// Export GET /rosters/:id/export
func (h *RatingHandler) Export(c *gin.Context) {
	f, filename, err := h.export.ExportXLSX(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, "导出失败", err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(filename))
	if err := f.Write(c.Writer); err != nil {
		c.Error(err)
	}
}
