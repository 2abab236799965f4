package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/pricing"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/service"
)

// CatalogueHandler 目录价格维护（管理员）
type CatalogueHandler struct {
	svc   *service.CatalogueService
	facts *service.FactsService
}

func NewCatalogueHandler(svc *service.CatalogueService, facts *service.FactsService) *CatalogueHandler {
	return &CatalogueHandler{svc: svc, facts: facts}
}

// UpdateTemplatePrice PUT /catalogue/templates/:kind/:id/price
func (h *CatalogueHandler) UpdateTemplatePrice(c *gin.Context) {
	var req service.UpdatePriceInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	ref := pricing.Ref{Kind: pricing.Kind(c.Param("kind")), ID: c.Param("id")}
	result, err := h.svc.UpdateTemplatePrice(c.Request.Context(), ref, req.Price)
	if err != nil {
		ServiceError(c, "修改价格失败", err)
		return
	}
	Success(c, result)
}

// UpdateOverridePrice PUT /catalogue/overrides/:id/price
func (h *CatalogueHandler) UpdateOverridePrice(c *gin.Context) {
	var req service.UpdatePriceInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	result, err := h.svc.UpdateOverridePrice(c.Request.Context(), c.Param("id"), req.Price)
	if err != nil {
		ServiceError(c, "修改覆盖价失败", err)
		return
	}
	Success(c, result)
}

// CreateOverride POST /catalogue/overrides
func (h *CatalogueHandler) CreateOverride(c *gin.Context) {
	var req service.CreateOverrideInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, result, err := h.svc.CreateOverride(c.Request.Context(), &req)
	if err != nil {
		ServiceError(c, "创建覆盖价失败", err)
		return
	}
	Created(c, gin.H{"override": o, "reconcile": result})
}

// Repair POST /catalogue/repair?limit=100
// 先继续遗留的待结算记录，再重算脏名册（草稿名册等）
func (h *CatalogueHandler) Repair(c *gin.Context) {
	limit := 100
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	n, err := h.facts.RepairDirty(c.Request.Context(), limit)
	if err != nil {
		ServiceError(c, "修复失败", err)
		return
	}
	Success(c, gin.H{"repaired": n})
}
