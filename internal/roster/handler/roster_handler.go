package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/service"
)

// RosterHandler 名册树的增删改
type RosterHandler struct {
	tree   *service.TreeService
	ledger *service.LedgerService
}

func NewRosterHandler(tree *service.TreeService, ledger *service.LedgerService) *RosterHandler {
	return &RosterHandler{tree: tree, ledger: ledger}
}

// Create POST /rosters
func (h *RosterHandler) Create(c *gin.Context) {
	var req service.CreateRosterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	r, err := h.tree.CreateRoster(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		ServiceError(c, "创建名册失败", err)
		return
	}
	Created(c, r)
}

// List GET /rosters
func (h *RosterHandler) List(c *gin.Context) {
	rosters, err := h.tree.ListRosters(c.Request.Context(), GetUserID(c))
	if err != nil {
		ServiceError(c, "获取名册列表失败", err)
		return
	}
	Success(c, gin.H{"items": rosters})
}

// Get GET /rosters/:id
func (h *RosterHandler) Get(c *gin.Context) {
	r, err := h.tree.GetRosterTree(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, "获取名册失败", err)
		return
	}
	Success(c, r)
}

// Commit POST /rosters/:id/commit
func (h *RosterHandler) Commit(c *gin.Context) {
	if err := h.tree.CommitRoster(c.Request.Context(), c.Param("id")); err != nil {
		ServiceError(c, "提交名册失败", err)
		return
	}
	Success(c, nil)
}

// Archive POST /rosters/:id/archive
func (h *RosterHandler) Archive(c *gin.Context) {
	if err := h.tree.ArchiveRoster(c.Request.Context(), c.Param("id")); err != nil {
		ServiceError(c, "归档名册失败", err)
		return
	}
	Success(c, nil)
}

// AdjustCurrency POST /rosters/:id/currency
func (h *RosterHandler) AdjustCurrency(c *gin.Context) {
	var req service.AdjustCurrencyInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	balance, err := h.tree.AdjustCurrency(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		ServiceError(c, "调整资金失败", err)
		return
	}
	Success(c, gin.H{"currency": balance})
}

// Ledger GET /rosters/:id/ledger
func (h *RosterHandler) Ledger(c *gin.Context) {
	page, pageSize := GetPagination(c)
	entries, total, err := h.ledger.List(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		ServiceError(c, "获取账本失败", err)
		return
	}
	Success(c, ListResponse{Items: entries, Pagination: newPagination(page, pageSize, total)})
}

// ========== Member ==========

// CreateMember POST /rosters/:id/members
func (h *RosterHandler) CreateMember(c *gin.Context) {
	var req service.CreateMemberInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	m, err := h.tree.CreateMember(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		ServiceError(c, "创建成员失败", err)
		return
	}
	Created(c, m)
}

// ArchiveMember POST /members/:id/archive
func (h *RosterHandler) ArchiveMember(c *gin.Context) {
	if err := h.tree.ArchiveMember(c.Request.Context(), c.Param("id")); err != nil {
		ServiceError(c, "归档成员失败", err)
		return
	}
	Success(c, nil)
}

// RestoreMember POST /members/:id/restore
func (h *RosterHandler) RestoreMember(c *gin.Context) {
	if err := h.tree.RestoreMember(c.Request.Context(), c.Param("id")); err != nil {
		ServiceError(c, "恢复成员失败", err)
		return
	}
	Success(c, nil)
}

// GrantXP POST /members/:id/xp
func (h *RosterHandler) GrantXP(c *gin.Context) {
	var req struct {
		XP int `json:"xp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if err := h.tree.GrantXP(c.Request.Context(), c.Param("id"), req.XP); err != nil {
		ServiceError(c, "增加经验失败", err)
		return
	}
	Success(c, nil)
}

// ApplyAdvancement POST /members/:id/advancements
func (h *RosterHandler) ApplyAdvancement(c *gin.Context) {
	var req service.AdvancementInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	adv, err := h.tree.ApplyAdvancement(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		ServiceError(c, "购买晋升失败", err)
		return
	}
	Created(c, adv)
}

// ReverseAdvancement DELETE /advancements/:id
func (h *RosterHandler) ReverseAdvancement(c *gin.Context) {
	if err := h.tree.ReverseAdvancement(c.Request.Context(), c.Param("id")); err != nil {
		ServiceError(c, "撤销晋升失败", err)
		return
	}
	Success(c, nil)
}

// ========== Line item ==========

// AttachLineItem POST /members/:id/line-items
func (h *RosterHandler) AttachLineItem(c *gin.Context) {
	var req service.AttachLineItemInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	item, err := h.tree.AttachLineItem(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		ServiceError(c, "挂载装备失败", err)
		return
	}
	Created(c, item)
}

// DetachLineItem DELETE /line-items/:id
func (h *RosterHandler) DetachLineItem(c *gin.Context) {
	if err := h.tree.DetachLineItem(c.Request.Context(), c.Param("id")); err != nil {
		ServiceError(c, "卸下装备失败", err)
		return
	}
	Success(c, nil)
}

// UpdateComposition PUT /line-items/:id/composition
func (h *RosterHandler) UpdateComposition(c *gin.Context) {
	var req service.CompositionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if err := h.tree.UpdateComposition(c.Request.Context(), c.Param("id"), &req); err != nil {
		ServiceError(c, "更新装备组合失败", err)
		return
	}
	Success(c, nil)
}

type overrideRequest struct {
	Field string `json:"field" binding:"required,oneof=cost total_cost"`
	Value *int   `json:"value"` // nil 清除覆盖
}

// SetLineItemOverride PUT /line-items/:id/override
func (h *RosterHandler) SetLineItemOverride(c *gin.Context) {
	h.setOverride(c, service.LineItemNode(c.Param("id")))
}

// SetMemberOverride PUT /members/:id/override，只支持 cost
func (h *RosterHandler) SetMemberOverride(c *gin.Context) {
	h.setOverride(c, service.MemberNode(c.Param("id")))
}

func (h *RosterHandler) setOverride(c *gin.Context, target service.NodeRef) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	err := h.tree.SetOverride(c.Request.Context(), &service.SetOverrideInput{Target: target, Field: req.Field, Value: req.Value})
	if err != nil {
		ServiceError(c, "设置手填价格失败", err)
		return
	}
	Success(c, nil)
}
