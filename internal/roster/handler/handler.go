package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gyrinx-app/gyrinx-sub001/internal/middleware"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/repository"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/service"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/sse"
)

// Handlers 处理器集合
type Handlers struct {
	Rating    *RatingHandler
	Roster    *RosterHandler
	Catalogue *CatalogueHandler
	SSE       *SSEHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, hub *sse.Hub) *Handlers {
	return &Handlers{
		Rating:    NewRatingHandler(svc.Facts, svc.Export),
		Roster:    NewRosterHandler(svc.Tree, svc.Ledger),
		Catalogue: NewCatalogueHandler(svc.Catalogue, svc.Facts),
		SSE:       NewSSEHandler(hub),
	}
}

// Response 通用响应结构
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

// ListResponse 列表响应结构
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func newPagination(page, pageSize int, total int64) *Pagination {
	pages := int(total) / pageSize
	if int(total)%pageSize != 0 {
		pages++
	}
	return &Pagination{Page: page, PageSize: pageSize, Total: int(total), TotalPages: pages}
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// Conflict 并发冲突，客户端可重试
func Conflict(c *gin.Context, message string) {
	c.JSON(409, Response{
		Code:      40900,
		Message:   message,
		Retryable: true,
	})
}

// Unprocessable 引用的目录数据不存在
func Unprocessable(c *gin.Context, message string) {
	Error(c, 42200, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// ServiceError 按错误类型映射响应码
func ServiceError(c *gin.Context, prefix string, err error) {
	msg := prefix + ": " + err.Error()
	switch {
	case errors.Is(err, repository.ErrNotFound):
		NotFound(c, msg)
	case errors.Is(err, service.ErrConcurrentModification):
		Conflict(c, msg)
	case errors.Is(err, service.ErrDanglingReference):
		Unprocessable(c, msg)
	case errors.Is(err, service.ErrNegativeBalanceRejected):
		Error(c, 40001, msg)
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrLinkDepthExceeded),
		errors.Is(err, service.ErrInsufficientXP),
		errors.Is(err, service.ErrRosterArchived):
		BadRequest(c, msg)
	default:
		InternalError(c, msg)
	}
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	return middleware.UserID(c)
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

// allowFallback ?fallback=true 时脏缓存按需重算
func allowFallback(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.Query("fallback"))
	return v
}
