package router

import (
	"context"
	"errors"
	"net/http"
	"time"

	"order_ledger/internal/ledger"
	"order_ledger/internal/middleware"
	"order_ledger/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TransferLister 查询订单的出账流水。
type TransferLister interface {
	ListTransfers(ctx context.Context, orderID string) ([]model.Transfer, error)
}

// Deps 汇总路由依赖。
type Deps struct {
	Ledger    *ledger.Ledger
	Transfers TransferLister
	// Account 解析调用方身份；RateLimit 为空时不限流。
	Account   gin.HandlerFunc
	RateLimit gin.HandlerFunc
	// RequestTimeout 限制单次 pay/refund 的处理时间（含等锁），<=0 不限制。
	RequestTimeout time.Duration
	Log            *zap.Logger
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	limit := d.RateLimit
	if limit == nil {
		limit = func(c *gin.Context) { c.Next() }
	}

	api := r.Group("/api/orders")
	api.POST("/pay", d.Account, limit, payOrder(d.Ledger, d.RequestTimeout, d.Log))
	api.GET("/:order_id", getOrder(d.Ledger, d.Log))
	api.POST("/:order_id/refund", d.Account, limit, refundOrder(d.Ledger, d.RequestTimeout, d.Log))
	if d.Transfers != nil {
		api.GET("/:order_id/transfers", listTransfers(d.Transfers, d.Log))
	}
}

// payOrder 支付入口：金额用指针区分 "未传" 与 0。
func payOrder(l *ledger.Ledger, timeout time.Duration, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OrderID         string  `json:"order_id" binding:"required,max=128"`
			OrderAmount     *uint64 `json:"order_amount" binding:"required"`
			AttachedDeposit *uint64 `json:"attached_deposit" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		ctx, cancel := withTimeout(c.Request.Context(), timeout)
		defer cancel()

		change, err := l.PayOrder(ctx, ledger.PayRequest{
			OrderID:         req.OrderID,
			OrderAmount:     *req.OrderAmount,
			AttachedDeposit: *req.AttachedDeposit,
			PayerID:         middleware.AccountID(c),
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"order_id": req.OrderID,
				"change":   change,
			},
		})
	}
}

// getOrder 按 order_id 查询订单。
func getOrder(l *ledger.Ledger, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := l.GetOrder(c.Request.Context(), c.Param("order_id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": o})
	}
}

// refundOrder 退款给当前调用账户。
func refundOrder(l *ledger.Ledger, timeout time.Duration, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := withTimeout(c.Request.Context(), timeout)
		defer cancel()

		orderID := c.Param("order_id")
		ok, err := l.Refund(ctx, orderID, middleware.AccountID(c))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"order_id": orderID,
				"refunded": ok,
			},
		})
	}
}

// listTransfers 查询订单的出账流水（找零、退款）。
func listTransfers(tl TransferLister, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := tl.ListTransfers(c.Request.Context(), c.Param("order_id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// writeError 把账本错误映射为 HTTP 状态码；5xx 只返回通用提示，细节记录日志。
func writeError(c *gin.Context, log *zap.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrInvalidArgument), errors.Is(err, ledger.ErrInsufficientDeposit):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrRefundForbidden):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrAlreadyRefunded), errors.Is(err, ledger.ErrDuplicateOrder):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	msg := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		msg = "request timed out, please retry later"
	case status >= http.StatusInternalServerError:
		msg = "internal server error"
	}
	if status >= http.StatusInternalServerError {
		// 底层错误（SQL、Redis、Kafka）只进日志，不返回给调用方
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"code": status, "msg": msg})
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
