package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tradedash/internal/execution"
	"tradedash/internal/model"
	"tradedash/internal/pipeline"
)

type symbolRequest struct {
	Symbol string `json:"symbol" binding:"required,min=2,max=20,alphanum"`
}

type intervalRequest struct {
	Interval string `json:"interval" binding:"required"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type armRequest struct {
	Code string `json:"code" binding:"omitempty,numeric,len=6"`
}

type orderRequest struct {
	Symbol   string          `json:"symbol" binding:"omitempty,min=2,max=20,alphanum"`
	Side     string          `json:"side" binding:"required,oneof=BUY SELL buy sell"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(c *gin.Context) {
	if h.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": ServiceName})
		return
	}
	report, code := h.deps.Health.Report()
	c.JSON(code, report)
}

// GetSnapshot handles GET /api/v1/snapshot.
func (h *Handler) GetSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Control.Snapshot())
}

// SwitchSymbol handles POST /api/v1/symbol.
func (h *Handler) SwitchSymbol(c *gin.Context) {
	var req symbolRequest
	if !h.bind(c, &req) {
		return
	}
	h.control(c, func(ctx context.Context) error {
		return h.deps.Control.SwitchSymbol(ctx, req.Symbol)
	}, gin.H{"symbol": strings.ToUpper(req.Symbol)})
}

// SwitchInterval handles POST /api/v1/interval.
func (h *Handler) SwitchInterval(c *gin.Context) {
	var req intervalRequest
	if !h.bind(c, &req) {
		return
	}
	h.control(c, func(ctx context.Context) error {
		return h.deps.Control.SwitchInterval(ctx, req.Interval)
	}, gin.H{"interval": req.Interval})
}

// ToggleIndicator handles POST /api/v1/indicators/:name.
func (h *Handler) ToggleIndicator(c *gin.Context) {
	var req toggleRequest
	if !h.bind(c, &req) {
		return
	}
	name := c.Param("name")
	h.control(c, func(ctx context.Context) error {
		return h.deps.Control.ToggleIndicator(ctx, name, *req.Enabled)
	}, gin.H{"indicator": name, "enabled": *req.Enabled})
}

// TradingStatus handles GET /api/v1/trading.
func (h *Handler) TradingStatus(c *gin.Context) {
	resp := gin.H{
		"armed":         h.deps.Guard.Armed(),
		"requires_code": h.deps.Guard.RequiresCode(),
	}
	if h.deps.Risk != nil {
		resp["risk"] = h.deps.Risk.Status(time.Now())
	}
	c.JSON(http.StatusOK, resp)
}

// Arm handles POST /api/v1/trading/arm.
func (h *Handler) Arm(c *gin.Context) {
	var req armRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.deps.Guard.Arm(req.Code); err != nil {
		h.handleError(c, err, http.StatusForbidden, err.Error())
		return
	}
	log.Warn().Str("request_id", c.GetString(RequestIDContextKey)).Msg("trading armed")
	c.JSON(http.StatusOK, gin.H{"armed": true})
}

// Disarm handles POST /api/v1/trading/disarm.
func (h *Handler) Disarm(c *gin.Context) {
	h.deps.Guard.Disarm()
	c.JSON(http.StatusOK, gin.H{"armed": false})
}

// PlaceOrder handles POST /api/v1/orders. The symbol defaults to the one
// currently streamed.
func (h *Handler) PlaceOrder(c *gin.Context) {
	var req orderRequest
	if !h.bind(c, &req) {
		return
	}
	symbol := strings.ToUpper(req.Symbol)
	if symbol == "" {
		symbol = h.deps.Control.Snapshot().Symbol
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	res, err := h.deps.Trader.Submit(ctx, execution.OrderRequest{
		Symbol:   symbol,
		Side:     model.Side(strings.ToUpper(req.Side)),
		Quantity: req.Quantity,
	})
	if err != nil {
		c.Set("order", res)
		h.handleError(c, err, statusFor(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListOrders handles GET /api/v1/orders?limit=N.
func (h *Handler) ListOrders(c *gin.Context) {
	if h.deps.Orders == nil {
		h.handleError(c, errors.New("order journal disabled"), http.StatusServiceUnavailable, "order journal disabled")
		return
	}
	limit := DefaultOrderLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.handleError(c, errors.New("invalid limit"), http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxOrderLimit)
	}
	orders, err := h.deps.Orders.Recent(limit)
	if err != nil {
		h.handleError(c, err, http.StatusInternalServerError, "Internal server error")
		return
	}
	if orders == nil {
		orders = []execution.OrderRecord{}
	}
	c.JSON(http.StatusOK, orders)
}

// GetPnL handles GET /api/v1/pnl. Open positions are valued at the last
// streamed price.
func (h *Handler) GetPnL(c *gin.Context) {
	if h.deps.PnL == nil {
		h.handleError(c, errors.New("pnl tracking disabled"), http.StatusServiceUnavailable, "pnl tracking disabled")
		return
	}
	snap := h.deps.Control.Snapshot()
	c.JSON(http.StatusOK, h.deps.PnL.Summary(func(symbol string) (float64, bool) {
		return snap.LastPrice, symbol == snap.Symbol && snap.LastPrice > 0
	}))
}

func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.handleError(c, err, http.StatusBadRequest, "invalid request: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) control(c *gin.Context, fn func(ctx context.Context) error, ok gin.H) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		h.handleError(c, err, statusFor(err), err.Error())
		return
	}
	ok["status"] = "accepted"
	c.JSON(http.StatusAccepted, ok)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrTradingDisarmed):
		return http.StatusForbidden
	case errors.Is(err, model.ErrCredentialsMissing):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrRiskLimit), errors.Is(err, model.ErrOrderRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrUnknownSymbol), errors.Is(err, pipeline.ErrUnknownIndicator):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrAuthFailed), errors.Is(err, model.ErrExchange):
		return http.StatusBadGateway
	}
	// unsupported interval and other validation failures
	return http.StatusBadRequest
}

// handleError logs the error and sends the error response.
func (h *Handler) handleError(c *gin.Context, err error, statusCode int, userMessage string) {
	requestID := c.GetString(RequestIDContextKey)

	ev := log.Warn()
	if statusCode >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).
		Str("request_id", requestID).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status_code", statusCode).
		Msg("api error")

	body := gin.H{
		"error":      userMessage,
		"request_id": requestID,
	}
	if res, ok := c.Get("order"); ok {
		body["order"] = res
	}
	c.JSON(statusCode, body)
}
