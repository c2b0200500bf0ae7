// Package api is the control REST surface of the dashboard backend: symbol,
// interval and indicator control, the trading guard and order entry.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tradedash/internal/execution"
	"tradedash/internal/metrics"
	"tradedash/internal/model"
	"tradedash/internal/pipeline"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultOrderLimit   = 50
	MaxOrderLimit       = 500
	ServiceName         = "tradedash"
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
)

// Controller drives the market data pipeline.
type Controller interface {
	SwitchSymbol(ctx context.Context, symbol string) error
	SwitchInterval(ctx context.Context, interval string) error
	ToggleIndicator(ctx context.Context, name string, on bool) error
	Snapshot() *pipeline.Snapshot
}

// OrderSubmitter places orders through the guard and risk checks.
type OrderSubmitter interface {
	Submit(ctx context.Context, req execution.OrderRequest) (model.OrderResult, error)
}

// TradingGuard gates order entry.
type TradingGuard interface {
	RequiresCode() bool
	Arm(code string) error
	Disarm()
	Armed() bool
}

// OrderHistory lists journaled orders.
type OrderHistory interface {
	Recent(limit int) ([]execution.OrderRecord, error)
}

// HealthReporter summarizes backend health.
type HealthReporter interface {
	Report() (metrics.HealthReport, int)
}

// RiskReporter exposes the current risk counters.
type RiskReporter interface {
	Status(now time.Time) map[string]any
}

// PnLReporter values open positions.
type PnLReporter interface {
	Summary(prices execution.PriceSource) execution.PnLSummary
}

// Deps are the handler dependencies. Orders, Risk, PnL and WS are optional.
type Deps struct {
	Control Controller
	Trader  OrderSubmitter
	Guard   TradingGuard
	Orders  OrderHistory
	Risk    RiskReporter
	PnL     PnLReporter
	Health  HealthReporter
	WS      http.HandlerFunc
}

// Handler serves the REST API with gin.
type Handler struct {
	deps Deps
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// SetupRoutes configures all API routes.
func (h *Handler) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	v1 := router.Group("/api/v1")
	v1.GET("/health", h.Health)
	v1.GET("/snapshot", h.GetSnapshot)
	v1.POST("/symbol", h.SwitchSymbol)
	v1.POST("/interval", h.SwitchInterval)
	v1.POST("/indicators/:name", h.ToggleIndicator)

	trading := v1.Group("/trading")
	trading.GET("", h.TradingStatus)
	trading.POST("/arm", h.Arm)
	trading.POST("/disarm", h.Disarm)

	v1.POST("/orders", h.PlaceOrder)
	v1.GET("/orders", h.ListOrders)
	v1.GET("/pnl", h.GetPnL)

	if h.deps.WS != nil {
		router.GET("/ws", gin.WrapF(h.deps.WS))
	}
	return router
}

// NewServer wraps the routes in an http.Server listening on addr.
func (h *Handler) NewServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h.SetupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
