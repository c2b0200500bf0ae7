package execution

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tradedash/internal/model"
)

// RiskLimits defines configurable risk management thresholds.
type RiskLimits struct {
	MaxOrderQty     decimal.Decimal `json:"max_order_qty"`      // per order, base asset units
	MaxOrdersPerDay int             `json:"max_orders_per_day"` // UTC day; 0 = unlimited
}

// RiskManager validates orders against RiskLimits and counts accepted
// orders per UTC day.
type RiskManager struct {
	mu     sync.Mutex
	limits RiskLimits

	day    string
	orders int
}

// NewRiskManager creates a RiskManager with the given limits.
func NewRiskManager(limits RiskLimits) *RiskManager {
	return &RiskManager{limits: limits}
}

// Check returns an ErrRiskLimit error if an order of qty placed at now
// would violate a limit.
func (rm *RiskManager) Check(qty decimal.Decimal, now time.Time) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.rollLocked(now)

	if rm.limits.MaxOrderQty.IsPositive() && qty.GreaterThan(rm.limits.MaxOrderQty) {
		return fmt.Errorf("quantity %s above max %s: %w", qty, rm.limits.MaxOrderQty, model.ErrRiskLimit)
	}
	if rm.limits.MaxOrdersPerDay > 0 && rm.orders >= rm.limits.MaxOrdersPerDay {
		return fmt.Errorf("daily order count %d reached: %w", rm.limits.MaxOrdersPerDay, model.ErrRiskLimit)
	}
	return nil
}

// Record counts an accepted order.
func (rm *RiskManager) Record(now time.Time) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.rollLocked(now)
	rm.orders++
	log.Debug().Int("orders_today", rm.orders).Int("max", rm.limits.MaxOrdersPerDay).Msg("risk order counted")
}

// Status returns current risk state.
func (rm *RiskManager) Status(now time.Time) map[string]any {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.rollLocked(now)
	return map[string]any{
		"orders_today": rm.orders,
		"limits":       rm.limits,
	}
}

func (rm *RiskManager) rollLocked(now time.Time) {
	day := now.UTC().Format(time.DateOnly)
	if day != rm.day {
		rm.day = day
		rm.orders = 0
	}
}
