package execution

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog/log"

	"tradedash/internal/model"
)

// Guard gates order placement. Trading starts disarmed; arming requires a
// valid TOTP passcode when a secret is configured.
type Guard struct {
	secret string
	armed  atomic.Bool
	now    func() time.Time
}

// NewGuard creates a disarmed guard. An empty secret disables the passcode
// check but still requires an explicit Arm.
func NewGuard(totpSecret string) *Guard {
	return &Guard{secret: totpSecret, now: time.Now}
}

// RequiresCode reports whether Arm checks a passcode.
func (g *Guard) RequiresCode() bool { return g.secret != "" }

// Arm enables trading if code is a currently valid passcode.
func (g *Guard) Arm(code string) error {
	if g.secret != "" {
		ok, err := totp.ValidateCustom(code, g.secret, g.now().UTC(), totp.ValidateOpts{
			Period: 30,
			Skew:   1,
			Digits: 6,
		})
		if err != nil || !ok {
			log.Warn().Msg("trading arm rejected: invalid passcode")
			return fmt.Errorf("invalid passcode: %w", model.ErrTradingDisarmed)
		}
	}
	g.armed.Store(true)
	log.Info().Msg("trading armed")
	return nil
}

// Disarm blocks further orders until the next Arm.
func (g *Guard) Disarm() {
	if g.armed.Swap(false) {
		log.Info().Msg("trading disarmed")
	}
}

// Armed reports whether orders may be placed.
func (g *Guard) Armed() bool { return g.armed.Load() }
