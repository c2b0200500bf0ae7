package execution

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"tradedash/internal/model"
)

// BalanceSource returns the account's asset balances.
type BalanceSource interface {
	Balances(ctx context.Context) ([]model.Balance, error)
}

// AccountPoller periodically refreshes balances on its own ticker,
// independent of the market-data pipeline.
type AccountPoller struct {
	src      BalanceSource
	pub      Publisher
	interval time.Duration
}

// NewAccountPoller creates a poller. interval defaults to 10s.
func NewAccountPoller(src BalanceSource, pub Publisher, interval time.Duration) *AccountPoller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &AccountPoller{src: src, pub: pub, interval: interval}
}

// Run polls until ctx is cancelled. Missing credentials are reported once
// and stop the poller; other errors are reported and polling continues.
func (p *AccountPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if stop := p.poll(ctx); stop {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *AccountPoller) poll(ctx context.Context) (stop bool) {
	balances, err := p.src.Balances(ctx)
	switch {
	case err == nil:
		p.publish(ctx, model.Event{Kind: model.KindAccount, Account: &model.AccountUpdate{Balances: balances}})
		return false
	case ctx.Err() != nil:
		return true
	case errors.Is(err, model.ErrCredentialsMissing):
		log.Warn().Msg("account polling disabled: credentials not configured")
		p.publish(ctx, model.Event{Kind: model.KindNotice, Notice: &model.Notice{
			Level:   model.NoticeError,
			Source:  "account",
			Message: "account and trading disabled: " + err.Error(),
		}})
		return true
	default:
		log.Warn().Err(err).Msg("account poll failed")
		p.publish(ctx, model.Event{Kind: model.KindNotice, Notice: &model.Notice{
			Level:       model.NoticeWarning,
			Source:      "account",
			Message:     err.Error(),
			Recoverable: true,
		}})
		return false
	}
}

func (p *AccountPoller) publish(ctx context.Context, ev model.Event) {
	if err := p.pub.Publish(ctx, ev); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("publish failed")
	}
}
