package economy

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"concord.chat/internal/obs"
)

// Sweeper applies the interest policy to every account on a fixed interval.
type Sweeper struct {
	bank     *Bank
	policy   Policy
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// SweepReport totals one pass.
type SweepReport struct {
	Accounts int   `json:"accounts"`
	Charged  int   `json:"charged"`
	Interest int64 `json:"interest"`
	Fees     int64 `json:"fees"`
	Failed   int   `json:"failed"`
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

func WithInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithSweeperLogger(l *zap.Logger) SweeperOption { return func(s *Sweeper) { s.log = l } }

func WithSweeperClock(now func() time.Time) SweeperOption { return func(s *Sweeper) { s.now = now } }

// NewSweeper runs p over bank once a day unless WithInterval says otherwise.
func NewSweeper(bank *Bank, p Policy, opts ...SweeperOption) (*Sweeper, error) {
	if bank == nil {
		return nil, errors.New("economy: bank is required")
	}
	s := &Sweeper{
		bank:     bank,
		policy:   p,
		interval: day,
		log:      obs.Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SweepOnce applies the policy to every stored account. Per-account failures
// are counted and logged; listing failures abort the pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	now := s.now()
	guilds, err := s.bank.store.Guilds(ctx)
	if err != nil {
		obs.InterestSweeps.WithLabelValues("error").Inc()
		return rep, err
	}
	for _, g := range guilds {
		accts, err := s.bank.store.ListAccounts(ctx, g)
		if err != nil {
			obs.InterestSweeps.WithLabelValues("error").Inc()
			return rep, err
		}
		for _, a := range accts {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			rep.Accounts++
			ch, err := s.bank.applyInterest(ctx, a.GuildID, a.UserID, now, s.policy)
			if err != nil {
				rep.Failed++
				s.log.Warn("interest application failed",
					zap.String("guild_id", a.GuildID), zap.String("user_id", a.UserID), zap.Error(err))
				continue
			}
			if ch.Days > 0 {
				rep.Charged++
				rep.Interest += ch.Interest
				rep.Fees += ch.Fees
			}
		}
	}
	obs.InterestSweeps.WithLabelValues("ok").Inc()
	s.log.Info("interest sweep complete",
		zap.Int("accounts", rep.Accounts),
		zap.Int("charged", rep.Charged),
		zap.Int64("interest", rep.Interest),
		zap.Int64("fees", rep.Fees),
		zap.Int("failed", rep.Failed))
	return rep, nil
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("interest sweep failed", zap.Error(err))
			}
		}
	}
}
