package conversation

import (
	"context"
	"errors"
	"time"

	"tablebook/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Notifier delivers sweeper replies to the user out of band.
type Notifier interface {
	Notify(ctx context.Context, tenantID, phone, text string) error
}

// LogNotifier only logs the message.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, tenantID, phone, text string) error {
	n.Logger.Info("conversation notification", zap.String("tenantID", tenantID), zap.String("phone", phone), zap.String("text", text))
	return nil
}

// SweepStats summarises one pass.
type SweepStats struct {
	Scanned  int
	TimedOut int
	Skipped  int
	Failed   int
}

// Sweeper times out conversations left waiting for a confirmation.
type Sweeper struct {
	Store    StateStore
	Machine  *Machine
	Notifier Notifier
	Logger   *zap.Logger
	Now      func() time.Time
	// Timeout is how long a CONFIRMING_ACTION state may stay untouched.
	Timeout time.Duration
	Limiter *rate.Limiter
}

func NewSweeper(store StateStore, machine *Machine, notifier Notifier, timeout time.Duration, ratePerSec float64, logger *zap.Logger, now func() time.Time) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &Sweeper{
		Store:    store,
		Machine:  machine,
		Notifier: notifier,
		Logger:   logger,
		Now:      now,
		Timeout:  timeout,
		Limiter:  rate.NewLimiter(limit, 1),
	}
}

// SweepOnce scans every stored conversation once.
func (w *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	err := w.Store.Scan(ctx, func(k Key) error {
		stats.Scanned++
		timedOut, err := w.expire(ctx, k)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Failed++
			w.Logger.Warn("sweep failed for conversation", zap.String("tenantID", k.TenantID), zap.String("phone", k.Phone), zap.Error(err))
		case timedOut:
			stats.TimedOut++
		default:
			stats.Skipped++
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return stats, err
	}
	w.Logger.Info("conversation sweep finished",
		zap.Int("scanned", stats.Scanned), zap.Int("timedOut", stats.TimedOut), zap.Int("failed", stats.Failed))
	return stats, err
}

func (w *Sweeper) expire(ctx context.Context, k Key) (bool, error) {
	state, err := w.Store.Get(ctx, k.TenantID, k.Phone)
	if err != nil || state == nil {
		return false, err
	}
	now := w.Now()
	if state.Flow != models.FlowConfirmingAction || now.Sub(state.UpdatedAt) <= w.Timeout {
		return false, nil
	}
	if err := w.Limiter.Wait(ctx); err != nil {
		return false, err
	}

	res := w.Machine.Reduce(*state, Event{Type: EventTimeout, At: now, TenantID: k.TenantID})
	res.State.Version = state.Version + 1
	cas, err := w.Store.SetCAS(ctx, k.TenantID, k.Phone, res.State, state.Version)
	if err != nil {
		return false, err
	}
	if cas != CASOK {
		// A live turn got there first; the next pass re-evaluates.
		return false, nil
	}
	for _, e := range res.Effects {
		if e.Type != EffectRespondText {
			continue
		}
		if err := w.Notifier.Notify(ctx, k.TenantID, k.Phone, Reply(e, nil)); err != nil {
			w.Logger.Warn("timeout notification failed", zap.String("tenantID", k.TenantID), zap.Error(err))
		}
	}
	return true, nil
}

// Run sweeps every interval until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				w.Logger.Error("conversation sweep failed", zap.Error(err))
			}
		}
	}
}
