package usage

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/yanqian/truthcard/pkg/errors"
	"github.com/yanqian/truthcard/pkg/util"
)

// CodeUploadLimitReached marks denied uploads.
const CodeUploadLimitReached = "upload_limit_reached"

// Config drives the free tier quota.
type Config struct {
	DailyLimit    int
	LockoutMonths int
	// ResetLockOnRollover clears an active lockout on the first attempt of a
	// new day. When false a lockout stays until LockoutEnd.
	ResetLockOnRollover bool
	Location            *time.Location
}

// Gate authorizes uploads against the per-device daily quota.
type Gate struct {
	cfg    Config
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewGate constructs a Gate.
func NewGate(cfg Config, store Store, logger *slog.Logger) *Gate {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = 3
	}
	return &Gate{
		cfg:    cfg,
		store:  store,
		now:    util.NowUTC,
		logger: logger.With("component", "usage.gate"),
	}
}

// Authorize consumes one upload for deviceID. Paid tiers never touch the
// record. A denied attempt returns the decision together with an
// upload_limit_reached error.
func (g *Gate) Authorize(ctx context.Context, deviceID string, tier Tier) (Decision, error) {
	if tier.Paid() {
		return Decision{Allowed: true, Tier: tier, Remaining: -1}, nil
	}
	key := strings.TrimSpace(deviceID)
	if key == "" {
		return Decision{}, apperrors.Wrap("invalid_input", "device id is required", nil)
	}

	now := g.now()
	var allowed bool
	record, err := g.store.Update(ctx, key, func(current Record, _ bool) (Record, error) {
		next := g.normalize(current, now)
		if next.Locked {
			allowed = false
			return next, nil
		}
		next.Count++
		if next.Count >= g.cfg.DailyLimit {
			next.Locked = true
			next.LockoutEnd = util.AddCalendarMonths(now, g.cfg.LockoutMonths)
			allowed = false
			return next, nil
		}
		allowed = true
		return next, nil
	})
	if err != nil {
		return Decision{}, apperrors.Wrap("storage_error", "failed to update usage", err)
	}

	decision := g.decision(record, tier, allowed)
	if !allowed {
		g.logger.Info("upload denied", "device_id", key, "count", record.Count, "lockout_end", record.LockoutEnd)
		return decision, apperrors.Wrap(CodeUploadLimitReached, limitMessage(record), nil)
	}
	return decision, nil
}

var errNothingToRefund = errors.New("nothing to refund")

// Refund hands back one upload consumed by Authorize today. A lock set by a
// later attempt is left alone.
func (g *Gate) Refund(ctx context.Context, deviceID string, tier Tier) error {
	if tier.Paid() {
		return nil
	}
	key := strings.TrimSpace(deviceID)
	if key == "" {
		return apperrors.Wrap("invalid_input", "device id is required", nil)
	}
	today := util.DayKey(g.now(), g.cfg.Location)
	_, err := g.store.Update(ctx, key, func(current Record, found bool) (Record, error) {
		if !found || current.Date != today || current.Count == 0 {
			return current, errNothingToRefund
		}
		current.Count--
		return current, nil
	})
	switch {
	case errors.Is(err, errNothingToRefund):
		return nil
	case err != nil:
		return apperrors.Wrap("storage_error", "failed to refund usage", err)
	}
	g.logger.Info("upload refunded", "device_id", key)
	return nil
}

// Status reports the quota without consuming an upload.
func (g *Gate) Status(ctx context.Context, deviceID string, tier Tier) (Decision, error) {
	if tier.Paid() {
		return Decision{Allowed: true, Tier: tier, Remaining: -1}, nil
	}
	record, _, err := g.store.Load(ctx, strings.TrimSpace(deviceID))
	if err != nil {
		return Decision{}, apperrors.Wrap("storage_error", "failed to load usage", err)
	}
	record = g.normalize(record, g.now())
	return g.decision(record, tier, !record.Locked), nil
}

// normalize applies day rollover and lock expiry to a stored record.
func (g *Gate) normalize(r Record, now time.Time) Record {
	today := util.DayKey(now, g.cfg.Location)
	if r.Date != today {
		lockActive := r.Locked && now.Before(r.LockoutEnd)
		r.Count = 0
		r.Date = today
		if g.cfg.ResetLockOnRollover || !lockActive {
			r.Locked = false
			r.LockoutEnd = time.Time{}
		}
		return r
	}
	if r.Locked && !now.Before(r.LockoutEnd) {
		r.Count = 0
		r.Locked = false
		r.LockoutEnd = time.Time{}
	}
	return r
}

func (g *Gate) decision(r Record, tier Tier, allowed bool) Decision {
	remaining := g.cfg.DailyLimit - 1 - r.Count
	if remaining < 0 || r.Locked {
		remaining = 0
	}
	return Decision{
		Allowed:    allowed,
		Tier:       tier,
		Count:      r.Count,
		Remaining:  remaining,
		Locked:     r.Locked,
		LockoutEnd: r.LockoutEnd,
		ResetsAt:   util.NextDayStart(g.now(), g.cfg.Location),
	}
}

func limitMessage(r Record) string {
	if r.LockoutEnd.IsZero() {
		return "daily upload limit reached, upgrade to keep roasting"
	}
	return "daily upload limit reached, upgrade to Pro or wait until " + r.LockoutEnd.Format(util.DateLayout)
}
