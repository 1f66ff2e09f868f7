// File: internal/safety/safety.go

// Package safety enforces the hard limits around automated applications:
// volume caps, pacing between actions, failure cooldowns, the duplicate
// guard and the emergency stop file. The orchestration layer consults the
// Guard before starting a task and before every mutating action.
package safety

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dmage20/linkedin-job-agent/api/schemas"
	"github.com/dmage20/linkedin-job-agent/internal/config"
)

var (
	// ErrEmergencyStop means the operator's stop file exists. Nothing may run
	// until it is removed.
	ErrEmergencyStop = errors.New("emergency stop is active")
	// ErrCooldownActive means too many consecutive failures occurred recently.
	ErrCooldownActive = errors.New("failure cooldown is active")
	// ErrDuplicateApplication means this job was already applied to.
	ErrDuplicateApplication = errors.New("already applied to this job")
	// ErrHourlyLimit and ErrDailyLimit are the volume caps.
	ErrHourlyLimit = errors.New("hourly application limit reached")
	ErrDailyLimit  = errors.New("daily application limit reached")
)

// AuditStore is the persistence the Guard needs: volume counts, the
// duplicate check and the safety-event audit trail. A nil store disables the
// count-based checks (no-database mode); events are then only logged.
type AuditStore interface {
	CountApplicationsSince(ctx context.Context, since time.Time) (int, error)
	HasApplication(ctx context.Context, jobURL string) (bool, error)
	RecordSafetyEvent(ctx context.Context, ev schemas.SafetyEvent) error
}

// Guard is the safety checkpoint. One Guard serves one agent process; its
// failure/cooldown state is in-memory, the volume caps come from the store.
type Guard struct {
	cfg    config.SafetyConfig
	logger *zap.Logger
	store  AuditStore
	// limiter paces mutating driver actions to at most one per
	// MinActionDelay.
	limiter *rate.Limiter

	mu                  sync.Mutex
	consecutiveFailures int
	cooldownUntil       time.Time

	now func() time.Time
}

// NewGuard creates the safety checkpoint. store may be nil.
func NewGuard(cfg config.SafetyConfig, store AuditStore, logger *zap.Logger) (*Guard, error) {
	if logger == nil {
		return nil, fmt.Errorf("safety guard requires a logger")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("safety configuration invalid: %w", err)
	}
	limit := rate.Inf
	if cfg.MinActionDelay > 0 {
		limit = rate.Every(cfg.MinActionDelay)
	}
	return &Guard{
		cfg:     cfg,
		logger:  logger.Named("safety"),
		store:   store,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}, nil
}

// CheckBeforeApplication runs every gate that must pass before a new
// application task starts. The first failing gate wins; each refusal is
// recorded as a safety event.
func (g *Guard) CheckBeforeApplication(ctx context.Context, jobURL string) error {
	if g.EmergencyStopActive() {
		g.recordEvent(ctx, schemas.EventEmergencyStop, "critical",
			"refused to start: emergency stop file present", jobURL)
		return ErrEmergencyStop
	}

	g.mu.Lock()
	until := g.cooldownUntil
	g.mu.Unlock()
	if now := g.now(); now.Before(until) {
		return fmt.Errorf("%w until %s", ErrCooldownActive, until.Format(time.RFC3339))
	}

	if g.store == nil {
		return nil
	}

	dup, err := g.store.HasApplication(ctx, jobURL)
	if err != nil {
		return fmt.Errorf("duplicate check: %w", err)
	}
	if dup {
		g.recordEvent(ctx, schemas.EventDuplicateApplication, "low",
			"refused to start: application already exists", jobURL)
		return ErrDuplicateApplication
	}

	now := g.now()
	hourly, err := g.store.CountApplicationsSince(ctx, now.Add(-time.Hour))
	if err != nil {
		return fmt.Errorf("hourly volume check: %w", err)
	}
	if hourly >= g.cfg.ApplicationsPerHour {
		g.recordEvent(ctx, schemas.EventRateLimitHit, "medium",
			fmt.Sprintf("hourly cap reached (%d/%d)", hourly, g.cfg.ApplicationsPerHour), jobURL)
		return ErrHourlyLimit
	}
	daily, err := g.store.CountApplicationsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("daily volume check: %w", err)
	}
	if daily >= g.cfg.ApplicationsPerDay {
		g.recordEvent(ctx, schemas.EventRateLimitHit, "medium",
			fmt.Sprintf("daily cap reached (%d/%d)", daily, g.cfg.ApplicationsPerDay), jobURL)
		return ErrDailyLimit
	}
	return nil
}

// PaceAction blocks until the next mutating action is allowed, or the
// context is cancelled. Called before every mutating driver call.
func (g *Guard) PaceAction(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

// NoteFailure records one failed task. Reaching the consecutive-failure cap
// arms the cooldown and resets the counter.
func (g *Guard) NoteFailure(ctx context.Context, jobURL string) {
	g.mu.Lock()
	g.consecutiveFailures++
	tripped := g.consecutiveFailures >= g.cfg.MaxConsecutiveFailures
	if tripped {
		g.cooldownUntil = g.now().Add(g.cfg.FailureCooldown)
		g.consecutiveFailures = 0
	}
	g.mu.Unlock()

	if tripped {
		g.logger.Warn("Consecutive failure cap reached; entering cooldown.",
			zap.Duration("cooldown", g.cfg.FailureCooldown))
		g.recordEvent(ctx, schemas.EventFailureCooldown, "high",
			fmt.Sprintf("%d consecutive failures; cooling down for %s",
				g.cfg.MaxConsecutiveFailures, g.cfg.FailureCooldown), jobURL)
	}
}

// NoteSuccess resets the consecutive-failure counter.
func (g *Guard) NoteSuccess() {
	g.mu.Lock()
	g.consecutiveFailures = 0
	g.mu.Unlock()
}

// EmergencyStopActive reports whether the operator's stop file exists.
func (g *Guard) EmergencyStopActive() bool {
	if g.cfg.EmergencyStopFile == "" {
		return false
	}
	_, err := os.Stat(g.cfg.EmergencyStopFile)
	return err == nil
}

// ActivateEmergencyStop creates the stop file so every agent process on the
// machine refuses new work.
func (g *Guard) ActivateEmergencyStop(ctx context.Context) error {
	f, err := os.Create(g.cfg.EmergencyStopFile)
	if err != nil {
		return fmt.Errorf("create emergency stop file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	g.recordEvent(ctx, schemas.EventEmergencyStop, "critical", "emergency stop activated", "")
	return nil
}

// ClearEmergencyStop removes the stop file.
func (g *Guard) ClearEmergencyStop() error {
	err := os.Remove(g.cfg.EmergencyStopFile)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove emergency stop file: %w", err)
	}
	return nil
}

// recordEvent writes one audit record. Audit failures are logged, never
// propagated: refusing the action matters more than recording why.
func (g *Guard) recordEvent(ctx context.Context, typ schemas.SafetyEventType, severity, description, jobURL string) {
	g.logger.Warn("Safety event.",
		zap.String("type", string(typ)),
		zap.String("severity", severity),
		zap.String("description", description))
	if g.store == nil {
		return
	}
	ev := schemas.SafetyEvent{
		ID:          uuid.NewString(),
		Type:        typ,
		Severity:    severity,
		Description: description,
		JobURL:      jobURL,
		OccurredAt:  g.now().UTC(),
	}
	if err := g.store.RecordSafetyEvent(ctx, ev); err != nil {
		g.logger.Error("Failed to record safety event.", zap.Error(err))
	}
}
