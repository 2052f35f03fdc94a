package usecase

import (
	"fmt"
	"time"

	"github.com/vitos/option_trade_exit/internal/domain"
	"go.uber.org/zap"
)

// TimeExitConfig defines the session liquidity boundaries that force an
// exit regardless of every other signal.
type TimeExitConfig struct {
	LunchStart      string `yaml:"lunch_start"`       // "HH:MM" local market time
	LunchGuardMins  int    `yaml:"lunch_guard_mins"`  // exit this many minutes before lunch
	CloseCutoff     string `yaml:"close_cutoff"`      // "HH:MM", at/after this everything exits
	ScalpMaxMinutes int    `yaml:"scalp_max_minutes"` // absolute cap for a scalp-style trade
}

func DefaultTimeExitConfig() TimeExitConfig {
	return TimeExitConfig{
		LunchStart:      "12:00",
		LunchGuardMins:  5,
		CloseCutoff:     "15:15",
		ScalpMaxMinutes: 20,
	}
}

func (c TimeExitConfig) Validate() error {
	if _, _, err := parseClock(c.LunchStart); err != nil {
		return fmt.Errorf("lunch_start: %w", err)
	}
	if _, _, err := parseClock(c.CloseCutoff); err != nil {
		return fmt.Errorf("close_cutoff: %w", err)
	}
	if c.ScalpMaxMinutes <= 0 {
		return fmt.Errorf("scalp_max_minutes must be positive, got %d", c.ScalpMaxMinutes)
	}
	return nil
}

// TimeExitEngine forces exits near session liquidity boundaries. Its
// signals carry the highest fixed confidence in arbitration.
type TimeExitEngine struct {
	cfg    TimeExitConfig
	logger *zap.Logger
}

func NewTimeExitEngine(cfg TimeExitConfig, logger *zap.Logger) *TimeExitEngine {
	return &TimeExitEngine{cfg: cfg, logger: logger}
}

// Check evaluates the three forced-exit conditions against the supplied
// wall-clock time.
func (e *TimeExitEngine) Check(entryTime, now time.Time) domain.ExitSignal {
	if cutoff := clockAt(now, e.cfg.CloseCutoff); !now.Before(cutoff) {
		return forced(fmt.Sprintf("market close approaching, past %s", e.cfg.CloseCutoff))
	}

	lunch := clockAt(now, e.cfg.LunchStart)
	guard := time.Duration(e.cfg.LunchGuardMins) * time.Minute
	if now.Before(lunch) && lunch.Sub(now) < guard {
		return forced(fmt.Sprintf("less than %d min to lunch session", e.cfg.LunchGuardMins))
	}

	if held := now.Sub(entryTime); held > time.Duration(e.cfg.ScalpMaxMinutes)*time.Minute {
		return forced(fmt.Sprintf("scalp held %s, cap %d min", held.Round(time.Second), e.cfg.ScalpMaxMinutes))
	}

	return domain.ExitSignal{}
}

func forced(reason string) domain.ExitSignal {
	return domain.ExitSignal{
		Kind:       domain.SignalTimeForced,
		Confidence: 0.99,
		Reason:     reason,
		ShouldExit: true,
	}
}

func parseClock(s string) (int, int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("clock %q out of range", s)
	}
	return h, m, nil
}

// clockAt pins an "HH:MM" wall time onto the date of the reference time.
func clockAt(ref time.Time, clock string) time.Time {
	h, m, err := parseClock(clock)
	if err != nil {
		// Validate() rejects bad config before the engine is built.
		return ref
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), h, m, 0, 0, ref.Location())
}
