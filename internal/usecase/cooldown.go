package usecase

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type CooldownPhase string

const (
	CooldownNeverStarted CooldownPhase = "NEVER_STARTED"
	CooldownActive       CooldownPhase = "ACTIVE"
	CooldownExpired      CooldownPhase = "EXPIRED"
)

type MarketCondition string

const (
	MarketNormal      MarketCondition = "normal"
	MarketHighVol     MarketCondition = "high_volatility"
	MarketStrongTrend MarketCondition = "strong_trend"
	MarketChoppy      MarketCondition = "choppy"
)

// CooldownConfig holds the post-exit no-entry durations in seconds.
type CooldownConfig struct {
	WinSeconds       int     `yaml:"win_seconds"`
	LossBaseSeconds  int     `yaml:"loss_base_seconds"`
	LossStepSeconds  int     `yaml:"loss_step_seconds"` // added per prior consecutive loss
	StressLossCount  int     `yaml:"stress_loss_count"` // streak length that triggers the stress brake
	StressSeconds    int     `yaml:"stress_seconds"`
	GreedWinCount    int     `yaml:"greed_win_count"` // win streak that triggers the greed check
	GreedSeconds     int     `yaml:"greed_seconds"`
	VolLowSeconds    int     `yaml:"vol_low_seconds"`  // volatility index below 20
	VolMidSeconds    int     `yaml:"vol_mid_seconds"`  // 20 to 25
	VolHighSeconds   int     `yaml:"vol_high_seconds"` // 25 and above
	VolHighThreshold float64 `yaml:"vol_high_threshold"`
}

func DefaultCooldownConfig() CooldownConfig {
	return CooldownConfig{
		WinSeconds:       15,
		LossBaseSeconds:  60,
		LossStepSeconds:  30,
		StressLossCount:  3,
		StressSeconds:    180,
		GreedWinCount:    5,
		GreedSeconds:     120,
		VolLowSeconds:    30,
		VolMidSeconds:    60,
		VolHighSeconds:   120,
		VolHighThreshold: 25,
	}
}

func (c CooldownConfig) Validate() error {
	if c.WinSeconds <= 0 || c.LossBaseSeconds <= 0 {
		return fmt.Errorf("cooldown seconds must be positive")
	}
	if c.LossStepSeconds < 0 {
		return fmt.Errorf("loss_step_seconds must not be negative, got %d", c.LossStepSeconds)
	}
	if c.StressLossCount < 2 {
		return fmt.Errorf("stress_loss_count must be at least 2, got %d", c.StressLossCount)
	}
	return nil
}

// CooldownState is created at every exit and read until it expires.
type CooldownState struct {
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Reason    string        `json:"reason"`
}

// CooldownEngine computes and tracks the post-exit no-new-entry period.
// Phase transitions are driven purely by wall-clock comparison.
type CooldownEngine struct {
	cfg    CooldownConfig
	logger *zap.Logger

	mu    sync.Mutex
	state *CooldownState
}

func NewCooldownEngine(cfg CooldownConfig, logger *zap.Logger) *CooldownEngine {
	return &CooldownEngine{cfg: cfg, logger: logger}
}

// ComputeDuration fuses the outcome, volatility and stress components and
// returns the longest with the reason that won. consecutiveLosses counts
// completed losses before this exit; a losing pnl extends the streak.
func (e *CooldownEngine) ComputeDuration(pnl, volatilityIndex float64, consecutiveLosses, consecutiveWins int) (time.Duration, string) {
	outcome := time.Duration(e.cfg.WinSeconds) * time.Second
	outcomeReason := "winning exit"
	if pnl <= 0 {
		secs := e.cfg.LossBaseSeconds + e.cfg.LossStepSeconds*consecutiveLosses
		outcome = time.Duration(secs) * time.Second
		outcomeReason = fmt.Sprintf("losing exit, %d prior consecutive losses", consecutiveLosses)
	}

	var vol time.Duration
	var volReason string
	switch {
	case volatilityIndex >= e.cfg.VolHighThreshold:
		vol = time.Duration(e.cfg.VolHighSeconds) * time.Second
		volReason = fmt.Sprintf("volatility index %.1f elevated", volatilityIndex)
	case volatilityIndex >= 20:
		vol = time.Duration(e.cfg.VolMidSeconds) * time.Second
		volReason = fmt.Sprintf("volatility index %.1f raised", volatilityIndex)
	default:
		vol = time.Duration(e.cfg.VolLowSeconds) * time.Second
		volReason = fmt.Sprintf("volatility index %.1f calm", volatilityIndex)
	}

	var stress time.Duration
	var stressReason string
	if consecutiveLosses >= e.cfg.StressLossCount {
		stress = time.Duration(e.cfg.StressSeconds) * time.Second
		stressReason = fmt.Sprintf("%d consecutive losses, stress brake", consecutiveLosses)
	} else if consecutiveWins > e.cfg.GreedWinCount {
		stress = time.Duration(e.cfg.GreedSeconds) * time.Second
		stressReason = fmt.Sprintf("%d consecutive wins, greed check", consecutiveWins)
	}

	d, reason := outcome, outcomeReason
	if vol > d {
		d, reason = vol, volReason
	}
	if stress > d {
		d, reason = stress, stressReason
	}
	return d, reason
}

// Arm starts a cooldown computed from the just-closed trade.
func (e *CooldownEngine) Arm(now time.Time, pnl, volatilityIndex float64, consecutiveLosses, consecutiveWins int) CooldownState {
	d, reason := e.ComputeDuration(pnl, volatilityIndex, consecutiveLosses, consecutiveWins)

	e.mu.Lock()
	e.state = &CooldownState{StartTime: now, Duration: d, Reason: reason}
	st := *e.state
	e.mu.Unlock()

	e.logger.Info("cooldown armed",
		zap.Duration("duration", d),
		zap.String("reason", reason))
	return st
}

// Phase reports the state machine position at the given time.
func (e *CooldownEngine) Phase(now time.Time) CooldownPhase {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return CooldownNeverStarted
	}
	if now.Before(e.state.StartTime.Add(e.state.Duration)) {
		return CooldownActive
	}
	return CooldownExpired
}

func (e *CooldownEngine) IsInCooldown(now time.Time) bool {
	return e.Phase(now) == CooldownActive
}

func (e *CooldownEngine) CanTradeNow(now time.Time) bool {
	return e.Phase(now) != CooldownActive
}

// State returns a copy of the current cooldown, if any.
func (e *CooldownEngine) State() (CooldownState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return CooldownState{}, false
	}
	return *e.state, true
}

// Reset forces the state machine back to NEVER_STARTED.
func (e *CooldownEngine) Reset() {
	e.mu.Lock()
	e.state = nil
	e.mu.Unlock()
	e.logger.Info("cooldown manually reset")
}

// ApplyMarketMultiplier scales a computed cooldown for the prevailing
// market condition. Callers apply it explicitly; it is never auto-combined.
func ApplyMarketMultiplier(d time.Duration, condition MarketCondition) time.Duration {
	switch condition {
	case MarketHighVol:
		return time.Duration(float64(d) * 1.5)
	case MarketStrongTrend:
		return time.Duration(float64(d) * 0.7)
	case MarketChoppy:
		return time.Duration(float64(d) * 1.8)
	default:
		return d
	}
}
