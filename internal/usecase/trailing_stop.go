package usecase

import (
	"fmt"
	"math"
	"time"

	"github.com/vitos/option_trade_exit/internal/domain"
	"go.uber.org/zap"
)

type TrailTrigger string

const (
	TriggerNone                 TrailTrigger = ""
	TriggerDeltaStrengthening   TrailTrigger = "delta strengthening"
	TriggerMomentumAccelerating TrailTrigger = "momentum accelerating"
	TriggerMomentumDecelerating TrailTrigger = "momentum decelerating"
	TriggerGammaPeak            TrailTrigger = "gamma peak"
	TriggerEmergency            TrailTrigger = "emergency tighten"
	TriggerPartialRemainder     TrailTrigger = "partial exit remainder"
)

// TrailingConfig holds every threshold of the trailing stop engine.
// Distances are in premium points, profit thresholds in percent.
type TrailingConfig struct {
	ActivationProfitPct float64 `yaml:"activation_profit_pct"` // min profit % before arming
	BaseTrailDistance   float64 `yaml:"base_trail_distance"`   // points below/above current price
	GammaPeakThreshold  float64 `yaml:"gamma_peak_threshold"`  // gamma above this tightens the trail
	DeltaMomentumStep   float64 `yaml:"delta_momentum_step"`   // per-tick |delta| change treated as momentum
	EmergencyFactor     float64 `yaml:"emergency_factor"`      // distance multiplier on emergency tighten
	VolumeSpikeFloor    float64 `yaml:"volume_spike_floor"`    // absolute volume below which spikes are noise
}

func DefaultTrailingConfig() TrailingConfig {
	return TrailingConfig{
		ActivationProfitPct: 0.25,
		BaseTrailDistance:   3.0,
		GammaPeakThreshold:  0.015,
		DeltaMomentumStep:   0.05,
		EmergencyFactor:     0.5,
		VolumeSpikeFloor:    1000,
	}
}

func (c TrailingConfig) Validate() error {
	if c.BaseTrailDistance <= 0 {
		return fmt.Errorf("base_trail_distance must be positive, got %f", c.BaseTrailDistance)
	}
	if c.ActivationProfitPct < 0 {
		return fmt.Errorf("activation_profit_pct must not be negative, got %f", c.ActivationProfitPct)
	}
	if c.EmergencyFactor <= 0 || c.EmergencyFactor >= 1 {
		return fmt.Errorf("emergency_factor must be in (0,1), got %f", c.EmergencyFactor)
	}
	return nil
}

// TrailingSLState is the orchestrator-owned trailing stop state. Once
// IsActive, CurrentTrailSL only ever moves in the trade's favor.
type TrailingSLState struct {
	IsActive        bool         `json:"is_active"`
	ActivationPrice float64      `json:"activation_price"`
	CurrentTrailSL  float64      `json:"current_trail_sl"`
	TriggerReason   TrailTrigger `json:"trigger_reason"`
	TimesTightened  int          `json:"times_tightened"`
	MaxProfitLocked float64      `json:"max_profit_locked"`
	LastUpdated     time.Time    `json:"last_updated"`
}

type TrailingStopEngine struct {
	cfg    TrailingConfig
	logger *zap.Logger
}

func NewTrailingStopEngine(cfg TrailingConfig, logger *zap.Logger) *TrailingStopEngine {
	return &TrailingStopEngine{cfg: cfg, logger: logger}
}

// CheckActivation decides whether the trail should arm. It requires the
// configured minimum profit plus either strengthening delta or
// accelerating momentum.
func (e *TrailingStopEngine) CheckActivation(side domain.OptionSide, entryPrice, currentPrice, entryDelta, currentDelta float64) (bool, TrailTrigger) {
	if entryPrice == 0 {
		return false, TriggerNone
	}
	profitPct := domain.ProfitPct(side, entryPrice, currentPrice)
	if profitPct < e.cfg.ActivationProfitPct {
		return false, TriggerNone
	}

	absEntry := math.Abs(entryDelta)
	absCur := math.Abs(currentDelta)

	if absCur > absEntry && absCur > 0.6 {
		return true, TriggerDeltaStrengthening
	}
	if profitPct > 0.3 && absCur > 0.5 {
		return true, TriggerMomentumAccelerating
	}
	return false, TriggerNone
}

// Activate arms the trail at the level implied by the activation trigger.
func (e *TrailingStopEngine) Activate(state *TrailingSLState, side domain.OptionSide, entryPrice, currentPrice, gamma float64, trigger TrailTrigger, now time.Time) {
	level := e.levelFor(side, currentPrice, e.trailDistance(trigger, gamma))
	state.IsActive = true
	state.ActivationPrice = currentPrice
	state.CurrentTrailSL = level
	state.TriggerReason = trigger
	state.MaxProfitLocked = lockedProfit(side, entryPrice, level)
	state.LastUpdated = now

	e.logger.Info("trailing stop armed",
		zap.String("side", string(side)),
		zap.String("trigger", string(trigger)),
		zap.Float64("price", currentPrice),
		zap.Float64("trail_sl", level))
}

// Update recomputes the level for the current tick and applies it only if
// it tightens protection. An unfavorable level is discarded, not an error.
func (e *TrailingStopEngine) Update(state *TrailingSLState, side domain.OptionSide, entryPrice, currentPrice, gamma, prevDelta, currentDelta float64, now time.Time) bool {
	if !state.IsActive {
		return false
	}

	trigger := e.classifyTrigger(state.TriggerReason, gamma, prevDelta, currentDelta)
	level := e.levelFor(side, currentPrice, e.trailDistance(trigger, gamma))

	if !ratchetOK(side, level, state.CurrentTrailSL) {
		e.logger.Debug("trail update would move unfavorably, rejected",
			zap.Float64("proposed", level),
			zap.Float64("current", state.CurrentTrailSL))
		return false
	}

	state.CurrentTrailSL = level
	state.TriggerReason = trigger
	state.TimesTightened++
	state.LastUpdated = now
	if locked := lockedProfit(side, entryPrice, level); locked > state.MaxProfitLocked {
		state.MaxProfitLocked = locked
	}
	return true
}

// EmergencyInput holds the prior/current scalars the emergency checks read.
type EmergencyInput struct {
	PrevGamma  float64
	Gamma      float64
	PrevVolume float64
	Volume     float64
	Delta      float64
}

// EmergencyCheck reports whether market structure justifies forcing a
// tighter trail regardless of the normal recomputation.
func (e *TrailingStopEngine) EmergencyCheck(in EmergencyInput) (bool, string) {
	if in.PrevGamma > e.cfg.GammaPeakThreshold && in.Gamma < 0.005 {
		return true, fmt.Sprintf("gamma collapsed %.4f -> %.4f", in.PrevGamma, in.Gamma)
	}
	if in.PrevVolume > 0 && in.Volume > 2*in.PrevVolume && in.Volume > e.cfg.VolumeSpikeFloor {
		return true, fmt.Sprintf("volume spike %.0f -> %.0f", in.PrevVolume, in.Volume)
	}
	if math.Abs(in.Delta) < 0.3 {
		return true, fmt.Sprintf("delta weakened to %.2f", in.Delta)
	}
	return false, ""
}

// ForceTighten pulls the trail to half the base distance from the current
// price. The ratchet direction still applies.
func (e *TrailingStopEngine) ForceTighten(state *TrailingSLState, side domain.OptionSide, entryPrice, currentPrice float64, reason string, now time.Time) bool {
	if !state.IsActive {
		return false
	}
	level := e.levelFor(side, currentPrice, e.cfg.BaseTrailDistance*e.cfg.EmergencyFactor)
	if !ratchetOK(side, level, state.CurrentTrailSL) {
		return false
	}
	state.CurrentTrailSL = level
	state.TriggerReason = TriggerEmergency
	state.TimesTightened++
	state.LastUpdated = now
	if locked := lockedProfit(side, entryPrice, level); locked > state.MaxProfitLocked {
		state.MaxProfitLocked = locked
	}
	e.logger.Warn("emergency trail tighten", zap.String("reason", reason), zap.Float64("trail_sl", level))
	return true
}

// IsHit reports whether the current price has crossed the armed trail.
func (e *TrailingStopEngine) IsHit(state *TrailingSLState, side domain.OptionSide, currentPrice float64) bool {
	if !state.IsActive {
		return false
	}
	if side == domain.SidePut {
		return currentPrice >= state.CurrentTrailSL
	}
	return currentPrice <= state.CurrentTrailSL
}

func (e *TrailingStopEngine) classifyTrigger(prev TrailTrigger, gamma, prevDelta, currentDelta float64) TrailTrigger {
	if gamma > e.cfg.GammaPeakThreshold {
		return TriggerGammaPeak
	}
	absPrev := math.Abs(prevDelta)
	absCur := math.Abs(currentDelta)
	if absCur < absPrev-e.cfg.DeltaMomentumStep {
		return TriggerMomentumDecelerating
	}
	if absCur > absPrev+e.cfg.DeltaMomentumStep {
		return TriggerMomentumAccelerating
	}
	if prev == TriggerNone {
		return TriggerDeltaStrengthening
	}
	return prev
}

func (e *TrailingStopEngine) trailDistance(trigger TrailTrigger, gamma float64) float64 {
	d := e.cfg.BaseTrailDistance
	switch trigger {
	case TriggerGammaPeak:
		if gamma > e.cfg.GammaPeakThreshold {
			d *= 0.7
		}
	case TriggerMomentumDecelerating:
		d *= 0.6
	case TriggerMomentumAccelerating:
		d *= 1.2
	}
	return d
}

func (e *TrailingStopEngine) levelFor(side domain.OptionSide, price, distance float64) float64 {
	if side == domain.SidePut {
		return price + distance
	}
	return price - distance
}

// ratchetOK reports whether the proposed level tightens protection:
// strictly higher for a call, strictly lower for a put.
func ratchetOK(side domain.OptionSide, proposed, current float64) bool {
	if side == domain.SidePut {
		return proposed < current
	}
	return proposed > current
}

// lockedProfit is the per-unit profit guaranteed if the trail is hit.
func lockedProfit(side domain.OptionSide, entryPrice, trailSL float64) float64 {
	return domain.PointsPnL(side, entryPrice, trailSL)
}
