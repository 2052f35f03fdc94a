package usecase

import (
	"fmt"
	"time"

	"github.com/vitos/option_trade_exit/internal/domain"
	"go.uber.org/zap"
)

// ThetaExitConfig holds the time-decay thresholds. Rates are theta change
// per minute; negative numbers mean decay is accelerating.
type ThetaExitConfig struct {
	AlertRatePerMin     float64 `yaml:"alert_rate_per_min"`
	ImmediateRatePerMin float64 `yaml:"immediate_rate_per_min"`
	MaxHoldingSeconds   int     `yaml:"max_holding_seconds"`
	IVCrushPct          float64 `yaml:"iv_crush_pct"` // relative IV drop, negative
}

func DefaultThetaExitConfig() ThetaExitConfig {
	return ThetaExitConfig{
		AlertRatePerMin:     -0.05,
		ImmediateRatePerMin: -0.08,
		MaxHoldingSeconds:   1200,
		IVCrushPct:          -0.10,
	}
}

func (c ThetaExitConfig) Validate() error {
	if c.AlertRatePerMin >= 0 || c.ImmediateRatePerMin >= 0 {
		return fmt.Errorf("theta rates must be negative")
	}
	if c.ImmediateRatePerMin > c.AlertRatePerMin {
		return fmt.Errorf("immediate_rate_per_min (%f) must be below alert_rate_per_min (%f)",
			c.ImmediateRatePerMin, c.AlertRatePerMin)
	}
	if c.MaxHoldingSeconds <= 0 {
		return fmt.Errorf("max_holding_seconds must be positive, got %d", c.MaxHoldingSeconds)
	}
	if c.IVCrushPct >= 0 {
		return fmt.Errorf("iv_crush_pct must be negative, got %f", c.IVCrushPct)
	}
	return nil
}

// ThetaInput is the per-evaluation context for the decay detectors.
type ThetaInput struct {
	ThetaNow  float64
	ThetaPrev float64
	Elapsed   time.Duration // since the previous theta observation
	IVEntry   float64
	IVNow     float64
	EntryTime time.Time
	Now       time.Time
}

type ThetaExitEngine struct {
	cfg    ThetaExitConfig
	logger *zap.Logger
}

func NewThetaExitEngine(cfg ThetaExitConfig, logger *zap.Logger) *ThetaExitEngine {
	return &ThetaExitEngine{cfg: cfg, logger: logger}
}

// CheckThetaAcceleration measures the theta decay rate per minute.
func (e *ThetaExitEngine) CheckThetaAcceleration(thetaNow, thetaPrev float64, elapsed time.Duration) domain.ExitSignal {
	minutes := elapsed.Minutes()
	if minutes <= 0 {
		return domain.ExitSignal{}
	}
	rate := (thetaNow - thetaPrev) / minutes

	switch {
	case rate < e.cfg.ImmediateRatePerMin:
		return domain.ExitSignal{
			Kind:       domain.SignalThetaBomb,
			Confidence: 0.95,
			Reason:     fmt.Sprintf("theta decay rate %.3f/min, immediate exit", rate),
			ShouldExit: true,
		}
	case rate < e.cfg.AlertRatePerMin:
		return domain.ExitSignal{
			Kind:       domain.SignalThetaBomb,
			Confidence: 0.90,
			Reason:     fmt.Sprintf("theta decay accelerating at %.3f/min", rate),
			ShouldExit: true,
		}
	}
	return domain.ExitSignal{}
}

// CheckTimeExceeded fires when holding time passes the hard cap. This
// signal is non-negotiable: its confidence always wins arbitration.
func (e *ThetaExitEngine) CheckTimeExceeded(entryTime, now time.Time) domain.ExitSignal {
	held := now.Sub(entryTime)
	max := time.Duration(e.cfg.MaxHoldingSeconds) * time.Second
	if held <= max {
		return domain.ExitSignal{}
	}
	return domain.ExitSignal{
		Kind:       domain.SignalThetaBomb,
		Confidence: 0.99,
		Reason:     fmt.Sprintf("holding time %s exceeded max %s", held.Round(time.Second), max),
		ShouldExit: true,
	}
}

// CheckIVCrush fires on a relative implied-volatility collapse from entry.
func (e *ThetaExitEngine) CheckIVCrush(ivEntry, ivNow float64) domain.ExitSignal {
	if ivEntry == 0 {
		return domain.ExitSignal{}
	}
	change := (ivNow - ivEntry) / ivEntry
	if change >= e.cfg.IVCrushPct {
		return domain.ExitSignal{}
	}
	return domain.ExitSignal{
		Kind:       domain.SignalThetaBomb,
		Confidence: 0.90,
		Reason:     fmt.Sprintf("IV crush %.1f%% from entry", change*100),
		ShouldExit: true,
	}
}

// Evaluate runs the three decay detectors and returns the strongest
// signal. Theta acceleration co-occurring with time-exceeded or IV-crush
// escalates confidence to 0.98; a time cap breach alone stays at 0.99.
func (e *ThetaExitEngine) Evaluate(in ThetaInput) domain.ExitSignal {
	theta := e.CheckThetaAcceleration(in.ThetaNow, in.ThetaPrev, in.Elapsed)
	timeUp := e.CheckTimeExceeded(in.EntryTime, in.Now)
	ivCrush := e.CheckIVCrush(in.IVEntry, in.IVNow)

	if timeUp.ShouldExit {
		if theta.ShouldExit {
			timeUp.Reason = timeUp.Reason + "; " + theta.Reason
		}
		return timeUp
	}

	if theta.ShouldExit && ivCrush.ShouldExit {
		return domain.ExitSignal{
			Kind:       domain.SignalThetaBomb,
			Confidence: 0.98,
			Reason:     theta.Reason + "; " + ivCrush.Reason,
			ShouldExit: true,
		}
	}
	if theta.ShouldExit {
		return theta
	}
	if ivCrush.ShouldExit {
		return ivCrush
	}
	return domain.ExitSignal{}
}
