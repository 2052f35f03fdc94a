package usecase

import (
	"fmt"
	"math"
	"time"

	"github.com/vitos/option_trade_exit/internal/domain"
	"go.uber.org/zap"
)

// PartialExitConfig holds the profit-booking thresholds.
type PartialExitConfig struct {
	MinProfitPct     float64 `yaml:"min_profit_pct"`     // gate for any partial exit
	ExitFraction     float64 `yaml:"exit_fraction"`      // share of quantity booked
	ImpulsePoints    float64 `yaml:"impulse_points"`     // abs move treated as first impulse done
	OutrightPct      float64 `yaml:"outright_pct"`       // profit % that fires on its own
	StrongDeltaStop  float64 `yaml:"strong_delta_stop"`  // remainder offset when |delta| strong
	WeakDeltaStop    float64 `yaml:"weak_delta_stop"`    // tighter offset when conviction fades
	StrongDeltaLevel float64 `yaml:"strong_delta_level"` // |delta| boundary between the two
}

func DefaultPartialExitConfig() PartialExitConfig {
	return PartialExitConfig{
		MinProfitPct:     0.5,
		ExitFraction:     0.6,
		ImpulsePoints:    2.0,
		OutrightPct:      1.0,
		StrongDeltaStop:  8.0,
		WeakDeltaStop:    5.0,
		StrongDeltaLevel: 0.6,
	}
}

func (c PartialExitConfig) Validate() error {
	if c.ExitFraction <= 0 || c.ExitFraction >= 1 {
		return fmt.Errorf("exit_fraction must be in (0,1), got %f", c.ExitFraction)
	}
	if c.MinProfitPct < 0 {
		return fmt.Errorf("min_profit_pct must not be negative, got %f", c.MinProfitPct)
	}
	if c.StrongDeltaStop <= 0 || c.WeakDeltaStop <= 0 {
		return fmt.Errorf("remainder stop offsets must be positive")
	}
	return nil
}

// PartialExitState records the single allowed profit-booking event.
// FirstExitTaken flips false->true at most once per trade.
type PartialExitState struct {
	FirstExitTaken    bool      `json:"first_exit_taken"`
	FirstExitQuantity int       `json:"first_exit_quantity"`
	FirstExitPrice    float64   `json:"first_exit_price"`
	FirstExitPnL      float64   `json:"first_exit_pnl"`
	RemainingQuantity int       `json:"remaining_quantity"`
	RemainingPnL      float64   `json:"remaining_pnl"`
	SignalReason      string    `json:"signal_reason"`
	Confidence        float64   `json:"confidence"`
	TakenAt           time.Time `json:"taken_at"`
}

// PartialExitInput is the per-tick evaluation context.
type PartialExitInput struct {
	Side         domain.OptionSide
	EntryPrice   float64
	CurrentPrice float64
	Delta        float64
	Gamma        float64
	PrevGamma    float64
	Volume       float64
	PrevVolume   float64
}

type PartialExitEngine struct {
	cfg    PartialExitConfig
	logger *zap.Logger
}

func NewPartialExitEngine(cfg PartialExitConfig, logger *zap.Logger) *PartialExitEngine {
	return &PartialExitEngine{cfg: cfg, logger: logger}
}

// Evaluate returns a PARTIAL_EXIT signal when the position qualifies for
// booking its first tranche. Fires only while FirstExitTaken is false.
func (e *PartialExitEngine) Evaluate(state *PartialExitState, in PartialExitInput) domain.ExitSignal {
	if state.FirstExitTaken {
		return domain.ExitSignal{}
	}

	profitPct := domain.ProfitPct(in.Side, in.EntryPrice, in.CurrentPrice)
	if profitPct < e.cfg.MinProfitPct {
		return domain.ExitSignal{}
	}

	var reason string
	switch {
	case in.PrevGamma > 0.01 && in.Gamma < 0.008:
		reason = fmt.Sprintf("gamma flattening %.4f -> %.4f", in.PrevGamma, in.Gamma)
	case math.Abs(in.CurrentPrice-in.EntryPrice) > e.cfg.ImpulsePoints && in.Gamma < 0.01:
		reason = fmt.Sprintf("first impulse done, move %.2f pts", math.Abs(in.CurrentPrice-in.EntryPrice))
	case in.PrevVolume > 0 && in.Volume < 0.5*in.PrevVolume:
		reason = fmt.Sprintf("volume drop %.0f -> %.0f", in.PrevVolume, in.Volume)
	case profitPct > e.cfg.OutrightPct:
		reason = fmt.Sprintf("profit %.2f%% above outright threshold", profitPct)
	default:
		return domain.ExitSignal{}
	}

	return domain.ExitSignal{
		Kind:       domain.SignalPartialExit,
		Confidence: 0.80,
		Reason:     reason,
		ShouldExit: true,
	}
}

// ExitQuantity sizes the first tranche: round(total * fraction), floor 1.
func (e *PartialExitEngine) ExitQuantity(totalQty int) int {
	qty := int(math.Round(float64(totalQty) * e.cfg.ExitFraction))
	if qty < 1 {
		qty = 1
	}
	if qty > totalQty {
		qty = totalQty
	}
	return qty
}

// RemainderStop returns the protective level for the quantity left running.
// Weak delta means fading conviction, so the offset tightens.
func (e *PartialExitEngine) RemainderStop(side domain.OptionSide, currentPrice, delta float64) float64 {
	offset := e.cfg.WeakDeltaStop
	if math.Abs(delta) > e.cfg.StrongDeltaLevel {
		offset = e.cfg.StrongDeltaStop
	}
	if side == domain.SidePut {
		return currentPrice + offset
	}
	return currentPrice - offset
}

// Commit records the executed tranche. A second call is a no-op.
func (e *PartialExitEngine) Commit(state *PartialExitState, side domain.OptionSide, entryPrice, exitPrice float64, exitQty, remainingQty int, reason string, confidence float64, now time.Time) {
	if state.FirstExitTaken {
		e.logger.Warn("partial exit already taken, ignoring second commit")
		return
	}
	state.FirstExitTaken = true
	state.FirstExitQuantity = exitQty
	state.FirstExitPrice = exitPrice
	state.FirstExitPnL = domain.PointsPnL(side, entryPrice, exitPrice) * float64(exitQty)
	state.RemainingQuantity = remainingQty
	state.SignalReason = reason
	state.Confidence = confidence
	state.TakenAt = now

	e.logger.Info("partial exit booked",
		zap.Int("exit_qty", exitQty),
		zap.Int("remaining_qty", remainingQty),
		zap.Float64("pnl", state.FirstExitPnL),
		zap.String("reason", reason))
}
