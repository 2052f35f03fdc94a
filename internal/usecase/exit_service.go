package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/option_trade_exit/internal/domain"
	"go.uber.org/zap"
)

type TradePhase string

const (
	PhaseIdle    TradePhase = "IDLE"
	PhaseActive  TradePhase = "ACTIVE"
	PhaseExiting TradePhase = "EXITING"
)

// ErrTradeActive is returned when initialization is attempted while a
// trade is still open.
var ErrTradeActive = errors.New("active trade already exists")

// OrchestratorConfig holds the arbitration settings.
type OrchestratorConfig struct {
	// MinExitConfidence is the floor a winning signal must exceed before
	// the orchestrator recommends exiting.
	MinExitConfidence float64 `yaml:"min_exit_confidence"`
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{MinExitConfidence: 0.70}
}

func (c OrchestratorConfig) Validate() error {
	if c.MinExitConfidence < 0 || c.MinExitConfidence >= 1 {
		return fmt.Errorf("min_exit_confidence must be in [0,1), got %f", c.MinExitConfidence)
	}
	return nil
}

// EntryParams is everything the entry engine hands over when a position
// is opened.
type EntryParams struct {
	Symbol          string
	Side            domain.OptionSide
	EntryPrice      float64
	EntryTime       time.Time
	Greeks          domain.Greeks
	CEOpenInterest  float64
	PEOpenInterest  float64
	BidQty          float64
	AskQty          float64
	Volume          float64
	Quantity        int
	PrevCandleClose float64
}

// EvalInput carries the per-evaluation scalars supplied by the strategy
// loop alongside the evaluation wall-clock time.
type EvalInput struct {
	ThetaPrev         float64
	TimeSinceUpdate   time.Duration
	VolatilityIndex   float64
	ConsecutiveLosses int
	ConsecutiveWins   int
	Now               time.Time
}

// TradeStatus is the read-only diagnostic snapshot served to dashboards.
type TradeStatus struct {
	HasActiveTrade bool              `json:"has_active_trade"`
	Phase          TradePhase        `json:"phase"`
	Symbol         string            `json:"symbol,omitempty"`
	Side           domain.OptionSide `json:"side,omitempty"`
	EntryPrice     float64           `json:"entry_price,omitempty"`
	CurrentPrice   float64           `json:"current_price,omitempty"`
	ProfitPct      float64           `json:"profit_pct,omitempty"`
	RemainingQty   int               `json:"remaining_qty,omitempty"`
	HoldingSeconds float64           `json:"holding_seconds,omitempty"`
	Trailing       TrailingSLState   `json:"trailing"`
	Partial        PartialExitState  `json:"partial"`
}

// ExitService owns the active-trade state and drives the per-tick exit
// decision. All entry points are serialized behind one mutex: several
// signal checks read and the winning action writes the same trade state
// within one evaluation.
type ExitService struct {
	cfg      OrchestratorConfig
	trailing *TrailingStopEngine
	partial  *PartialExitEngine
	theta    *ThetaExitEngine
	timeExit *TimeExitEngine
	cooldown *CooldownEngine
	detector domain.ReversalDetector
	journal  domain.TradeJournal
	executor *TradeExecutor
	logger   *zap.Logger

	mu           sync.Mutex
	phase        TradePhase
	entry        *domain.EntrySnapshot
	trade        *domain.ActiveTrade
	trailState   TrailingSLState
	partialState PartialExitState
	lastEval     EvalInput
	lastClosed   *domain.ClosedTradeRecord
}

func NewExitService(
	cfg OrchestratorConfig,
	trailing *TrailingStopEngine,
	partial *PartialExitEngine,
	theta *ThetaExitEngine,
	timeExit *TimeExitEngine,
	cooldown *CooldownEngine,
	detector domain.ReversalDetector,
	journal domain.TradeJournal,
	executor *TradeExecutor,
	logger *zap.Logger,
) *ExitService {
	return &ExitService{
		cfg:      cfg,
		trailing: trailing,
		partial:  partial,
		theta:    theta,
		timeExit: timeExit,
		cooldown: cooldown,
		detector: detector,
		journal:  journal,
		executor: executor,
		logger:   logger,
		phase:    PhaseIdle,
	}
}

// InitializeActiveTrade accepts a new position from the entry engine.
// Only IDLE accepts; re-initialization while a trade is open is rejected.
func (s *ExitService) InitializeActiveTrade(p EntryParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseIdle {
		return fmt.Errorf("initialize %s while %s: %w", p.Symbol, s.phase, ErrTradeActive)
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("invalid quantity %d for %s", p.Quantity, p.Symbol)
	}

	s.entry = &domain.EntrySnapshot{
		Symbol:          p.Symbol,
		Side:            p.Side,
		Price:           p.EntryPrice,
		Greeks:          p.Greeks,
		CEOpenInterest:  p.CEOpenInterest,
		PEOpenInterest:  p.PEOpenInterest,
		Volume:          p.Volume,
		BidQty:          p.BidQty,
		AskQty:          p.AskQty,
		Quantity:        p.Quantity,
		PrevCandleClose: p.PrevCandleClose,
		Time:            p.EntryTime,
	}
	s.trade = &domain.ActiveTrade{
		Symbol:         p.Symbol,
		Side:           p.Side,
		EntryPrice:     p.EntryPrice,
		EntryTime:      p.EntryTime,
		CurrentPrice:   p.EntryPrice,
		Greeks:         p.Greeks,
		PrevDelta:      p.Greeks.Delta,
		PrevGamma:      p.Greeks.Gamma,
		PrevVolume:     p.Volume,
		CEOpenInterest: p.CEOpenInterest,
		PEOpenInterest: p.PEOpenInterest,
		Volume:         p.Volume,
		RemainingQty:   p.Quantity,
		LastTickAt:     p.EntryTime,
	}
	s.trailState = TrailingSLState{}
	s.partialState = PartialExitState{RemainingQuantity: p.Quantity}
	s.phase = PhaseActive

	s.logger.Info("active trade initialized",
		zap.String("symbol", p.Symbol),
		zap.String("side", string(p.Side)),
		zap.Float64("entry_price", p.EntryPrice),
		zap.Int("quantity", p.Quantity))
	return nil
}

// UpdateMarketTick applies one validated chain update to the trade state
// and maintains the trailing stop. Returns false when no trade is open.
func (s *ExitService) UpdateMarketTick(t domain.MarketTick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseActive || s.trade == nil {
		s.logger.Debug("tick ignored, no active trade")
		return false
	}

	tr := s.trade
	if t.Symbol != "" && t.Symbol != tr.Symbol {
		s.logger.Debug("tick ignored, symbol mismatch",
			zap.String("tick", t.Symbol), zap.String("trade", tr.Symbol))
		return false
	}
	tr.PrevDelta = tr.Greeks.Delta
	tr.PrevGamma = tr.Greeks.Gamma
	tr.PrevVolume = tr.Volume
	tr.CurrentPrice = t.Price
	tr.Greeks = t.Greeks
	tr.CEOpenInterest = t.CEOpenInterest
	tr.PEOpenInterest = t.PEOpenInterest
	tr.Volume = t.Volume
	tr.LastTickAt = t.Time
	// A kill switch can close the trade before any evaluation pass has
	// run; the cooldown still needs a current volatility reading.
	if t.VolatilityIndex > 0 {
		s.lastEval.VolatilityIndex = t.VolatilityIndex
	}

	if !s.trailState.IsActive {
		if ok, trigger := s.trailing.CheckActivation(tr.Side, tr.EntryPrice, tr.CurrentPrice, s.entry.Greeks.Delta, tr.Greeks.Delta); ok {
			s.trailing.Activate(&s.trailState, tr.Side, tr.EntryPrice, tr.CurrentPrice, tr.Greeks.Gamma, trigger, t.Time)
		}
		return true
	}

	s.trailing.Update(&s.trailState, tr.Side, tr.EntryPrice, tr.CurrentPrice, tr.Greeks.Gamma, tr.PrevDelta, tr.Greeks.Delta, t.Time)

	if hit, reason := s.trailing.EmergencyCheck(EmergencyInput{
		PrevGamma:  tr.PrevGamma,
		Gamma:      tr.Greeks.Gamma,
		PrevVolume: tr.PrevVolume,
		Volume:     tr.Volume,
		Delta:      tr.Greeks.Delta,
	}); hit {
		s.trailing.ForceTighten(&s.trailState, tr.Side, tr.EntryPrice, tr.CurrentPrice, reason, t.Time)
	}
	return true
}

// CheckAllExitSignals runs every detector in fixed precedence order and
// arbitrates by confidence. It mutates nothing; the winning action is
// only applied by ExecuteExit.
func (s *ExitService) CheckAllExitSignals(in EvalInput) domain.ExitSignalSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseActive || s.trade == nil {
		return domain.ExitSignalSummary{Kind: domain.SignalNone, PrimaryReason: "no active trade"}
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	in.Now = now
	s.lastEval = in

	tr := s.trade
	var fired []domain.ExitSignal
	var secondary []string

	// 1. Time-forced. Checked first and unconditionally so that nothing
	// later in the chain can suppress a mandatory time-based exit.
	if sig := s.timeExit.Check(tr.EntryTime, now); sig.ShouldExit {
		fired = append(fired, sig)
	}

	// 2. Theta bomb.
	if sig := s.theta.Evaluate(ThetaInput{
		ThetaNow:  tr.Greeks.Theta,
		ThetaPrev: in.ThetaPrev,
		Elapsed:   in.TimeSinceUpdate,
		IVEntry:   s.entry.Greeks.IV,
		IVNow:     tr.Greeks.IV,
		EntryTime: tr.EntryTime,
		Now:       now,
	}); sig.ShouldExit {
		fired = append(fired, sig)
	}

	// 3, 4. Reversal and exhaustion come from a collaborator that may
	// fault; a fault is degraded to a diagnostic, never an exit veto.
	for _, probe := range []struct {
		name       string
		reversal   bool
		exhaustion bool
	}{
		{"reversal", true, false},
		{"exhaustion", false, true},
	} {
		sig, err := s.safeDetect(domain.ReversalInput{
			CEOpenInterest:  tr.CEOpenInterest,
			PEOpenInterest:  tr.PEOpenInterest,
			Price:           tr.CurrentPrice,
			Delta:           tr.Greeks.Delta,
			Gamma:           tr.Greeks.Gamma,
			Side:            tr.Side,
			CheckReversal:   probe.reversal,
			CheckExhaustion: probe.exhaustion,
		})
		if err != nil {
			secondary = append(secondary, fmt.Sprintf("%s detector fault: %v", probe.name, err))
			continue
		}
		if sig.ShouldExit {
			fired = append(fired, sig)
		}
	}

	// 5. Partial exit, only while the first tranche is untaken.
	if sig := s.partial.Evaluate(&s.partialState, PartialExitInput{
		Side:         tr.Side,
		EntryPrice:   tr.EntryPrice,
		CurrentPrice: tr.CurrentPrice,
		Delta:        tr.Greeks.Delta,
		Gamma:        tr.Greeks.Gamma,
		PrevGamma:    tr.PrevGamma,
		Volume:       tr.Volume,
		PrevVolume:   tr.PrevVolume,
	}); sig.ShouldExit {
		fired = append(fired, sig)
	}

	// 6. Trailing stop hit, only if armed.
	if s.trailing.IsHit(&s.trailState, tr.Side, tr.CurrentPrice) {
		fired = append(fired, domain.ExitSignal{
			Kind:       domain.SignalTrailingSL,
			Confidence: 0.85,
			Reason:     fmt.Sprintf("price %.2f crossed trail %.2f", tr.CurrentPrice, s.trailState.CurrentTrailSL),
			ShouldExit: true,
		})
	}

	// Defensive holding-time guard. Duplicates the hard cap locally so a
	// faulting sub-engine can never leave a stale position running.
	if !hasKind(fired, domain.SignalTimeForced) {
		if sig := s.theta.CheckTimeExceeded(tr.EntryTime, now); sig.ShouldExit {
			sig.Kind = domain.SignalTimeForced
			fired = append(fired, sig)
		}
	}

	summary := s.arbitrate(fired, secondary)
	if summary.ShouldExit {
		s.logger.Info("exit recommended",
			zap.String("signal", string(summary.Kind)),
			zap.Float64("confidence", summary.Confidence),
			zap.String("reason", summary.PrimaryReason))
	}
	return summary
}

// arbitrate picks the single highest-confidence signal. fired is already
// in precedence order, so a strict comparison makes the earliest-listed
// source win exact ties.
func (s *ExitService) arbitrate(fired []domain.ExitSignal, secondary []string) domain.ExitSignalSummary {
	if len(fired) == 0 {
		return domain.ExitSignalSummary{
			Kind:             domain.SignalNone,
			PrimaryReason:    "no exit signal",
			SecondaryReasons: secondary,
		}
	}

	winnerIdx := 0
	for i, sig := range fired[1:] {
		if sig.Confidence > fired[winnerIdx].Confidence {
			winnerIdx = i + 1
		}
	}
	winner := fired[winnerIdx]
	for i, sig := range fired {
		if i != winnerIdx {
			secondary = append(secondary, fmt.Sprintf("%s (%.2f): %s", sig.Kind, sig.Confidence, sig.Reason))
		}
	}

	if winner.Confidence <= s.cfg.MinExitConfidence {
		return domain.ExitSignalSummary{
			Kind:             domain.SignalNone,
			PrimaryReason:    fmt.Sprintf("best signal %s below confidence floor", winner.Kind),
			SecondaryReasons: append(secondary, fmt.Sprintf("%s (%.2f): %s", winner.Kind, winner.Confidence, winner.Reason)),
		}
	}

	return domain.ExitSignalSummary{
		Kind:             winner.Kind,
		Confidence:       winner.Confidence,
		PrimaryReason:    winner.Reason,
		SecondaryReasons: secondary,
		ShouldExit:       true,
	}
}

// safeDetect shields the orchestrator from a panicking collaborator.
func (s *ExitService) safeDetect(in domain.ReversalInput) (sig domain.ExitSignal, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig = domain.ExitSignal{}
			err = fmt.Errorf("detector panic: %v", r)
		}
	}()
	return s.detector.Detect(in)
}

// ExecuteExit carries out the chosen exit. A PARTIAL_EXIT signal books
// the first tranche and keeps the trade active; anything else closes the
// remaining quantity, journals the trade, arms the cooldown and returns
// the orchestrator to IDLE.
func (s *ExitService) ExecuteExit(ctx context.Context, exitPrice float64, now time.Time, signal domain.SignalKind, reason string, quantity int) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.trade == nil {
		return false, "no active trade"
	}
	tr := s.trade

	if signal == domain.SignalPartialExit && !s.partialState.FirstExitTaken {
		exitQty := s.partial.ExitQuantity(tr.RemainingQty)
		if exitQty < tr.RemainingQty {
			return s.executePartialLocked(ctx, exitPrice, now, reason, exitQty)
		}
		// A one-lot position has nothing to leave running; fall through
		// to a full close.
	}

	qty := quantity
	if qty <= 0 || qty > tr.RemainingQty {
		qty = tr.RemainingQty
	}

	s.phase = PhaseExiting
	if err := s.executor.ExitFull(ctx, tr.Symbol, qty, exitPrice); err != nil {
		s.phase = PhaseActive
		s.logger.Error("broker close failed", zap.Error(err))
		return false, fmt.Sprintf("broker close failed: %v", err)
	}

	exit := domain.ExitSnapshot{
		Price:          exitPrice,
		Greeks:         tr.Greeks,
		CEOpenInterest: tr.CEOpenInterest,
		PEOpenInterest: tr.PEOpenInterest,
		Time:           now,
	}

	pnl := domain.PointsPnL(tr.Side, tr.EntryPrice, exitPrice) * float64(qty)
	record, err := s.recordClosedTrade(ctx, exit, reason, qty)
	if err != nil {
		s.logger.Error("journal record failed", zap.Error(err))
	} else {
		pnl = record.RealizedPnL
		s.lastClosed = record
	}

	s.cooldown.Arm(now, pnl, s.lastEval.VolatilityIndex, s.lastEval.ConsecutiveLosses, s.lastEval.ConsecutiveWins)

	summary := fmt.Sprintf("exited %d x %s @ %.2f via %s (%s): pnl %.2f, held %s",
		qty, tr.Symbol, exitPrice, signal, reason, pnl, now.Sub(tr.EntryTime).Round(time.Second))

	s.trade = nil
	s.entry = nil
	s.trailState = TrailingSLState{}
	s.partialState = PartialExitState{}
	s.phase = PhaseIdle

	s.logger.Info("trade closed", zap.String("summary", summary))
	return true, summary
}

func (s *ExitService) executePartialLocked(ctx context.Context, exitPrice float64, now time.Time, reason string, exitQty int) (bool, string) {
	tr := s.trade
	if err := s.executor.ExitPartial(ctx, tr.Symbol, exitQty, exitPrice); err != nil {
		s.logger.Error("broker partial close failed", zap.Error(err))
		return false, fmt.Sprintf("broker partial close failed: %v", err)
	}

	remaining := tr.RemainingQty - exitQty
	s.partial.Commit(&s.partialState, tr.Side, tr.EntryPrice, exitPrice, exitQty, remaining, reason, 0.80, now)
	tr.RemainingQty = remaining

	// The remainder runs behind a tight protective level. If the trail is
	// already armed the level applies only when it tightens protection.
	stop := s.partial.RemainderStop(tr.Side, exitPrice, tr.Greeks.Delta)
	if !s.trailState.IsActive {
		s.trailState.IsActive = true
		s.trailState.ActivationPrice = exitPrice
		s.trailState.CurrentTrailSL = stop
		s.trailState.TriggerReason = TriggerPartialRemainder
		s.trailState.MaxProfitLocked = lockedProfit(tr.Side, tr.EntryPrice, stop)
		s.trailState.LastUpdated = now
	} else if ratchetOK(tr.Side, stop, s.trailState.CurrentTrailSL) {
		s.trailState.CurrentTrailSL = stop
		s.trailState.TriggerReason = TriggerPartialRemainder
		s.trailState.TimesTightened++
		s.trailState.LastUpdated = now
	}

	return true, fmt.Sprintf("partial exit %d x %s @ %.2f (%s): pnl %.2f, %d running behind %.2f",
		exitQty, tr.Symbol, exitPrice, reason, s.partialState.FirstExitPnL, remaining, s.trailState.CurrentTrailSL)
}

// recordClosedTrade shields the orchestrator from a panicking journal.
func (s *ExitService) recordClosedTrade(ctx context.Context, exit domain.ExitSnapshot, reason string, qty int) (record *domain.ClosedTradeRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			record = nil
			err = fmt.Errorf("journal panic: %v", r)
		}
	}()
	return s.journal.RecordClosedTrade(ctx, *s.entry, exit, reason, qty)
}

// ForceExit is the external kill switch: it closes the position at the
// last known price, bypassing normal arbitration.
func (s *ExitService) ForceExit(ctx context.Context, reason string) (bool, string) {
	s.mu.Lock()
	if s.trade == nil {
		s.mu.Unlock()
		return false, "no active trade"
	}
	price := s.trade.CurrentPrice
	s.mu.Unlock()

	return s.ExecuteExit(ctx, price, time.Now(), domain.SignalKillSwitch, reason, 0)
}

// ActiveTradeStatus returns the read-only diagnostic snapshot.
func (s *ExitService) ActiveTradeStatus() TradeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := TradeStatus{Phase: s.phase, Trailing: s.trailState, Partial: s.partialState}
	if s.trade == nil {
		return st
	}
	tr := s.trade
	st.HasActiveTrade = true
	st.Symbol = tr.Symbol
	st.Side = tr.Side
	st.EntryPrice = tr.EntryPrice
	st.CurrentPrice = tr.CurrentPrice
	st.ProfitPct = tr.ProfitPct()
	st.RemainingQty = tr.RemainingQty
	st.HoldingSeconds = time.Since(tr.EntryTime).Seconds()
	return st
}

// LastClosedTrade returns a copy of the most recent journal record.
func (s *ExitService) LastClosedTrade() *domain.ClosedTradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastClosed == nil {
		return nil
	}
	rec := *s.lastClosed
	return &rec
}

// CanTradeNow reports whether the post-exit cooldown permits a new entry.
func (s *ExitService) CanTradeNow(now time.Time) bool {
	return s.cooldown.CanTradeNow(now)
}

// CooldownStatus exposes the cooldown state machine for diagnostics.
func (s *ExitService) CooldownStatus(now time.Time) (CooldownState, CooldownPhase) {
	st, _ := s.cooldown.State()
	return st, s.cooldown.Phase(now)
}

// ResetCooldown forces the cooldown back to NEVER_STARTED.
func (s *ExitService) ResetCooldown() {
	s.cooldown.Reset()
}

// PrintSessionSummary delegates reporting to the journal.
func (s *ExitService) PrintSessionSummary(ctx context.Context) {
	sum, err := s.journal.SessionSummary(ctx)
	if err != nil {
		s.logger.Error("session summary failed", zap.Error(err))
		return
	}
	s.logger.Info("session summary",
		zap.Int("trades", sum.Trades),
		zap.Int("wins", sum.Wins),
		zap.Int("losses", sum.Losses),
		zap.Float64("net_pnl", sum.NetPnL),
		zap.Duration("avg_hold", sum.AvgHold))
}

func hasKind(signals []domain.ExitSignal, kind domain.SignalKind) bool {
	for _, sig := range signals {
		if sig.Kind == kind {
			return true
		}
	}
	return false
}
