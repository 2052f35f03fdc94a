package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/vitos/option_trade_exit/internal/domain"
	"github.com/vitos/option_trade_exit/internal/usecase"
	"go.uber.org/zap"
)

// MockJournal
type MockJournal struct {
	Records   []*domain.ClosedTradeRecord
	RecordErr error
}

func (m *MockJournal) RecordClosedTrade(ctx context.Context, entry domain.EntrySnapshot, exit domain.ExitSnapshot, reason string, quantity int) (*domain.ClosedTradeRecord, error) {
	if m.RecordErr != nil {
		return nil, m.RecordErr
	}
	rec := &domain.ClosedTradeRecord{
		ID:          fmt.Sprintf("trade-%d", len(m.Records)+1),
		Symbol:      entry.Symbol,
		Side:        entry.Side,
		Entry:       entry,
		Exit:        exit,
		ExitReason:  reason,
		Quantity:    quantity,
		RealizedPnL: domain.PointsPnL(entry.Side, entry.Price, exit.Price) * float64(quantity),
		Duration:    exit.Time.Sub(entry.Time),
		ClosedAt:    exit.Time,
	}
	m.Records = append(m.Records, rec)
	return rec, nil
}

func (m *MockJournal) ListClosedTrades(ctx context.Context, limit int) ([]*domain.ClosedTradeRecord, error) {
	return m.Records, nil
}

func (m *MockJournal) SessionSummary(ctx context.Context) (*domain.SessionSummary, error) {
	return &domain.SessionSummary{Trades: len(m.Records)}, nil
}

// MockBroker
type MockBroker struct {
	CloseCalled   int
	ReduceCalled  int
	LastCloseQty  int
	LastReduceQty int
	CloseErr      error
}

func (m *MockBroker) ClosePosition(ctx context.Context, symbol string, quantity int, price float64) error {
	if m.CloseErr != nil {
		return m.CloseErr
	}
	m.CloseCalled++
	m.LastCloseQty = quantity
	return nil
}

func (m *MockBroker) ReducePosition(ctx context.Context, symbol string, quantity int, price float64) error {
	m.ReduceCalled++
	m.LastReduceQty = quantity
	return nil
}

func newExitService(journal domain.TradeJournal, broker domain.OrderExecutor, orch usecase.OrchestratorConfig) *usecase.ExitService {
	log := zap.NewNop()
	return usecase.NewExitService(
		orch,
		usecase.NewTrailingStopEngine(usecase.DefaultTrailingConfig(), log),
		usecase.NewPartialExitEngine(usecase.DefaultPartialExitConfig(), log),
		usecase.NewThetaExitEngine(usecase.DefaultThetaExitConfig(), log),
		usecase.NewTimeExitEngine(usecase.DefaultTimeExitConfig(), log),
		usecase.NewCooldownEngine(usecase.DefaultCooldownConfig(), log),
		usecase.NewOIReversalDetector(usecase.DefaultOIReversalConfig(), log),
		journal,
		usecase.NewTradeExecutor(broker),
		log,
	)
}

func callEntry(entryTime time.Time) usecase.EntryParams {
	return usecase.EntryParams{
		Symbol:         "NIFTY24550CE",
		Side:           domain.SideCall,
		EntryPrice:     100,
		EntryTime:      entryTime,
		Greeks:         domain.Greeks{Delta: 0.4, Gamma: 0.01, Theta: -1, IV: 30},
		CEOpenInterest: 100000,
		PEOpenInterest: 100000,
		Volume:         1000,
		Quantity:       10,
	}
}

func tick(price, delta, gamma, volume float64, at time.Time) domain.MarketTick {
	return domain.MarketTick{
		Symbol:         "NIFTY24550CE",
		Price:          price,
		Greeks:         domain.Greeks{Delta: delta, Gamma: gamma, Theta: -1, IV: 30},
		CEOpenInterest: 100000,
		PEOpenInterest: 100000,
		Volume:         volume,
		Time:           at,
	}
}

func TestExitService_RejectsSecondTrade(t *testing.T) {
	svc := newExitService(&MockJournal{}, &MockBroker{}, usecase.DefaultOrchestratorConfig())

	if err := svc.InitializeActiveTrade(callEntry(day(10, 0))); err != nil {
		t.Fatalf("first init failed: %v", err)
	}
	err := svc.InitializeActiveTrade(callEntry(day(10, 1)))
	if !errors.Is(err, usecase.ErrTradeActive) {
		t.Fatalf("second init error = %v, want ErrTradeActive", err)
	}
}

func TestExitService_RejectsInvalidQuantity(t *testing.T) {
	svc := newExitService(&MockJournal{}, &MockBroker{}, usecase.DefaultOrchestratorConfig())

	p := callEntry(day(10, 0))
	p.Quantity = 0
	if err := svc.InitializeActiveTrade(p); err == nil {
		t.Fatal("zero quantity must be rejected")
	}
}

func TestExitService_TickIgnored(t *testing.T) {
	svc := newExitService(&MockJournal{}, &MockBroker{}, usecase.DefaultOrchestratorConfig())

	if svc.UpdateMarketTick(tick(100, 0.4, 0.01, 1000, day(10, 0))) {
		t.Error("tick with no active trade must be ignored")
	}

	if err := svc.InitializeActiveTrade(callEntry(day(10, 0))); err != nil {
		t.Fatal(err)
	}
	other := tick(100, 0.4, 0.01, 1000, day(10, 1))
	other.Symbol = "BANKNIFTY51000CE"
	if svc.UpdateMarketTick(other) {
		t.Error("tick for a different contract must be ignored")
	}
}

// A position held past the hard cap exits via the time signal even while
// the trailing stop is simultaneously hit.
func TestExitService_TimeCapBeatsTrailing(t *testing.T) {
	journal := &MockJournal{}
	broker := &MockBroker{}
	svc := newExitService(journal, broker, usecase.DefaultOrchestratorConfig())

	entryTime := day(10, 0).Add(-1250 * time.Second)
	if err := svc.InitializeActiveTrade(callEntry(entryTime)); err != nil {
		t.Fatal(err)
	}

	// Profit arms the trail, then a pullback crosses it.
	svc.UpdateMarketTick(tick(100.6, 0.65, 0.01, 1000, day(9, 50)))
	svc.UpdateMarketTick(tick(97.5, 0.65, 0.01, 1000, day(9, 55)))

	summary := svc.CheckAllExitSignals(usecase.EvalInput{
		ThetaPrev:       -1,
		TimeSinceUpdate: 30 * time.Second,
		VolatilityIndex: 15,
		Now:             day(10, 0),
	})
	if !summary.ShouldExit {
		t.Fatal("expected exit recommendation")
	}
	if summary.Kind != domain.SignalTimeForced {
		t.Fatalf("kind = %q, want %q", summary.Kind, domain.SignalTimeForced)
	}
	if summary.Confidence != 0.99 {
		t.Errorf("confidence = %f, want 0.99", summary.Confidence)
	}
	// The trailing hit survives as a secondary reason.
	found := false
	for _, r := range summary.SecondaryReasons {
		if strings.Contains(r, "trail") {
			found = true
		}
	}
	if !found {
		t.Errorf("secondary reasons %v should mention the trail hit", summary.SecondaryReasons)
	}

	ok, _ := svc.ExecuteExit(context.Background(), 97.5, day(10, 0), summary.Kind, summary.PrimaryReason, 0)
	if !ok {
		t.Fatal("exit execution failed")
	}
	if broker.CloseCalled != 1 || broker.LastCloseQty != 10 {
		t.Errorf("broker close: calls %d, qty %d, want 1/10", broker.CloseCalled, broker.LastCloseQty)
	}
	if len(journal.Records) != 1 {
		t.Fatalf("journal records = %d, want 1", len(journal.Records))
	}
	if svc.ActiveTradeStatus().HasActiveTrade {
		t.Error("trade should be cleared after exit")
	}

	// A losing exit arms a cooldown that blocks the next entry.
	if svc.CanTradeNow(day(10, 0)) {
		t.Error("cooldown should block trading right after a loss")
	}
	if !svc.CanTradeNow(day(10, 2)) {
		t.Error("cooldown should have expired two minutes later")
	}
	if err := svc.InitializeActiveTrade(callEntry(day(10, 2))); err != nil {
		t.Errorf("re-init after exit failed: %v", err)
	}
}

func TestExitService_ConfidenceFloor(t *testing.T) {
	svc := newExitService(&MockJournal{}, &MockBroker{}, usecase.OrchestratorConfig{MinExitConfidence: 0.75})

	p := callEntry(day(9, 55))
	p.Greeks = domain.Greeks{Delta: 0.8, Gamma: 0.004, Theta: -1, IV: 30}
	if err := svc.InitializeActiveTrade(p); err != nil {
		t.Fatal(err)
	}

	// Exhaustion fires at 0.72, below the raised floor.
	summary := svc.CheckAllExitSignals(usecase.EvalInput{
		ThetaPrev:       -1,
		TimeSinceUpdate: 30 * time.Second,
		VolatilityIndex: 15,
		Now:             day(10, 0),
	})
	if summary.ShouldExit {
		t.Fatalf("should not exit below the floor, got %q", summary.Kind)
	}
	if summary.Kind != domain.SignalNone {
		t.Errorf("kind = %q, want %q", summary.Kind, domain.SignalNone)
	}
	if !strings.Contains(summary.PrimaryReason, "below confidence floor") {
		t.Errorf("reason = %q, want confidence floor mention", summary.PrimaryReason)
	}
}

func TestExitService_DetectorFaultDegraded(t *testing.T) {
	svc := newExitService(&MockJournal{}, &MockBroker{}, usecase.DefaultOrchestratorConfig())

	// Zero open interest makes the detector error on every probe.
	p := callEntry(day(9, 55))
	p.CEOpenInterest = 0
	p.PEOpenInterest = 0
	if err := svc.InitializeActiveTrade(p); err != nil {
		t.Fatal(err)
	}

	summary := svc.CheckAllExitSignals(usecase.EvalInput{
		ThetaPrev:       -1,
		TimeSinceUpdate: 30 * time.Second,
		VolatilityIndex: 15,
		Now:             day(10, 0),
	})
	if summary.ShouldExit {
		t.Fatal("detector faults alone must not force an exit")
	}
	faults := 0
	for _, r := range summary.SecondaryReasons {
		if strings.Contains(r, "detector fault") {
			faults++
		}
	}
	if faults != 2 {
		t.Errorf("fault diagnostics = %d, want 2 (%v)", faults, summary.SecondaryReasons)
	}
}

// The holding-time cap must fire even while collaborators are faulting.
func TestExitService_TimeGuardSurvivesFaults(t *testing.T) {
	svc := newExitService(&MockJournal{}, &MockBroker{}, usecase.DefaultOrchestratorConfig())

	p := callEntry(day(10, 0).Add(-1250 * time.Second))
	p.CEOpenInterest = 0
	p.PEOpenInterest = 0
	if err := svc.InitializeActiveTrade(p); err != nil {
		t.Fatal(err)
	}

	summary := svc.CheckAllExitSignals(usecase.EvalInput{
		ThetaPrev:       -1,
		TimeSinceUpdate: 30 * time.Second,
		VolatilityIndex: 15,
		Now:             day(10, 0),
	})
	if !summary.ShouldExit || summary.Kind != domain.SignalTimeForced {
		t.Fatalf("got %q (exit=%v), want forced time exit", summary.Kind, summary.ShouldExit)
	}
}

func TestExitService_PartialExitFlow(t *testing.T) {
	journal := &MockJournal{}
	broker := &MockBroker{}
	svc := newExitService(journal, broker, usecase.DefaultOrchestratorConfig())

	p := callEntry(day(9, 55))
	p.Greeks = domain.Greeks{Delta: 0.5, Gamma: 0.009, Theta: -1, IV: 30}
	if err := svc.InitializeActiveTrade(p); err != nil {
		t.Fatal(err)
	}

	// Profit with collapsing volume qualifies the first tranche.
	svc.UpdateMarketTick(tick(101.2, 0.5, 0.009, 400, day(9, 59)))

	summary := svc.CheckAllExitSignals(usecase.EvalInput{
		ThetaPrev:       -1,
		TimeSinceUpdate: 30 * time.Second,
		VolatilityIndex: 15,
		Now:             day(10, 0),
	})
	if summary.Kind != domain.SignalPartialExit {
		t.Fatalf("kind = %q, want %q (%s)", summary.Kind, domain.SignalPartialExit, summary.PrimaryReason)
	}

	ok, _ := svc.ExecuteExit(context.Background(), 101.2, day(10, 0), summary.Kind, summary.PrimaryReason, 0)
	if !ok {
		t.Fatal("partial exit failed")
	}
	if broker.ReduceCalled != 1 || broker.LastReduceQty != 6 {
		t.Fatalf("broker reduce: calls %d, qty %d, want 1/6", broker.ReduceCalled, broker.LastReduceQty)
	}

	status := svc.ActiveTradeStatus()
	if !status.HasActiveTrade || status.RemainingQty != 4 {
		t.Fatalf("remainder: active=%v qty=%d, want active with 4", status.HasActiveTrade, status.RemainingQty)
	}
	if !status.Partial.FirstExitTaken {
		t.Error("partial state should record the taken tranche")
	}
	if !status.Trailing.IsActive || !closeTo(status.Trailing.CurrentTrailSL, 96.2) {
		t.Errorf("remainder trail = %+v, want active at 96.2", status.Trailing)
	}

	// The remainder stops out when the protective level is crossed.
	svc.UpdateMarketTick(tick(96.1, 0.5, 0.009, 400, day(10, 1)))
	summary = svc.CheckAllExitSignals(usecase.EvalInput{
		ThetaPrev:       -1,
		TimeSinceUpdate: 30 * time.Second,
		VolatilityIndex: 15,
		Now:             day(10, 2),
	})
	if summary.Kind != domain.SignalTrailingSL {
		t.Fatalf("kind = %q, want %q", summary.Kind, domain.SignalTrailingSL)
	}

	ok, _ = svc.ExecuteExit(context.Background(), 96.1, day(10, 2), summary.Kind, summary.PrimaryReason, 0)
	if !ok {
		t.Fatal("remainder exit failed")
	}
	if broker.CloseCalled != 1 || broker.LastCloseQty != 4 {
		t.Errorf("broker close: calls %d, qty %d, want 1/4", broker.CloseCalled, broker.LastCloseQty)
	}
	if len(journal.Records) != 1 {
		t.Fatalf("journal records = %d, want 1", len(journal.Records))
	}
	if !closeTo(journal.Records[0].RealizedPnL, -15.6) {
		t.Errorf("remainder pnl = %f, want -15.6", journal.Records[0].RealizedPnL)
	}
	if svc.ActiveTradeStatus().HasActiveTrade {
		t.Error("trade should be cleared after the remainder exits")
	}
}

func TestExitService_BrokerFailureKeepsTradeActive(t *testing.T) {
	journal := &MockJournal{}
	broker := &MockBroker{CloseErr: errors.New("venue rejected")}
	svc := newExitService(journal, broker, usecase.DefaultOrchestratorConfig())

	if err := svc.InitializeActiveTrade(callEntry(day(10, 0))); err != nil {
		t.Fatal(err)
	}

	ok, detail := svc.ExecuteExit(context.Background(), 99, day(10, 5), domain.SignalTrailingSL, "trail hit", 0)
	if ok {
		t.Fatal("exit should fail when the broker rejects")
	}
	if !strings.Contains(detail, "broker close failed") {
		t.Errorf("detail = %q, want broker failure", detail)
	}
	status := svc.ActiveTradeStatus()
	if !status.HasActiveTrade || status.Phase != usecase.PhaseActive {
		t.Fatalf("trade must stay active after broker failure, got phase %q", status.Phase)
	}
	if len(journal.Records) != 0 {
		t.Error("nothing should be journaled for a failed exit")
	}

	// Retry once the venue recovers.
	broker.CloseErr = nil
	if ok, _ := svc.ExecuteExit(context.Background(), 99, day(10, 6), domain.SignalTrailingSL, "trail hit", 0); !ok {
		t.Fatal("retry should succeed")
	}
	if svc.ActiveTradeStatus().HasActiveTrade {
		t.Error("trade should be cleared after the retry")
	}
}

func TestExitService_ForceExit(t *testing.T) {
	journal := &MockJournal{}
	broker := &MockBroker{}
	svc := newExitService(journal, broker, usecase.DefaultOrchestratorConfig())

	if ok, _ := svc.ForceExit(context.Background(), "manual kill switch"); ok {
		t.Fatal("kill switch with no trade should report failure")
	}

	if err := svc.InitializeActiveTrade(callEntry(time.Now().Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}
	svc.UpdateMarketTick(tick(100.4, 0.4, 0.01, 1000, time.Now()))

	ok, _ := svc.ForceExit(context.Background(), "manual kill switch")
	if !ok {
		t.Fatal("kill switch should close the trade")
	}
	if svc.ActiveTradeStatus().HasActiveTrade {
		t.Error("trade should be cleared")
	}
	if len(journal.Records) != 1 || journal.Records[0].ExitReason != "manual kill switch" {
		t.Errorf("journal = %+v, want one record with the kill reason", journal.Records)
	}
}

func TestExitService_ForceExitCooldownUsesTickVolatility(t *testing.T) {
	journal := &MockJournal{}
	broker := &MockBroker{}
	svc := newExitService(journal, broker, usecase.DefaultOrchestratorConfig())

	if err := svc.InitializeActiveTrade(callEntry(time.Now().Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}

	// Elevated volatility arrives only through the tick; the kill switch
	// fires before any evaluation pass runs.
	tk := tick(104, 0.4, 0.01, 1000, time.Now())
	tk.VolatilityIndex = 26
	svc.UpdateMarketTick(tk)

	if ok, _ := svc.ForceExit(context.Background(), "manual kill switch"); !ok {
		t.Fatal("kill switch should close the trade")
	}

	cd, _ := svc.CooldownStatus(time.Now())
	if cd.Duration != 120*time.Second {
		t.Errorf("cooldown duration = %s, want 120s from the high-volatility band", cd.Duration)
	}
}
