package usecase_test

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/vitos/option_trade_exit/internal/domain"
	"github.com/vitos/option_trade_exit/internal/usecase"
	"go.uber.org/zap"
)

const priceEpsilon = 1e-9

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < priceEpsilon
}

func newPartialEngine() *usecase.PartialExitEngine {
	return usecase.NewPartialExitEngine(usecase.DefaultPartialExitConfig(), zap.NewNop())
}

func TestPartialExit_VolumeDrop(t *testing.T) {
	engine := newPartialEngine()

	// Entry 100, price 101.2 (+1.2%), volume halves 1000 -> 400.
	state := usecase.PartialExitState{RemainingQuantity: 10}
	sig := engine.Evaluate(&state, usecase.PartialExitInput{
		Side:         domain.SideCall,
		EntryPrice:   100,
		CurrentPrice: 101.2,
		Delta:        0.55,
		Gamma:        0.012,
		PrevGamma:    0.009,
		Volume:       400,
		PrevVolume:   1000,
	})

	if !sig.ShouldExit {
		t.Fatal("expected partial exit signal")
	}
	if sig.Kind != domain.SignalPartialExit {
		t.Errorf("kind = %q, want %q", sig.Kind, domain.SignalPartialExit)
	}
	if sig.Confidence != 0.80 {
		t.Errorf("confidence = %f, want 0.80", sig.Confidence)
	}
	if !strings.Contains(sig.Reason, "volume drop") {
		t.Errorf("reason = %q, want volume drop", sig.Reason)
	}
}

func TestPartialExit_Gates(t *testing.T) {
	engine := newPartialEngine()

	tests := []struct {
		name string
		in   usecase.PartialExitInput
		want bool
	}{
		{
			"below min profit", usecase.PartialExitInput{
				Side: domain.SideCall, EntryPrice: 100, CurrentPrice: 100.3,
				Gamma: 0.012, PrevGamma: 0.009, Volume: 400, PrevVolume: 1000,
			}, false,
		},
		{
			"gamma flattening", usecase.PartialExitInput{
				Side: domain.SideCall, EntryPrice: 100, CurrentPrice: 100.6,
				Gamma: 0.007, PrevGamma: 0.012, Volume: 1000, PrevVolume: 1000,
			}, true,
		},
		{
			"first impulse done", usecase.PartialExitInput{
				Side: domain.SideCall, EntryPrice: 100, CurrentPrice: 102.5,
				Gamma: 0.009, PrevGamma: 0.009, Volume: 1000, PrevVolume: 1000,
			}, true,
		},
		{
			"outright profit", usecase.PartialExitInput{
				Side: domain.SideCall, EntryPrice: 100, CurrentPrice: 101.2,
				Gamma: 0.012, PrevGamma: 0.009, Volume: 900, PrevVolume: 1000,
			}, true,
		},
		{
			"profitable but nothing confirming", usecase.PartialExitInput{
				Side: domain.SideCall, EntryPrice: 100, CurrentPrice: 100.6,
				Gamma: 0.012, PrevGamma: 0.009, Volume: 900, PrevVolume: 1000,
			}, false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := usecase.PartialExitState{RemainingQuantity: 10}
			sig := engine.Evaluate(&state, tt.in)
			if sig.ShouldExit != tt.want {
				t.Errorf("ShouldExit = %v, want %v (reason %q)", sig.ShouldExit, tt.want, sig.Reason)
			}
		})
	}
}

func TestPartialExit_FiresOnlyOnce(t *testing.T) {
	engine := newPartialEngine()

	in := usecase.PartialExitInput{
		Side: domain.SideCall, EntryPrice: 100, CurrentPrice: 101.2,
		Gamma: 0.012, PrevGamma: 0.009, Volume: 400, PrevVolume: 1000,
	}
	state := usecase.PartialExitState{RemainingQuantity: 10}
	if sig := engine.Evaluate(&state, in); !sig.ShouldExit {
		t.Fatal("expected first evaluation to fire")
	}

	engine.Commit(&state, domain.SideCall, 100, 101.2, 6, 4, "volume drop", 0.80, time.Now())
	if !state.FirstExitTaken {
		t.Fatal("commit should mark first exit taken")
	}
	if !closeTo(state.FirstExitPnL, 7.2) {
		t.Errorf("first exit pnl = %f, want 7.2", state.FirstExitPnL)
	}

	if sig := engine.Evaluate(&state, in); sig.ShouldExit {
		t.Error("second evaluation must not fire")
	}

	// A second commit is ignored.
	engine.Commit(&state, domain.SideCall, 100, 105, 4, 0, "again", 0.80, time.Now())
	if state.FirstExitQuantity != 6 || state.FirstExitPrice != 101.2 {
		t.Error("second commit must not overwrite the first")
	}
}

func TestPartialExit_Quantities(t *testing.T) {
	engine := newPartialEngine()

	tests := []struct {
		total int
		want  int
	}{
		{10, 6},
		{5, 3},
		{2, 1},
		{1, 1},
	}
	for _, tt := range tests {
		if got := engine.ExitQuantity(tt.total); got != tt.want {
			t.Errorf("ExitQuantity(%d) = %d, want %d", tt.total, got, tt.want)
		}
	}
}

func TestPartialExit_RemainderStop(t *testing.T) {
	engine := newPartialEngine()

	// Strong delta keeps the wider offset, weak delta tightens it.
	if got := engine.RemainderStop(domain.SideCall, 101.2, 0.7); !closeTo(got, 93.2) {
		t.Errorf("strong delta call stop = %f, want 93.2", got)
	}
	if got := engine.RemainderStop(domain.SideCall, 101.2, 0.5); !closeTo(got, 96.2) {
		t.Errorf("weak delta call stop = %f, want 96.2", got)
	}
	// Put stops sit above the price.
	if got := engine.RemainderStop(domain.SidePut, 98.8, -0.7); !closeTo(got, 106.8) {
		t.Errorf("strong delta put stop = %f, want 106.8", got)
	}
}
