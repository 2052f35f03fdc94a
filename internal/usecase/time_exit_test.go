package usecase_test

import (
	"strings"
	"testing"
	"time"

	"github.com/vitos/option_trade_exit/internal/domain"
	"github.com/vitos/option_trade_exit/internal/usecase"
	"go.uber.org/zap"
)

func newTimeEngine() *usecase.TimeExitEngine {
	return usecase.NewTimeExitEngine(usecase.DefaultTimeExitConfig(), zap.NewNop())
}

func day(hour, min int) time.Time {
	return time.Date(2025, 10, 7, hour, min, 0, 0, time.UTC)
}

func TestTimeExit_Check(t *testing.T) {
	engine := newTimeEngine()

	tests := []struct {
		name       string
		entry      time.Time
		now        time.Time
		wantExit   bool
		wantReason string
	}{
		{"mid-morning scalp running", day(10, 0), day(10, 10), false, ""},
		{"scalp cap exceeded", day(10, 0), day(10, 21), true, "scalp held"},
		{"lunch window approaching", day(11, 50), day(11, 56), true, "lunch"},
		{"lunch already started", day(12, 1), day(12, 5), false, ""},
		{"past close cutoff", day(15, 10), day(15, 20), true, "market close"},
		{"exactly at cutoff", day(15, 10), day(15, 15), true, "market close"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := engine.Check(tt.entry, tt.now)
			if sig.ShouldExit != tt.wantExit {
				t.Fatalf("ShouldExit = %v, want %v (reason %q)", sig.ShouldExit, tt.wantExit, sig.Reason)
			}
			if !tt.wantExit {
				return
			}
			if sig.Kind != domain.SignalTimeForced {
				t.Errorf("kind = %q, want %q", sig.Kind, domain.SignalTimeForced)
			}
			if sig.Confidence != 0.99 {
				t.Errorf("confidence = %f, want 0.99", sig.Confidence)
			}
			if !strings.Contains(sig.Reason, tt.wantReason) {
				t.Errorf("reason = %q, want substring %q", sig.Reason, tt.wantReason)
			}
		})
	}
}

func TestTimeExitConfig_Validate(t *testing.T) {
	cfg := usecase.DefaultTimeExitConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	bad := cfg
	bad.CloseCutoff = "25:00"
	if err := bad.Validate(); err == nil {
		t.Error("out-of-range clock should be rejected")
	}

	bad = cfg
	bad.LunchStart = "noon"
	if err := bad.Validate(); err == nil {
		t.Error("unparseable clock should be rejected")
	}

	bad = cfg
	bad.ScalpMaxMinutes = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero scalp cap should be rejected")
	}
}
