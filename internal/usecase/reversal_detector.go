package usecase

import (
	"fmt"
	"math"

	"github.com/vitos/option_trade_exit/internal/domain"
	"go.uber.org/zap"
)

// OIReversalConfig tunes the default reversal/exhaustion detector. The
// detector contract fixes only inputs and outputs; these thresholds are
// implementation-chosen.
type OIReversalConfig struct {
	CallBearishPCR float64 `yaml:"call_bearish_pcr"` // PCR below this means call writers dominate
	PutBullishPCR  float64 `yaml:"put_bullish_pcr"`  // PCR above this means put writers dominate
	FadeDelta      float64 `yaml:"fade_delta"`       // |delta| below this confirms the fade
	ExhaustGamma   float64 `yaml:"exhaust_gamma"`    // gamma below this with deep delta = move done
	ExhaustDelta   float64 `yaml:"exhaust_delta"`
}

func DefaultOIReversalConfig() OIReversalConfig {
	return OIReversalConfig{
		CallBearishPCR: 0.7,
		PutBullishPCR:  1.3,
		FadeDelta:      0.5,
		ExhaustGamma:   0.005,
		ExhaustDelta:   0.75,
	}
}

func (c OIReversalConfig) Validate() error {
	if c.CallBearishPCR <= 0 || c.PutBullishPCR <= c.CallBearishPCR {
		return fmt.Errorf("pcr thresholds must satisfy 0 < call_bearish_pcr < put_bullish_pcr")
	}
	return nil
}

// OIReversalDetector is the default domain.ReversalDetector. It reads the
// put/call open-interest ratio as a conviction proxy: writers stacking up
// against the held side while delta fades flags smart-money reversal, and
// flat gamma under a deep delta flags trend exhaustion.
type OIReversalDetector struct {
	cfg    OIReversalConfig
	logger *zap.Logger
}

func NewOIReversalDetector(cfg OIReversalConfig, logger *zap.Logger) *OIReversalDetector {
	return &OIReversalDetector{cfg: cfg, logger: logger}
}

func (d *OIReversalDetector) Detect(in domain.ReversalInput) (domain.ExitSignal, error) {
	if in.CEOpenInterest <= 0 {
		return domain.ExitSignal{}, fmt.Errorf("invalid open interest: ce=%f pe=%f", in.CEOpenInterest, in.PEOpenInterest)
	}
	pcr := in.PEOpenInterest / in.CEOpenInterest
	absDelta := math.Abs(in.Delta)

	if in.CheckReversal {
		if in.Side == domain.SideCall && pcr < d.cfg.CallBearishPCR && absDelta < d.cfg.FadeDelta {
			return domain.ExitSignal{
				Kind:       domain.SignalReversal,
				Confidence: 0.75,
				Reason:     fmt.Sprintf("call writing pressure, PCR %.2f with delta fading to %.2f", pcr, absDelta),
				ShouldExit: true,
			}, nil
		}
		if in.Side == domain.SidePut && pcr > d.cfg.PutBullishPCR && absDelta < d.cfg.FadeDelta {
			return domain.ExitSignal{
				Kind:       domain.SignalReversal,
				Confidence: 0.75,
				Reason:     fmt.Sprintf("put writing pressure, PCR %.2f with delta fading to %.2f", pcr, absDelta),
				ShouldExit: true,
			}, nil
		}
	}

	if in.CheckExhaustion {
		if in.Gamma < d.cfg.ExhaustGamma && absDelta > d.cfg.ExhaustDelta {
			return domain.ExitSignal{
				Kind:       domain.SignalExhaustion,
				Confidence: 0.72,
				Reason:     fmt.Sprintf("trend exhaustion, gamma %.4f flat under delta %.2f", in.Gamma, absDelta),
				ShouldExit: true,
			}, nil
		}
	}

	return domain.ExitSignal{}, nil
}
