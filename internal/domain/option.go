package domain

import "time"

type OptionSide string

const (
	SideCall OptionSide = "CE"
	SidePut  OptionSide = "PE"
)

// Greeks holds the option sensitivities delivered by the chain data engine.
// IV is the implied volatility as a fraction (0.18 = 18%).
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	IV    float64
}

// MarketTick is one validated option-chain update for the traded contract.
type MarketTick struct {
	Symbol          string
	Price           float64
	Greeks          Greeks
	CEOpenInterest  float64
	PEOpenInterest  float64
	Volume          float64
	VolatilityIndex float64
	Time            time.Time
}
