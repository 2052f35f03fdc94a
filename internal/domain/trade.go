package domain

import "time"

// EntrySnapshot is captured once when a position is opened and never mutated.
type EntrySnapshot struct {
	Symbol          string
	Side            OptionSide
	Price           float64
	Greeks          Greeks
	CEOpenInterest  float64
	PEOpenInterest  float64
	Volume          float64
	BidQty          float64
	AskQty          float64
	Quantity        int
	PrevCandleClose float64
	Time            time.Time
}

// ExitSnapshot captures the market at the moment of exit.
type ExitSnapshot struct {
	Price          float64
	Greeks         Greeks
	CEOpenInterest float64
	PEOpenInterest float64
	Time           time.Time
}

// ActiveTrade is the mutable per-tick state of the single open position.
// Owned by the exit orchestrator; sub-engines only ever see copies of the
// scalars they need.
type ActiveTrade struct {
	Symbol       string
	Side         OptionSide
	EntryPrice   float64
	EntryTime    time.Time
	CurrentPrice float64
	Greeks       Greeks
	// Previous-tick values required by the spike/collapse detectors.
	PrevDelta      float64
	PrevGamma      float64
	PrevVolume     float64
	CEOpenInterest float64
	PEOpenInterest float64
	Volume         float64
	RemainingQty   int
	LastTickAt     time.Time
}

// ProfitPct returns the unrealized profit as a percent of the entry price.
// A call profits when the tracked price rises, a put when it falls.
func (t *ActiveTrade) ProfitPct() float64 {
	return ProfitPct(t.Side, t.EntryPrice, t.CurrentPrice)
}

// ProfitPct is the side-aware profit percent between two prices.
func ProfitPct(side OptionSide, entryPrice, currentPrice float64) float64 {
	if entryPrice == 0 {
		return 0
	}
	move := currentPrice - entryPrice
	if side == SidePut {
		move = -move
	}
	return move / entryPrice * 100
}

// PointsPnL is the side-aware per-unit profit in price points.
func PointsPnL(side OptionSide, entryPrice, exitPrice float64) float64 {
	if side == SidePut {
		return entryPrice - exitPrice
	}
	return exitPrice - entryPrice
}

// HoldingTime returns how long the position has been open at the given time.
func (t *ActiveTrade) HoldingTime(now time.Time) time.Duration {
	return now.Sub(t.EntryTime)
}

// ClosedTradeRecord is produced exactly once per trade by the journal.
type ClosedTradeRecord struct {
	ID          string
	Symbol      string
	Side        OptionSide
	Entry       EntrySnapshot
	Exit        ExitSnapshot
	ExitReason  string
	Quantity    int
	RealizedPnL float64
	Duration    time.Duration
	ClosedAt    time.Time
}

// SessionSummary aggregates the journal for reporting.
type SessionSummary struct {
	Trades      int
	Wins        int
	Losses      int
	NetPnL      float64
	GrossProfit float64
	GrossLoss   float64
	AvgHold     time.Duration
}
