package broker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// PaperBroker acknowledges exit instructions without touching a real
// venue. It stands in for the order-execution collaborator during dry
// runs and tests.
type PaperBroker struct {
	logger *zap.Logger

	mu     sync.Mutex
	fills  int
	closed map[string]int
}

func NewPaperBroker(logger *zap.Logger) *PaperBroker {
	return &PaperBroker{
		logger: logger,
		closed: make(map[string]int),
	}
}

func (b *PaperBroker) ClosePosition(ctx context.Context, symbol string, quantity int, price float64) error {
	if quantity <= 0 {
		return fmt.Errorf("invalid quantity %d for %s", quantity, symbol)
	}
	b.mu.Lock()
	b.fills++
	b.closed[symbol] += quantity
	b.mu.Unlock()

	b.logger.Info("paper close",
		zap.String("symbol", symbol),
		zap.Int("quantity", quantity),
		zap.Float64("price", price))
	return nil
}

func (b *PaperBroker) ReducePosition(ctx context.Context, symbol string, quantity int, price float64) error {
	if quantity <= 0 {
		return fmt.Errorf("invalid quantity %d for %s", quantity, symbol)
	}
	b.mu.Lock()
	b.fills++
	b.closed[symbol] += quantity
	b.mu.Unlock()

	b.logger.Info("paper reduce",
		zap.String("symbol", symbol),
		zap.Int("quantity", quantity),
		zap.Float64("price", price))
	return nil
}

// Fills reports how many instructions have been acknowledged.
func (b *PaperBroker) Fills() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fills
}
