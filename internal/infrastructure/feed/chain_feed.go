package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/option_trade_exit/internal/domain"
	"go.uber.org/zap"
)

// ChainFeed streams validated option-chain ticks over a websocket. It
// implements domain.TickFeed: data reaches consumers only through the
// registered callbacks.
type ChainFeed struct {
	wsURL   string
	restURL string
	client  *http.Client
	logger  *zap.Logger

	mu        sync.Mutex
	wsConn    *websocket.Conn
	callbacks []func(domain.MarketTick)
	symbols   []string
	closed    bool
}

func NewChainFeed(wsURL, restURL string, logger *zap.Logger) *ChainFeed {
	return &ChainFeed{
		wsURL:   wsURL,
		restURL: restURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (f *ChainFeed) OnTick(callback func(domain.MarketTick)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, callback)
}

// Subscribe connects if needed and subscribes the given contracts.
func (f *ChainFeed) Subscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.symbols = append(f.symbols, symbols...)

	if f.wsConn == nil {
		if err := f.connectLocked(); err != nil {
			return err
		}
	}
	return f.subscribeLocked(symbols)
}

func (f *ChainFeed) connectLocked() error {
	c, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial chain feed: %w", err)
	}
	f.wsConn = c
	go f.readLoop(c)
	return nil
}

func (f *ChainFeed) subscribeLocked(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": symbols,
	}
	return f.wsConn.WriteJSON(subMsg)
}

// tickMessage is the wire format of one chain update.
type tickMessage struct {
	Topic string `json:"topic"`
	Data  struct {
		Symbol          string  `json:"symbol"`
		LastPrice       float64 `json:"last_price"`
		Delta           float64 `json:"delta"`
		Gamma           float64 `json:"gamma"`
		Theta           float64 `json:"theta"`
		Vega            float64 `json:"vega"`
		IV              float64 `json:"iv"`
		CEOpenInterest  float64 `json:"ce_oi"`
		PEOpenInterest  float64 `json:"pe_oi"`
		Volume          float64 `json:"volume"`
		VolatilityIndex float64 `json:"vix"`
		Timestamp       int64   `json:"ts"`
	} `json:"data"`
}

func (f *ChainFeed) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		f.mu.Lock()
		reconnect := !f.closed
		f.wsConn = nil
		f.mu.Unlock()
		if reconnect {
			f.reconnect()
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			f.logger.Warn("chain feed read error", zap.Error(err))
			return
		}

		var msg tickMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			f.logger.Warn("chain feed unmarshal error", zap.Error(err))
			continue
		}
		if msg.Topic != "chain.tick" || msg.Data.Symbol == "" {
			continue
		}

		tick := domain.MarketTick{
			Symbol: msg.Data.Symbol,
			Price:  msg.Data.LastPrice,
			Greeks: domain.Greeks{
				Delta: msg.Data.Delta,
				Gamma: msg.Data.Gamma,
				Theta: msg.Data.Theta,
				Vega:  msg.Data.Vega,
				IV:    msg.Data.IV,
			},
			CEOpenInterest:  msg.Data.CEOpenInterest,
			PEOpenInterest:  msg.Data.PEOpenInterest,
			Volume:          msg.Data.Volume,
			VolatilityIndex: msg.Data.VolatilityIndex,
			Time:            time.UnixMilli(msg.Data.Timestamp),
		}

		f.mu.Lock()
		callbacks := make([]func(domain.MarketTick), len(f.callbacks))
		copy(callbacks, f.callbacks)
		f.mu.Unlock()

		for _, cb := range callbacks {
			cb(tick)
		}
	}
}

// reconnect re-dials with backoff and re-subscribes the known contracts.
func (f *ChainFeed) reconnect() {
	backoff := time.Second
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return
		}
		err := f.connectLocked()
		if err == nil {
			err = f.subscribeLocked(f.symbols)
		}
		f.mu.Unlock()

		if err == nil {
			f.logger.Info("chain feed reconnected")
			return
		}
		f.logger.Warn("chain feed reconnect failed", zap.Error(err), zap.Duration("retry_in", backoff))
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// Snapshot fetches the latest chain state over REST, used for the
// initial tick before the stream is live.
func (f *ChainFeed) Snapshot(ctx context.Context, symbol string) (*domain.MarketTick, error) {
	url := fmt.Sprintf("%s/v1/chain/snapshot?symbol=%s", f.restURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("chain snapshot error: %s", string(body))
	}

	var msg tickMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, err
	}

	return &domain.MarketTick{
		Symbol: msg.Data.Symbol,
		Price:  msg.Data.LastPrice,
		Greeks: domain.Greeks{
			Delta: msg.Data.Delta,
			Gamma: msg.Data.Gamma,
			Theta: msg.Data.Theta,
			Vega:  msg.Data.Vega,
			IV:    msg.Data.IV,
		},
		CEOpenInterest:  msg.Data.CEOpenInterest,
		PEOpenInterest:  msg.Data.PEOpenInterest,
		Volume:          msg.Data.Volume,
		VolatilityIndex: msg.Data.VolatilityIndex,
		Time:            time.UnixMilli(msg.Data.Timestamp),
	}, nil
}

func (f *ChainFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.wsConn != nil {
		return f.wsConn.Close()
	}
	return nil
}
