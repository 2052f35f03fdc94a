package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/vitos/option_trade_exit/internal/domain"
	"github.com/vitos/option_trade_exit/internal/usecase"
	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.ActiveTradeStatus())
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := 50
	records, err := s.journal.ListClosedTrades(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list closed trades", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list closed trades")
		return
	}

	summary, err := s.journal.SessionSummary(r.Context())
	if err != nil {
		s.logger.Error("failed to build session summary", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to build session summary")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": summary,
		"trades":  records,
	})
}

func (s *Server) handleCooldown(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	state, phase := s.service.CooldownStatus(now)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"phase":         phase,
		"state":         state,
		"can_trade_now": s.service.CanTradeNow(now),
	})
}

// handleTradeInit accepts a new position from the entry engine. Entries
// are refused while a trade is open or a cooldown is running.
func (s *Server) handleTradeInit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Symbol          string  `json:"symbol"`
		Side            string  `json:"side"`
		EntryPrice      float64 `json:"entry_price"`
		Quantity        int     `json:"quantity"`
		Delta           float64 `json:"delta"`
		Gamma           float64 `json:"gamma"`
		Theta           float64 `json:"theta"`
		Vega            float64 `json:"vega"`
		IV              float64 `json:"iv"`
		CEOpenInterest  float64 `json:"ce_oi"`
		PEOpenInterest  float64 `json:"pe_oi"`
		Volume          float64 `json:"volume"`
		BidQty          float64 `json:"bid_qty"`
		AskQty          float64 `json:"ask_qty"`
		PrevCandleClose float64 `json:"prev_candle_close"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	side := domain.OptionSide(body.Side)
	if side != domain.SideCall && side != domain.SidePut {
		s.writeError(w, http.StatusBadRequest, "side must be CE or PE")
		return
	}
	if !s.service.CanTradeNow(time.Now()) {
		s.writeError(w, http.StatusConflict, "cooldown in progress")
		return
	}

	err := s.service.InitializeActiveTrade(usecase.EntryParams{
		Symbol:     body.Symbol,
		Side:       side,
		EntryPrice: body.EntryPrice,
		EntryTime:  time.Now(),
		Greeks: domain.Greeks{
			Delta: body.Delta,
			Gamma: body.Gamma,
			Theta: body.Theta,
			Vega:  body.Vega,
			IV:    body.IV,
		},
		CEOpenInterest:  body.CEOpenInterest,
		PEOpenInterest:  body.PEOpenInterest,
		Volume:          body.Volume,
		BidQty:          body.BidQty,
		AskQty:          body.AskQty,
		Quantity:        body.Quantity,
		PrevCandleClose: body.PrevCandleClose,
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, usecase.ErrTradeActive) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err.Error())
		return
	}

	if err := s.feed.Subscribe([]string{body.Symbol}); err != nil {
		s.logger.Error("failed to subscribe contract", zap.String("symbol", body.Symbol), zap.Error(err))
	}

	// Seed the trade with the current chain state; the stream takes over
	// from the next tick.
	if snap, err := s.feed.Snapshot(r.Context(), body.Symbol); err != nil {
		s.logger.Warn("chain snapshot failed", zap.String("symbol", body.Symbol), zap.Error(err))
	} else if snap != nil {
		s.service.UpdateMarketTick(*snap)
	}

	s.writeJSON(w, http.StatusCreated, s.service.ActiveTradeStatus())
}

// handleKillSwitch forces an immediate exit at the last known price,
// bypassing normal arbitration.
func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Reason == "" {
		body.Reason = "manual kill switch"
	}

	ok, summary := s.service.ForceExit(r.Context(), body.Reason)
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, map[string]interface{}{
		"success": ok,
		"summary": summary,
	})
}

func (s *Server) handleCooldownReset(w http.ResponseWriter, r *http.Request) {
	s.service.ResetCooldown()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cooldown reset"})
}
