package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/option_trade_exit/internal/domain"
)

// SQLiteJournal implements domain.TradeJournal. It owns realized P&L and
// duration computation and persists one row per closed trade.
type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	j := &SQLiteJournal{db: db}
	if err := j.initSchema(); err != nil {
		return nil, err
	}

	return j, nil
}

func (j *SQLiteJournal) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS closed_trades (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price REAL NOT NULL,
			entry_time DATETIME NOT NULL,
			entry_delta REAL NOT NULL,
			entry_gamma REAL NOT NULL,
			entry_theta REAL NOT NULL,
			entry_vega REAL NOT NULL,
			entry_iv REAL NOT NULL,
			entry_ce_oi REAL NOT NULL,
			entry_pe_oi REAL NOT NULL,
			exit_price REAL NOT NULL,
			exit_time DATETIME NOT NULL,
			exit_delta REAL NOT NULL,
			exit_gamma REAL NOT NULL,
			exit_iv REAL NOT NULL,
			exit_reason TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			realized_pnl REAL NOT NULL,
			duration_secs REAL NOT NULL,
			closed_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_closed_trades_closed_at ON closed_trades(closed_at);`,
	}

	for _, q := range queries {
		if _, err := j.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

// RecordClosedTrade computes P&L and duration from the snapshots and
// persists the record. Called exactly once per trade by the orchestrator.
func (j *SQLiteJournal) RecordClosedTrade(ctx context.Context, entry domain.EntrySnapshot, exit domain.ExitSnapshot, reason string, quantity int) (*domain.ClosedTradeRecord, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity: %d", quantity)
	}

	record := &domain.ClosedTradeRecord{
		ID:          uuid.NewString(),
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

	query := `INSERT INTO closed_trades (
		id, symbol, side,
		entry_price, entry_time, entry_delta, entry_gamma, entry_theta, entry_vega, entry_iv, entry_ce_oi, entry_pe_oi,
		exit_price, exit_time, exit_delta, exit_gamma, exit_iv,
		exit_reason, quantity, realized_pnl, duration_secs, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, query,
		record.ID, record.Symbol, record.Side,
		entry.Price, entry.Time, entry.Greeks.Delta, entry.Greeks.Gamma, entry.Greeks.Theta, entry.Greeks.Vega, entry.Greeks.IV, entry.CEOpenInterest, entry.PEOpenInterest,
		exit.Price, exit.Time, exit.Greeks.Delta, exit.Greeks.Gamma, exit.Greeks.IV,
		record.ExitReason, record.Quantity, record.RealizedPnL, record.Duration.Seconds(), record.ClosedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save closed trade: %w", err)
	}

	return record, nil
}

func (j *SQLiteJournal) ListClosedTrades(ctx context.Context, limit int) ([]*domain.ClosedTradeRecord, error) {
	query := `SELECT id, symbol, side,
		entry_price, entry_time, entry_delta, entry_gamma, entry_theta, entry_vega, entry_iv, entry_ce_oi, entry_pe_oi,
		exit_price, exit_time, exit_delta, exit_gamma, exit_iv,
		exit_reason, quantity, realized_pnl, duration_secs, closed_at
		FROM closed_trades ORDER BY closed_at DESC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.ClosedTradeRecord
	for rows.Next() {
		var r domain.ClosedTradeRecord
		var durationSecs float64
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Side,
			&r.Entry.Price, &r.Entry.Time, &r.Entry.Greeks.Delta, &r.Entry.Greeks.Gamma, &r.Entry.Greeks.Theta, &r.Entry.Greeks.Vega, &r.Entry.Greeks.IV, &r.Entry.CEOpenInterest, &r.Entry.PEOpenInterest,
			&r.Exit.Price, &r.Exit.Time, &r.Exit.Greeks.Delta, &r.Exit.Greeks.Gamma, &r.Exit.Greeks.IV,
			&r.ExitReason, &r.Quantity, &r.RealizedPnL, &durationSecs, &r.ClosedAt); err != nil {
			return nil, err
		}
		r.Entry.Symbol = r.Symbol
		r.Entry.Side = r.Side
		r.Duration = time.Duration(durationSecs * float64(time.Second))
		records = append(records, &r)
	}
	return records, rows.Err()
}

func (j *SQLiteJournal) SessionSummary(ctx context.Context) (*domain.SessionSummary, error) {
	query := `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN realized_pnl <= 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(realized_pnl), 0),
		COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN realized_pnl ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN realized_pnl <= 0 THEN realized_pnl ELSE 0 END), 0),
		COALESCE(AVG(duration_secs), 0)
		FROM closed_trades`

	var s domain.SessionSummary
	var avgSecs float64
	row := j.db.QueryRowContext(ctx, query)
	if err := row.Scan(&s.Trades, &s.Wins, &s.Losses, &s.NetPnL, &s.GrossProfit, &s.GrossLoss, &avgSecs); err != nil {
		return nil, err
	}
	s.AvgHold = time.Duration(avgSecs * float64(time.Second))
	return &s, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
