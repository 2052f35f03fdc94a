package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/option_trade_exit/internal/infrastructure/storage"
)

func main() {
	dbPath := flag.String("db", "journal.db", "path to the journal database")
	limit := flag.Int("limit", 20, "number of recent trades to print")
	flag.Parse()

	journal, err := storage.NewSQLiteJournal(*dbPath)
	if err != nil {
		fmt.Printf("Failed to open journal: %v\n", err)
		os.Exit(1)
	}
	defer journal.Close()

	ctx := context.Background()

	summary, err := journal.SessionSummary(ctx)
	if err != nil {
		fmt.Printf("Failed to build session summary: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Session: %d trades, %d wins / %d losses, net %.2f pts (gross +%.2f / %.2f), avg hold %s\n",
		summary.Trades, summary.Wins, summary.Losses,
		summary.NetPnL, summary.GrossProfit, summary.GrossLoss,
		summary.AvgHold.Round(time.Second))

	records, err := journal.ListClosedTrades(ctx, *limit)
	if err != nil {
		fmt.Printf("Failed to list trades: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Last %d trades:\n", len(records))
	for _, r := range records {
		fmt.Printf("- %s %s %s: %d @ %.2f -> %.2f, pnl %.2f, held %s, reason: %s\n",
			r.ClosedAt.Format("15:04:05"), r.Symbol, r.Side,
			r.Quantity, r.Entry.Price, r.Exit.Price,
			r.RealizedPnL, r.Duration.Round(time.Second), r.ExitReason)
	}
}
