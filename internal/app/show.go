package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recent audit entries, open positions, and active OCO links.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	positions, err := store.ListOpenPositions(ctx)
	if err != nil {
		return err
	}
	links, err := store.ListActiveOcoLinks(ctx, opts.Limit)
	if err != nil {
		return err
	}
	entries, err := store.RecentAuditEntries(ctx, opts.Limit)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	fmt.Fprintf(writer, "Open positions (%d)\n", len(positions))
	if len(positions) > 0 {
		fmt.Fprintln(writer, "ID\tSymbol\tSide\tSize\tEntry\tOpened (UTC)")
		for _, pos := range positions {
			fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\n",
				pos.ID,
				pos.Symbol,
				pos.Side,
				formatDecimal(pos.Size, 8),
				formatDecimal(pos.EntryPrice, 2),
				pos.OpenedAt.UTC().Format(time.RFC3339),
			)
		}
	}

	fmt.Fprintf(writer, "\nActive OCO links (%d)\n", len(links))
	if len(links) > 0 {
		fmt.Fprintln(writer, "ID\tSignal\tSymbol\tTP\tSL Stop\tAmount\tCreated (UTC)")
		for _, link := range links {
			fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				link.ID,
				link.SignalID,
				link.Symbol,
				formatDecimal(link.TPPrice, 2),
				formatDecimal(link.SLStopPrice, 2),
				formatDecimal(link.Amount, 8),
				link.CreatedAt.UTC().Format(time.RFC3339),
			)
		}
	}

	fmt.Fprintf(writer, "\nRecent audit trail (%d)\n", len(entries))
	if len(entries) > 0 {
		fmt.Fprintln(writer, "Time (UTC)\tEvent\tMessage")
		for _, entry := range entries {
			fmt.Fprintf(writer, "%s\t%s\t%s\n",
				entry.CreatedAt.UTC().Format(time.RFC3339),
				entry.EventType,
				sanitizeInline(entry.Message),
			)
		}
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
