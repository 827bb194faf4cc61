// Package reporting renders session output: console tables during a
// run and an Excel trade log at the end of one.
package reporting

import (
	"fmt"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/quantfold/sigflow/internal/ledger"
	"github.com/quantfold/sigflow/internal/risk"
	"github.com/quantfold/sigflow/pkg/types"
)

// PrintStartupInfo prints the pipeline configuration table
func PrintStartupInfo(mode, symbol, resolutionMode string, defaultSize int, limits risk.Limits) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("PIPELINE INITIALIZATION")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"🚦 Mode", mode},
		{"📊 Symbol", symbol},
		{"🧮 Resolution", resolutionMode},
		{"📦 Default Size", defaultSize},
	})

	t.AppendSeparator()

	t.AppendRows([]table.Row{
		{"🛡️ Max / Strategy", capString(limits.MaxPositionPerStrategy)},
		{"🛡️ Max / Symbol", capString(limits.MaxPositionPerSymbol)},
		{"🛡️ Max Portfolio", capString(limits.MaxPortfolioPosition)},
		{"🛑 Daily Loss Floor", lossFloorString(limits.MaxDailyLoss)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 40, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()
}

// PrintPortfolioStatus prints the periodic portfolio snapshot
func PrintPortfolioStatus(summary ledger.Summary, riskStatus risk.Status) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("PORTFOLIO STATUS")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"💼 Open Positions", summary.OpenPositions},
		{"💹 Unrealized P&L", fmt.Sprintf("$%.2f", summary.UnrealizedPnL)},
		{"💰 Realized P&L", fmt.Sprintf("$%.2f", summary.RealizedPnL)},
		{"📅 Daily P&L", fmt.Sprintf("$%.2f", riskStatus.DailyPnL)},
	})

	t.AppendSeparator()

	if riskStatus.CircuitBreakerTripped {
		t.AppendRow(table.Row{"🛑 Circuit Breaker", "TRIPPED: " + riskStatus.CircuitBreakerReason})
	} else {
		t.AppendRow(table.Row{"🟢 Circuit Breaker", "armed"})
	}

	names := make([]string, 0, len(summary.Strategies))
	for name := range summary.Strategies {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > 0 {
		t.AppendSeparator()
		for _, name := range names {
			s := summary.Strategies[name]
			t.AppendRow(table.Row{
				"📈 " + name,
				fmt.Sprintf("%d open, $%.2f realized", s.OpenPositions, s.RealizedPnL),
			})
		}
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 20, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 50, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()
}

// PrintSessionSummary prints the end-of-session trade table
func PrintSessionSummary(results []types.TradeResult, summary ledger.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("SESSION SUMMARY")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Strategy", "Type", "Symbol", "Size", "Fill", "Status"})

	filled := 0
	for i, r := range results {
		if r.Success {
			filled++
		}
		fill := "-"
		if r.FillPrice > 0 {
			fill = fmt.Sprintf("$%.2f", r.FillPrice)
		}
		t.AppendRow(table.Row{
			i + 1,
			r.Request.StrategyName,
			string(r.Request.SignalType),
			r.Request.Symbol,
			r.Request.Size,
			fill,
			string(r.Status),
		})
	}

	t.AppendFooter(table.Row{
		"", "", "", "",
		fmt.Sprintf("%d/%d filled", filled, len(results)),
		fmt.Sprintf("$%.2f", summary.RealizedPnL),
		"realized",
	})

	t.Render()
	fmt.Println()
}

func capString(limit int) string {
	if limit == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d contracts", limit)
}

func lossFloorString(floor float64) string {
	if floor == 0 {
		return "disabled"
	}
	return fmt.Sprintf("$%.2f", floor)
}
