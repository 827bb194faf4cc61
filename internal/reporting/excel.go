package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/quantfold/sigflow/internal/ledger"
	"github.com/quantfold/sigflow/pkg/types"
)

// excelStyles holds the style IDs used across the workbook
type excelStyles struct {
	Header   int
	Currency int
}

// WriteSessionXLSX writes the session's trade log and per-strategy
// summary to an Excel workbook
func WriteSessionXLSX(results []types.TradeResult, summary ledger.Summary, path string) error {
	// Ensure directory exists before creating the file
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const tradesSheet = "Trades"
	const summarySheet = "Summary"

	fx.SetSheetName(fx.GetSheetName(0), tradesSheet)
	fx.NewSheet(summarySheet)

	styles, err := createStyles(fx)
	if err != nil {
		return err
	}

	if err := writeTradesSheet(fx, tradesSheet, results, styles); err != nil {
		return err
	}
	if err := writeSummarySheet(fx, summarySheet, summary, styles); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

func createStyles(fx *excelize.File) (excelStyles, error) {
	var styles excelStyles
	var err error

	styles.Header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:   true,
			Size:   11,
			Color:  "FFFFFF",
			Family: "Calibri",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"2F4F4F"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return styles, err
	}

	styles.Currency, err = fx.NewStyle(&excelize.Style{
		NumFmt: 7, // currency with $ symbol
		Alignment: &excelize.Alignment{
			Horizontal: "right",
		},
	})
	return styles, err
}

func writeTradesSheet(fx *excelize.File, sheet string, results []types.TradeResult, styles excelStyles) error {
	headers := []string{"#", "Executed At", "Strategy", "Type", "Symbol", "Size", "Fill Price", "Order ID", "Status", "Error"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	headerRange, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := fx.SetCellStyle(sheet, "A1", headerRange, styles.Header); err != nil {
		return err
	}

	for i, r := range results {
		row := i + 2
		values := []interface{}{
			i + 1,
			r.ExecutedAt.Format("2006-01-02 15:04:05"),
			r.Request.StrategyName,
			string(r.Request.SignalType),
			r.Request.Symbol,
			r.Request.Size,
			r.FillPrice,
			r.OrderID,
			string(r.Status),
			r.ErrorMessage,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := fx.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
		priceCell, _ := excelize.CoordinatesToCellName(7, row)
		fx.SetCellStyle(sheet, priceCell, priceCell, styles.Currency)
	}

	fx.SetColWidth(sheet, "B", "B", 20)
	fx.SetColWidth(sheet, "C", "E", 14)
	fx.SetColWidth(sheet, "H", "J", 24)
	return nil
}

func writeSummarySheet(fx *excelize.File, sheet string, summary ledger.Summary, styles excelStyles) error {
	headers := []string{"Strategy", "Open Positions", "Unrealized P&L", "Realized P&L"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	if err := fx.SetCellStyle(sheet, "A1", "D1", styles.Header); err != nil {
		return err
	}

	row := 2
	for name, s := range summary.Strategies {
		fx.SetCellValue(sheet, fmt.Sprintf("A%d", row), name)
		fx.SetCellValue(sheet, fmt.Sprintf("B%d", row), s.OpenPositions)
		fx.SetCellValue(sheet, fmt.Sprintf("C%d", row), s.UnrealizedPnL)
		fx.SetCellValue(sheet, fmt.Sprintf("D%d", row), s.RealizedPnL)
		fx.SetCellStyle(sheet, fmt.Sprintf("C%d", row), fmt.Sprintf("D%d", row), styles.Currency)
		row++
	}

	fx.SetCellValue(sheet, fmt.Sprintf("A%d", row), "TOTAL")
	fx.SetCellValue(sheet, fmt.Sprintf("B%d", row), summary.OpenPositions)
	fx.SetCellValue(sheet, fmt.Sprintf("C%d", row), summary.UnrealizedPnL)
	fx.SetCellValue(sheet, fmt.Sprintf("D%d", row), summary.RealizedPnL)
	fx.SetCellStyle(sheet, fmt.Sprintf("C%d", row), fmt.Sprintf("D%d", row), styles.Currency)

	fx.SetColWidth(sheet, "A", "D", 18)
	return nil
}
