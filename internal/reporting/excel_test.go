package reporting

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/quantfold/sigflow/internal/ledger"
	"github.com/quantfold/sigflow/pkg/types"
)

func TestWriteSessionXLSX(t *testing.T) {
	results := []types.TradeResult{
		{
			Request: types.TradeRequest{
				SignalType:   types.SignalBuy,
				Symbol:       "MNQ",
				Size:         2,
				StrategyName: "momentum",
			},
			Success:    true,
			OrderID:    "SIM-1",
			FillPrice:  18000.25,
			Status:     types.TradeStatusFilled,
			ExecutedAt: time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC),
		},
		{
			Request: types.TradeRequest{
				SignalType:   types.SignalShort,
				Symbol:       "MES",
				Size:         1,
				StrategyName: "meanrev",
			},
			Success:      false,
			Status:       types.TradeStatusRejected,
			ErrorMessage: "symbol position limit",
		},
	}
	summary := ledger.Summary{
		OpenPositions: 1,
		RealizedPnL:   125.50,
		Strategies: map[string]ledger.StrategySummary{
			"momentum": {OpenPositions: 1, RealizedPnL: 125.50},
		},
	}

	path := filepath.Join(t.TempDir(), "reports", "session.xlsx")
	require.NoError(t, WriteSessionXLSX(results, summary, path))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	assert.ElementsMatch(t, []string{"Trades", "Summary"}, fx.GetSheetList())

	symbol, err := fx.GetCellValue("Trades", "E2")
	require.NoError(t, err)
	assert.Equal(t, "MNQ", symbol)

	status, err := fx.GetCellValue("Trades", "I3")
	require.NoError(t, err)
	assert.Equal(t, "rejected", status)

	strategy, err := fx.GetCellValue("Summary", "A2")
	require.NoError(t, err)
	assert.Equal(t, "momentum", strategy)
}

func TestWriteSessionXLSX_EmptySession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	err := WriteSessionXLSX(nil, ledger.Summary{}, path)
	assert.NoError(t, err)
}
