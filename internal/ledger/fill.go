package ledger

// FillResult is the outcome of applying one fill to a position.
type FillResult struct {
	Size     int     // new signed position (positive=long, negative=short)
	AvgPrice float64 // new average entry price (0 when flat)
	Realized float64 // realized P&L from the closed portion
	Reduced  bool    // true when the fill closed or reduced existing exposure
}

// ApplyFill applies a fill of `size` contracts in `direction` (+1 buy-side,
// -1 sell-side) at `fillPrice` to a position of `oldSize` contracts with
// average entry `oldAvg`, using weighted-average-cost accounting.
//
// Same-direction fills blend the average price and realize nothing.
// Opposing fills realize closeSize * (fillPrice - oldAvg) * sign(oldSize)
// where closeSize = min(size, |oldSize|). A flip resets the average price
// to the fill price for the entire residual exposure; this approximates
// sequential close-then-reopen accounting.
func ApplyFill(oldSize int, oldAvg float64, direction, size int, fillPrice float64) FillResult {
	delta := direction * size
	newSize := oldSize + delta

	res := FillResult{Size: newSize}

	if oldSize != 0 && isReducing(oldSize, delta) {
		closeSize := min(size, abs(oldSize))
		res.Reduced = true
		res.Realized = float64(closeSize) * (fillPrice - oldAvg) * float64(sign(oldSize))
	}

	switch {
	case newSize == 0:
		res.AvgPrice = 0
	case oldSize == 0:
		res.AvgPrice = fillPrice
	case sameSign(oldSize, newSize) && !res.Reduced:
		// Adding in the same direction: size-weighted blend.
		totalCost := oldAvg*float64(abs(oldSize)) + fillPrice*float64(size)
		res.AvgPrice = totalCost / float64(abs(newSize))
	case sameSign(oldSize, newSize):
		// Partial close, basis unchanged.
		res.AvgPrice = oldAvg
	default:
		// Flipped sides: fill price becomes the basis of the new exposure.
		res.AvgPrice = fillPrice
	}

	return res
}

func sameSign(a, b int) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func isReducing(oldSize, delta int) bool {
	if oldSize > 0 {
		return delta < 0
	}
	if oldSize < 0 {
		return delta > 0
	}
	return false
}

func sign(a int) int {
	if a < 0 {
		return -1
	}
	return 1
}

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}

