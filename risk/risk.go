package risk

// SizeFromRisk returns the position size (in units of the instrument) that
// risks the provided budget over the entry-to-stop distance. The caller must
// pass the prices so that the distance is positive, entry then stop for
// longs, stop then entry for shorts. Returns 0 if the budget or distance is
// not positive.
func SizeFromRisk(riskBudget float64, entry float64, stop float64) float64 {
	dist := entry - stop
	if riskBudget <= 0 || dist <= 0 {
		return 0
	}

	return riskBudget / dist
}
