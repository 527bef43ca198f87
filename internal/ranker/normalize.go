package ranker

// MinMax rescales scores to [0,1]. When every score is equal, including a
// single score, every output is 1.
func MinMax(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		lo = min(lo, s)
		hi = max(hi, s)
	}
	for i, s := range scores {
		if hi > lo {
			out[i] = (s - lo) / (hi - lo)
		} else {
			out[i] = 1
		}
	}
	return out
}
