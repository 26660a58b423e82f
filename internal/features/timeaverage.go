package features

import "math"

// timeAverage implements spec.md §4.4 step 6: averages a time series to
// a single value. Non-finite inputs are not skipped; they participate in
// the sum like any other value. If ignoreInfAndNaN, a non-finite *result*
// is replaced with 0 and diagnosed=true so the caller can log it;
// otherwise a non-finite result is returned as-is.
func timeAverage(values []float64, ignoreInfAndNaN bool) (avg float64, diagnosed bool) {
	if len(values) == 0 {
		return 0, false
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	result := sum / float64(len(values))

	if !ignoreInfAndNaN {
		return result, false
	}
	if math.IsInf(result, 0) || math.IsNaN(result) {
		return 0, true
	}
	return result, false
}
