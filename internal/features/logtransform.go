package features

import "math"

// LogMode selects how the power spectrum is clamped before the log10
// transform (spec.md §4.4 step 5).
type LogMode int

const (
	// LogModeClamp clamps each value from below by minPowerClamp before
	// taking log10, avoiding log(0) when a bipolar pair's two inputs are
	// identical.
	LogModeClamp LogMode = iota
	// LogModeEpsilon adds minPowerClamp to every value before log10, for
	// legacy compatibility with pipelines that expect an additive floor.
	LogModeEpsilon
)

// logTransform applies spec.md §4.4 step 5 in place-equivalent fashion,
// returning a new slice.
func logTransform(values []float64, mode LogMode, minPowerClamp float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		switch mode {
		case LogModeEpsilon:
			out[i] = math.Log10(v + minPowerClamp)
		default:
			if v < minPowerClamp {
				v = minPowerClamp
			}
			out[i] = math.Log10(v)
		}
	}
	return out
}
