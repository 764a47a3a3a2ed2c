package validate

import (
	"fmt"
	"math"
)

// PredictFunc is the minimal prediction surface a health check needs
type PredictFunc func(features []float64) (float64, error)

// ModelHealth verifies a loaded model is safe to serve. Hard issues block
// usage; soft findings come back prefixed "warning:" and do not affect ok.
// featureCount <= -1 means the count is unknown and is only warned about.
func ModelHealth(predict PredictFunc, featureCount int, sample []float64) (bool, []string) {
	var issues []string
	var warnings []string

	if predict == nil {
		issues = append(issues, "model exposes no prediction method")
		return false, issues
	}

	if featureCount == 0 || featureCount < -1 {
		issues = append(issues, fmt.Sprintf("model has invalid feature count: %d", featureCount))
	} else if featureCount == -1 {
		warnings = append(warnings, "model does not expose feature count information")
	}

	if len(sample) > 0 {
		pred, err := predict(sample)
		switch {
		case err != nil:
			issues = append(issues, fmt.Sprintf("model prediction test failed: %v", err))
		case math.IsNaN(pred):
			issues = append(issues, "model prediction is NaN")
		case math.IsInf(pred, 0):
			issues = append(issues, "model prediction is infinite")
		default:
			if pred < 0 || pred > 100 {
				warnings = append(warnings, fmt.Sprintf("model prediction %.2f outside [0,100]", pred))
			}
			// Repeat on identical input: results must be numerically close.
			again, err2 := predict(sample)
			if err2 != nil {
				issues = append(issues, fmt.Sprintf("repeated model prediction failed: %v", err2))
			} else if math.Abs(pred-again) > 1e-5*(math.Abs(pred)+1) {
				warnings = append(warnings, "model predictions are not consistent across identical inputs")
			}
		}
	}

	ok := len(issues) == 0
	for _, w := range warnings {
		issues = append(issues, "warning: "+w)
	}
	return ok, issues
}
