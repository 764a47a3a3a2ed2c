// Package validate provides data and model integrity checks that gate predictions
package validate

import (
	"fmt"
	"math"
)

// DataIntegrity checks a value for emptiness and NaN/Inf content. It never
// fails hard: the result is (ok, problem descriptions).
func DataIntegrity(data interface{}, label string) (bool, []string) {
	var problems []string

	switch v := data.(type) {
	case nil:
		problems = append(problems, fmt.Sprintf("%s data is nil", label))

	case []float64:
		if len(v) == 0 {
			problems = append(problems, fmt.Sprintf("%s data is empty", label))
		}
		problems = append(problems, scanValues(v, label)...)

	case [][]float64:
		if len(v) == 0 {
			problems = append(problems, fmt.Sprintf("%s data is empty", label))
		}
		for i, row := range v {
			if len(row) == 0 {
				problems = append(problems, fmt.Sprintf("%s row %d is empty", label, i))
				continue
			}
			problems = append(problems, scanValues(row, fmt.Sprintf("%s row %d", label, i))...)
		}

	case map[string]float64:
		if len(v) == 0 {
			problems = append(problems, fmt.Sprintf("%s map is empty", label))
		}
		for key, val := range v {
			if math.IsNaN(val) {
				problems = append(problems, fmt.Sprintf("%s has NaN value for key %q", label, key))
			} else if math.IsInf(val, 0) {
				problems = append(problems, fmt.Sprintf("%s has infinite value for key %q", label, key))
			}
		}

	case map[string]interface{}:
		if len(v) == 0 {
			problems = append(problems, fmt.Sprintf("%s map is empty", label))
		}
		for key, val := range v {
			if val == nil {
				problems = append(problems, fmt.Sprintf("%s has nil value for key %q", label, key))
			}
		}

	default:
		// Unsupported shapes pass; integrity checking is best effort.
	}

	return len(problems) == 0, problems
}

func scanValues(values []float64, label string) []string {
	nan, inf := 0, 0
	for _, v := range values {
		if math.IsNaN(v) {
			nan++
		} else if math.IsInf(v, 0) {
			inf++
		}
	}
	var problems []string
	if nan > 0 {
		problems = append(problems, fmt.Sprintf("%s contains %d NaN values", label, nan))
	}
	if inf > 0 {
		problems = append(problems, fmt.Sprintf("%s contains %d infinite values", label, inf))
	}
	return problems
}
