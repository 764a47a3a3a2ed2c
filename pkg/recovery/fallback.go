// Package recovery provides graceful degradation for the prediction path:
// a primary/fallback combinator and the tiered non-model estimates used when
// no trained model can serve a request.
package recovery

import (
	"math"

	"github.com/visiongrade/gradecast/pkg/logx"
	"github.com/visiongrade/gradecast/pkg/svcerr"
)

// Degradation tiers. Callers must distinguish a degraded estimate from a
// genuine model prediction by this tag, never by value.
const (
	MethodFallback          = "fallback"
	MethodEmergencyFallback = "emergency_fallback"
)

// WithFallback runs primary and, on any failure, runs fallback. When both
// fail the result is a PredictionError embedding both failure messages.
func WithFallback[T any](logger *logx.Logger, name string, primary, fallback func() (T, error)) (T, error) {
	result, err := primary()
	if err == nil {
		return result, nil
	}

	logger.Warn("primary operation failed, attempting fallback", "operation", name, "error", err.Error())

	result, fbErr := fallback()
	if fbErr == nil {
		logger.Info("fallback succeeded", "operation", name)
		return result, nil
	}

	var zero T
	return zero, svcerr.Prediction("both primary and fallback failed", map[string]interface{}{
		"operation":      name,
		"primary_error":  err.Error(),
		"fallback_error": fbErr.Error(),
	})
}

// EstimatePolicy holds the heuristic constants behind fallback estimates.
// The clamp range and internal-mark basis have no derivation behind them;
// they are kept configurable pending empirical recalibration.
type EstimatePolicy struct {
	MinMarks         float64 `json:"min_marks"`
	MaxMarks         float64 `json:"max_marks"`
	InternalMaxMarks float64 `json:"internal_max_marks"`
}

// DefaultEstimatePolicy returns the historical fallback constants
func DefaultEstimatePolicy() EstimatePolicy {
	return EstimatePolicy{MinMarks: 35, MaxMarks: 85, InternalMaxMarks: 50}
}

// Fallback is a degraded estimate produced without a trained model
type Fallback struct {
	PredictedMarks  float64 `json:"predicted_marks"`
	ConfidenceScore float64 `json:"confidence_score"`
	Method          string  `json:"prediction_method"`
	Warning         string  `json:"warning"`
	DataQuality     string  `json:"data_quality,omitempty"`
}

// emergency is the estimate of last resort when even the fallback
// computation misbehaves.
func emergency() Fallback {
	return Fallback{
		PredictedMarks:  60.0,
		ConfidenceScore: 0.2,
		Method:          MethodEmergencyFallback,
		Warning:         "Emergency fallback prediction - please try again later",
	}
}

// Estimate produces the degraded estimate from whatever internal marks are
// present. Marks are assumed on a 0-InternalMaxMarks basis, scaled to 0-100
// and clamped to the policy range. With no marks at all it returns a fixed
// conservative estimate.
func Estimate(policy EstimatePolicy, internalMarks []float64) (fb Fallback) {
	defer func() {
		if r := recover(); r != nil {
			fb = emergency()
		}
	}()

	if len(internalMarks) == 0 {
		return Fallback{
			PredictedMarks:  65.0,
			ConfidenceScore: 0.3,
			Method:          MethodFallback,
			Warning:         "This is a fallback prediction due to model unavailability",
			DataQuality:     "limited",
		}
	}

	sum := 0.0
	for _, m := range internalMarks {
		sum += m
	}
	scaled := sum / float64(len(internalMarks)) / policy.InternalMaxMarks * 100

	if math.IsNaN(scaled) || math.IsInf(scaled, 0) {
		return emergency()
	}

	clamped := math.Min(math.Max(scaled, policy.MinMarks), policy.MaxMarks)
	return Fallback{
		PredictedMarks:  math.Round(clamped*10) / 10,
		ConfidenceScore: 0.5,
		Method:          MethodFallback,
		Warning:         "This is a fallback prediction due to model unavailability",
		DataQuality:     "partial",
	}
}
