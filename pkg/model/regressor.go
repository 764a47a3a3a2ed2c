// Package model defines the regression learner contract and the least-squares
// families the trainer compares.
package model

import (
	"fmt"
	"math"

	"github.com/sajari/regression"
)

// Regressor is the learner capability contract: anything that can fit a
// supervised table and score a single feature vector is a candidate model.
type Regressor interface {
	// Name identifies the model family in artifacts and training reports
	Name() string
	// Fit trains on a feature matrix and target vector
	Fit(features [][]float64, targets []float64) error
	// Predict scores one feature vector
	Predict(features []float64) (float64, error)
	// FeatureImportances returns per-column importances normalized to sum to 1,
	// or nil when the model cannot attribute importance.
	FeatureImportances(columns []string) map[string]float64
}

// CrossPair names two base feature indices whose product is an extra term
type CrossPair struct {
	A int `json:"a"`
	B int `json:"b"`
}

// LeastSquares is a linear model fit by ordinary least squares, optionally
// expanded with multiplicative interaction terms. After fitting, the learned
// coefficients are kept on the struct so predictions (and reloaded artifacts)
// need no fitting state.
type LeastSquares struct {
	ModelName string      `json:"model_name"`
	Crosses   []CrossPair `json:"crosses,omitempty"`
	Intercept float64     `json:"intercept"`
	Weights   []float64   `json:"weights"`
	fitted    bool
}

// NewLinear returns the plain least-squares family
func NewLinear() *LeastSquares {
	return &LeastSquares{ModelName: "linear"}
}

// NewInteraction returns a least-squares family expanded with interaction
// terms between the series tests and between the internal average and
// attendance, so correlated assessments can reinforce each other.
func NewInteraction() *LeastSquares {
	return &LeastSquares{
		ModelName: "interaction",
		Crosses: []CrossPair{
			{A: 0, B: 1}, // series_test_1 x series_test_2
			{A: 3, B: 6}, // average_internal x attendance
		},
	}
}

// Restore rebuilds a fitted model from persisted coefficients
func Restore(name string, intercept float64, weights []float64, crosses []CrossPair) (*LeastSquares, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("restore %s: no weights", name)
	}
	return &LeastSquares{
		ModelName: name,
		Crosses:   crosses,
		Intercept: intercept,
		Weights:   weights,
		fitted:    true,
	}, nil
}

// Name implements Regressor
func (m *LeastSquares) Name() string { return m.ModelName }

// expand appends the configured interaction terms to a base feature vector
func (m *LeastSquares) expand(features []float64) ([]float64, error) {
	if len(m.Crosses) == 0 {
		return features, nil
	}
	out := make([]float64, len(features), len(features)+len(m.Crosses))
	copy(out, features)
	for _, c := range m.Crosses {
		if c.A >= len(features) || c.B >= len(features) || c.A < 0 || c.B < 0 {
			return nil, fmt.Errorf("%s: cross term (%d,%d) outside feature vector of length %d",
				m.ModelName, c.A, c.B, len(features))
		}
		out = append(out, features[c.A]*features[c.B])
	}
	return out, nil
}

// Fit implements Regressor using ordinary least squares. Zero-variance
// columns carry no signal and break the solver's back substitution, so they
// are dropped from the fit and assigned zero weight; their constant offset is
// absorbed by the intercept.
func (m *LeastSquares) Fit(features [][]float64, targets []float64) error {
	if len(features) == 0 || len(features) != len(targets) {
		return fmt.Errorf("%s: feature/target size mismatch (%d vs %d)",
			m.ModelName, len(features), len(targets))
	}

	width := len(features[0]) + len(m.Crosses)
	rows := make([][]float64, len(features))
	for i, row := range features {
		expanded, err := m.expand(row)
		if err != nil {
			return err
		}
		if len(expanded) != width {
			return fmt.Errorf("%s: row %d has %d features, expected %d",
				m.ModelName, i, len(expanded), width)
		}
		rows[i] = expanded
	}

	varying := varyingColumns(rows)
	if len(varying) == 0 {
		return fmt.Errorf("%s: all feature columns are constant", m.ModelName)
	}

	r := new(regression.Regression)
	r.SetObserved("university_percentage")
	for i, col := range varying {
		r.SetVar(i, fmt.Sprintf("f%d", col))
	}
	for i, row := range rows {
		reduced := make([]float64, len(varying))
		for j, col := range varying {
			reduced[j] = row[col]
		}
		r.Train(regression.DataPoint(targets[i], reduced))
	}

	if err := r.Run(); err != nil {
		return fmt.Errorf("%s regression failed: %w", m.ModelName, err)
	}

	coeffs := r.GetCoeffs()
	if len(coeffs) != len(varying)+1 {
		return fmt.Errorf("%s: unexpected coefficient count %d for %d terms",
			m.ModelName, len(coeffs), len(varying))
	}

	m.Intercept = coeffs[0]
	m.Weights = make([]float64, width)
	for j, col := range varying {
		m.Weights[col] = coeffs[j+1]
	}
	m.fitted = true
	return nil
}

// varyingColumns returns the indices of columns that take more than one value
func varyingColumns(rows [][]float64) []int {
	if len(rows) == 0 {
		return nil
	}
	var varying []int
	for col := range rows[0] {
		first := rows[0][col]
		for _, row := range rows[1:] {
			if row[col] != first {
				varying = append(varying, col)
				break
			}
		}
	}
	return varying
}

// Predict implements Regressor on the stored coefficients
func (m *LeastSquares) Predict(features []float64) (float64, error) {
	if !m.fitted {
		return 0, fmt.Errorf("%s: model is not fitted", m.ModelName)
	}
	expanded, err := m.expand(features)
	if err != nil {
		return 0, err
	}
	if len(expanded) != len(m.Weights) {
		return 0, fmt.Errorf("%s: got %d feature terms, model expects %d",
			m.ModelName, len(expanded), len(m.Weights))
	}
	pred := m.Intercept
	for i, w := range m.Weights {
		pred += w * expanded[i]
	}
	return pred, nil
}

// BaseFeatureCount returns how many raw features the model expects,
// excluding interaction terms.
func (m *LeastSquares) BaseFeatureCount() int {
	return len(m.Weights) - len(m.Crosses)
}

// FeatureImportances implements Regressor. Importance of a base feature is
// its absolute weight share; interaction terms are folded into both parents.
func (m *LeastSquares) FeatureImportances(columns []string) map[string]float64 {
	if !m.fitted || len(columns) == 0 {
		return nil
	}
	raw := make([]float64, len(columns))
	for i := 0; i < len(columns) && i < len(m.Weights); i++ {
		raw[i] = math.Abs(m.Weights[i])
	}
	for ci, c := range m.Crosses {
		wi := len(columns) + ci
		if wi >= len(m.Weights) {
			break
		}
		half := math.Abs(m.Weights[wi]) / 2
		if c.A < len(raw) {
			raw[c.A] += half
		}
		if c.B < len(raw) {
			raw[c.B] += half
		}
	}

	total := 0.0
	for _, v := range raw {
		total += v
	}
	if total == 0 {
		return nil
	}

	out := make(map[string]float64, len(columns))
	for i, col := range columns {
		out[col] = raw[i] / total
	}
	return out
}
