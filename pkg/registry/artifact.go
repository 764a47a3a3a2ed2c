// Package registry caches trained model artifacts and resolves which model
// serves a prediction request.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/visiongrade/gradecast/pkg/model"
	"github.com/visiongrade/gradecast/pkg/svcerr"
)

// DefaultModelVersion tags artifacts produced by the current pipeline
const DefaultModelVersion = "2.0.0"

// BestAliasFile is the well-known filename of the production best model
const BestAliasFile = "best_production_model.json"

// Metrics holds the held-out evaluation scores stored with every artifact
type Metrics struct {
	MAE                 float64 `json:"mae"`
	MSE                 float64 `json:"mse"`
	RMSE                float64 `json:"rmse"`
	R2                  float64 `json:"r2"`
	AccuracyWithin10Pct float64 `json:"accuracy_within_10pct"`
}

// Artifact is a self-describing serialized model: the file alone carries
// everything needed to validate and serve it. Artifacts are immutable after
// creation; retraining writes a new one.
type Artifact struct {
	ModelName         string             `json:"model_name"`
	Intercept         float64            `json:"intercept"`
	Weights           []float64          `json:"weights"`
	Crosses           []model.CrossPair  `json:"crosses,omitempty"`
	FeatureColumns    []string           `json:"feature_columns"`
	Metrics           *Metrics           `json:"metrics"`
	FeatureImportance map[string]float64 `json:"feature_importance,omitempty"`
	ModelVersion      string             `json:"model_version"`
	TrainedAt         time.Time          `json:"trained_at"`
	IsBest            bool               `json:"is_best,omitempty"`

	regressor *model.LeastSquares
}

// Validate checks the artifact exposes a regressor, feature columns, metrics
// and a version, and rebuilds the in-memory regressor.
func (a *Artifact) Validate() error {
	switch {
	case a == nil:
		return svcerr.Model("model artifact is empty", nil)
	case len(a.Weights) == 0:
		return svcerr.Model("model artifact has no regressor coefficients", nil)
	case len(a.FeatureColumns) == 0:
		return svcerr.Model("model artifact declares no feature columns", nil)
	case a.Metrics == nil:
		return svcerr.Model("model artifact carries no training metrics", nil)
	case a.ModelVersion == "":
		return svcerr.Model("model artifact has no version", nil)
	}

	if len(a.Weights) != len(a.FeatureColumns)+len(a.Crosses) {
		return svcerr.Model("model artifact coefficient count does not match its feature schema",
			map[string]interface{}{
				"weights":         len(a.Weights),
				"feature_columns": len(a.FeatureColumns),
				"crosses":         len(a.Crosses),
			})
	}

	reg, err := model.Restore(a.ModelName, a.Intercept, a.Weights, a.Crosses)
	if err != nil {
		return svcerr.Model("model artifact could not be restored", nil).WithCause(err)
	}
	a.regressor = reg
	return nil
}

// Predict scores a feature vector with the artifact's regressor
func (a *Artifact) Predict(features []float64) (float64, error) {
	if a.regressor == nil {
		return 0, svcerr.Model("model artifact is not validated", nil)
	}
	return a.regressor.Predict(features)
}

// ArtifactFilename encodes the model key and version into a storage filename
func ArtifactFilename(key, version string) string {
	return fmt.Sprintf("%s_model_%s.json", key, version)
}

// ReadArtifact loads and validates one artifact file
func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, svcerr.Model(fmt.Sprintf("model file %s could not be read", path), nil).WithCause(err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, svcerr.Model(fmt.Sprintf("model file %s is not a valid artifact", path), nil).WithCause(err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// WriteArtifact persists an artifact as indented JSON
func WriteArtifact(path string, a *Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
