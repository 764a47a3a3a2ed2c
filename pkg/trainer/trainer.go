// Package trainer builds supervised training tables from raw marks, fits
// candidate regressors and persists the winner.
package trainer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/visiongrade/gradecast/pkg/features"
	"github.com/visiongrade/gradecast/pkg/logx"
	"github.com/visiongrade/gradecast/pkg/marks"
	"github.com/visiongrade/gradecast/pkg/model"
	"github.com/visiongrade/gradecast/pkg/registry"
	"github.com/visiongrade/gradecast/pkg/svcerr"
)

// Config controls training behavior. The split seed is fixed so repeated
// runs over the same corpus are reproducible.
type Config struct {
	MinRows           int     `json:"min_rows"`
	TestFraction      float64 `json:"test_fraction"`
	Seed              int64   `json:"seed"`
	ModelVersion      string  `json:"model_version"`
	AttendanceDefault float64 `json:"attendance_default"`
}

// DefaultConfig returns the standard training configuration
func DefaultConfig() Config {
	return Config{
		MinRows:           10,
		TestFraction:      0.2,
		Seed:              42,
		ModelVersion:      registry.DefaultModelVersion,
		AttendanceDefault: 80.0,
	}
}

// Row is one supervised training example: a feature vector in canonical
// column order and a non-null university percentage target.
type Row struct {
	StudentID int       `json:"student_id"`
	SubjectID int       `json:"subject_id"`
	Features  []float64 `json:"features"`
	Target    float64   `json:"target"`
}

// CandidateReport carries one candidate's held-out metrics, or the reason it
// could not be fitted.
type CandidateReport struct {
	Metrics *registry.Metrics `json:"metrics,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Result is what a training run reports. Failures are returned inside the
// result, never thrown past the API boundary.
type Result struct {
	Success           bool                       `json:"success"`
	ModelKey          string                     `json:"model_key,omitempty"`
	BestModel         string                     `json:"best_model,omitempty"`
	ModelVersion      string                     `json:"model_version,omitempty"`
	TrainingSamples   int                        `json:"training_samples,omitempty"`
	TestSamples       int                        `json:"test_samples,omitempty"`
	ModelPerformance  *registry.Metrics          `json:"model_performance,omitempty"`
	AllModels         map[string]CandidateReport `json:"all_models_performance,omitempty"`
	FeatureImportance map[string]float64         `json:"feature_importance,omitempty"`
	ModelPath         string                     `json:"model_path,omitempty"`
	TrainedAt         time.Time                  `json:"trained_at"`
	Error             string                     `json:"error,omitempty"`
	ErrorCode         string                     `json:"error_code,omitempty"`
}

// Trainer fits candidate regressors over a marks corpus
type Trainer struct {
	config     Config
	registry   *registry.Registry
	builder    features.Builder
	logger     *logx.Logger
	candidates func() []model.Regressor
}

// New creates a trainer. The candidate order is fixed: the simpler family
// comes first and wins equal-MAE ties.
func New(config Config, reg *registry.Registry, logger *logx.Logger) *Trainer {
	if config.MinRows <= 0 {
		config.MinRows = 10
	}
	if config.TestFraction <= 0 || config.TestFraction >= 1 {
		config.TestFraction = 0.2
	}
	if config.ModelVersion == "" {
		config.ModelVersion = registry.DefaultModelVersion
	}
	return &Trainer{
		config:   config,
		registry: reg,
		builder:  features.NewBuilder(config.AttendanceDefault),
		logger:   logger.WithComponent("trainer"),
		candidates: func() []model.Regressor {
			return []model.Regressor{model.NewLinear(), model.NewInteraction()}
		},
	}
}

func failure(err *svcerr.Error) Result {
	return Result{
		Success:   false,
		Error:     err.Message,
		ErrorCode: err.Code,
		TrainedAt: time.Now().UTC(),
	}
}

// Train runs the full pipeline: build rows, split, fit candidates, evaluate,
// select by MAE, persist the winner keyed subject_{id} or general.
func (t *Trainer) Train(ctx context.Context, records []marks.MarkRecord, subjectID *int) Result {
	rows, err := t.BuildRows(records)
	if err != nil {
		t.logger.Error("training data preparation failed", "error", err.Error())
		return failure(err)
	}

	if len(rows) < t.config.MinRows {
		return failure(svcerr.Data(
			fmt.Sprintf("insufficient training data: %d records, need at least %d", len(rows), t.config.MinRows),
			map[string]interface{}{"rows": len(rows), "min_rows": t.config.MinRows},
		))
	}

	if err := ctx.Err(); err != nil {
		return failure(svcerr.Unexpected("training cancelled", err))
	}

	trainRows, testRows := t.split(rows)
	columns := features.CanonicalColumns()

	trainX, trainY := toMatrix(trainRows)
	testX, testY := toMatrix(testRows)

	reports := make(map[string]CandidateReport)
	var best model.Regressor
	var bestMetrics *registry.Metrics
	var lastFitErr error

	for _, candidate := range t.candidates() {
		if err := candidate.Fit(trainX, trainY); err != nil {
			t.logger.Warn("candidate fit failed", "model", candidate.Name(), "error", err.Error())
			reports[candidate.Name()] = CandidateReport{Error: err.Error()}
			lastFitErr = err
			continue
		}

		metrics, err := evaluate(candidate, testX, testY)
		if err != nil {
			t.logger.Warn("candidate evaluation failed", "model", candidate.Name(), "error", err.Error())
			reports[candidate.Name()] = CandidateReport{Error: err.Error()}
			lastFitErr = err
			continue
		}

		reports[candidate.Name()] = CandidateReport{Metrics: metrics}
		// Strict comparison: the first candidate evaluated keeps equal-MAE ties.
		if bestMetrics == nil || metrics.MAE < bestMetrics.MAE {
			best = candidate
			bestMetrics = metrics
		}
	}

	if best == nil {
		return failure(svcerr.Model("all candidate models failed to train", map[string]interface{}{
			"candidates": len(reports),
		}).WithCause(lastFitErr))
	}

	key := registry.KeyGeneral
	if subjectID != nil {
		key = registry.SubjectKey(*subjectID)
	}

	artifact := t.buildArtifact(best, bestMetrics, columns)
	path, err2 := t.registry.SaveAndRegister(key, artifact)
	if err2 != nil {
		return failure(svcerr.Classify(err2, svcerr.CodeModel, "trained model could not be persisted"))
	}

	t.logger.Info("training completed",
		"key", key,
		"best_model", best.Name(),
		"mae", bestMetrics.MAE,
		"r2", bestMetrics.R2,
		"train_rows", len(trainRows),
		"test_rows", len(testRows),
	)

	return Result{
		Success:           true,
		ModelKey:          key,
		BestModel:         best.Name(),
		ModelVersion:      t.config.ModelVersion,
		TrainingSamples:   len(trainRows),
		TestSamples:       len(testRows),
		ModelPerformance:  bestMetrics,
		AllModels:         reports,
		FeatureImportance: artifact.FeatureImportance,
		ModelPath:         path,
		TrainedAt:         time.Now().UTC(),
	}
}

func (t *Trainer) buildArtifact(best model.Regressor, metrics *registry.Metrics, columns []string) *registry.Artifact {
	a := &registry.Artifact{
		ModelName:         best.Name(),
		FeatureColumns:    columns,
		Metrics:           metrics,
		FeatureImportance: best.FeatureImportances(columns),
		ModelVersion:      t.config.ModelVersion,
		TrainedAt:         time.Now().UTC(),
	}
	if ls, ok := best.(*model.LeastSquares); ok {
		a.Intercept = ls.Intercept
		a.Weights = ls.Weights
		a.Crosses = ls.Crosses
	}
	return a
}

// BuildRows groups raw marks by (student, subject) and keeps the groups that
// have a university target and at least two internal assessments.
func (t *Trainer) BuildRows(records []marks.MarkRecord) ([]Row, *svcerr.Error) {
	type groupKey struct{ student, subject int }
	groups := make(map[groupKey]*marks.StudentRecord)
	order := make([]groupKey, 0)
	skipped := 0

	for _, rec := range records {
		pct, err := rec.Percentage()
		if err != nil {
			skipped++
			continue
		}
		key := groupKey{rec.StudentID, rec.SubjectID}
		g, ok := groups[key]
		if !ok {
			g = &marks.StudentRecord{
				StudentID:   rec.StudentID,
				SubjectID:   rec.SubjectID,
				SubjectType: rec.SubjectType,
				Semester:    rec.Semester,
				Marks:       make(map[marks.ExamType]float64),
			}
			groups[key] = g
			order = append(order, key)
		}
		g.Marks[rec.ExamType] = pct
	}

	if skipped > 0 {
		t.logger.Warn("skipped invalid mark records", "count", skipped)
	}

	columns := features.CanonicalColumns()
	rows := make([]Row, 0, len(groups))
	for _, key := range order {
		g := groups[key]
		target, hasTarget := g.Marks[marks.ExamUniversity]
		if !hasTarget || len(g.InternalMarks()) < 2 {
			continue
		}
		vector, _ := t.builder.Build(*g, columns)
		rows = append(rows, Row{
			StudentID: g.StudentID,
			SubjectID: g.SubjectID,
			Features:  vector,
			Target:    target,
		})
	}

	if len(rows) == 0 {
		return nil, svcerr.Data(
			"no valid training data found: need students with university marks and internal assessments",
			map[string]interface{}{"raw_records": len(records)},
		)
	}
	return rows, nil
}

// split shuffles deterministically and carves off the held-out test set
func (t *Trainer) split(rows []Row) (train, test []Row) {
	rng := rand.New(rand.NewSource(t.config.Seed))
	shuffled := make([]Row, len(rows))
	for i, j := range rng.Perm(len(rows)) {
		shuffled[i] = rows[j]
	}

	nTest := int(float64(len(shuffled)) * t.config.TestFraction)
	if nTest < 1 {
		nTest = 1
	}
	return shuffled[nTest:], shuffled[:nTest]
}

func toMatrix(rows []Row) ([][]float64, []float64) {
	x := make([][]float64, len(rows))
	y := make([]float64, len(rows))
	for i, r := range rows {
		x[i] = r.Features
		y[i] = r.Target
	}
	return x, y
}

// evaluate scores a fitted candidate on the held-out split
func evaluate(m model.Regressor, testX [][]float64, testY []float64) (*registry.Metrics, error) {
	if len(testX) == 0 {
		return nil, fmt.Errorf("empty test split")
	}

	preds := make([]float64, len(testX))
	for i, x := range testX {
		p, err := m.Predict(x)
		if err != nil {
			return nil, err
		}
		preds[i] = p
	}

	var absSum, sqSum float64
	within10, comparable := 0, 0
	for i, p := range preds {
		diff := p - testY[i]
		absSum += math.Abs(diff)
		sqSum += diff * diff
		if testY[i] != 0 {
			comparable++
			if math.Abs(diff)/math.Abs(testY[i]) <= 0.10 {
				within10++
			}
		}
	}

	n := float64(len(preds))
	mae := absSum / n
	mse := sqSum / n

	meanY := stat.Mean(testY, nil)
	var ssTot float64
	for _, y := range testY {
		ssTot += (y - meanY) * (y - meanY)
	}
	r2 := 0.0
	if ssTot > 0 {
		r2 = 1 - sqSum/ssTot
	}

	acc := 0.0
	if comparable > 0 {
		acc = float64(within10) / float64(comparable)
	}

	return &registry.Metrics{
		MAE:                 mae,
		MSE:                 mse,
		RMSE:                math.Sqrt(mse),
		R2:                  r2,
		AccuracyWithin10Pct: acc,
	}, nil
}
