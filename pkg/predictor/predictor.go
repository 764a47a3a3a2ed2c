// Package predictor serves university-exam estimates from registered models,
// degrading to heuristic fallbacks when no model can score a request.
package predictor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/visiongrade/gradecast/pkg/features"
	"github.com/visiongrade/gradecast/pkg/logx"
	"github.com/visiongrade/gradecast/pkg/marks"
	"github.com/visiongrade/gradecast/pkg/recovery"
	"github.com/visiongrade/gradecast/pkg/registry"
	"github.com/visiongrade/gradecast/pkg/retry"
	"github.com/visiongrade/gradecast/pkg/svcerr"
	"github.com/visiongrade/gradecast/pkg/validate"
)

// MethodModel tags an estimate produced by a trained model, as opposed to the
// recovery package's fallback tiers.
const MethodModel = "model"

// Result is one scored prediction
type Result struct {
	StudentID       int                `json:"student_id"`
	SubjectID       int                `json:"subject_id"`
	PredictedMarks  float64            `json:"predicted_marks"`
	ConfidenceScore float64            `json:"confidence_score"`
	Method          string             `json:"prediction_method"`
	ModelKey        string             `json:"model_key,omitempty"`
	ModelVersion    string             `json:"model_version,omitempty"`
	FeaturesUsed    map[string]float64 `json:"features_used,omitempty"`
	Warning         string             `json:"warning,omitempty"`
	DataQuality     string             `json:"data_quality,omitempty"`
	SaveWarning     string             `json:"save_warning,omitempty"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

// BatchItem is one entry of a batch prediction response. Failures are carried
// per item so one bad student record cannot sink the batch.
type BatchItem struct {
	StudentID int     `json:"student_id"`
	SubjectID int     `json:"subject_id"`
	Success   bool    `json:"success"`
	Result    *Result `json:"result,omitempty"`
	Error     string  `json:"error,omitempty"`
	ErrorCode string  `json:"error_code,omitempty"`
}

// Saver persists a prediction for later visibility toggling and accuracy
// tracking.
type Saver interface {
	SavePrediction(ctx context.Context, res Result) error
}

// Predictor scores student records against the model registry
type Predictor struct {
	registry *registry.Registry
	builder  features.Builder
	policy   recovery.EstimatePolicy
	runner   *retry.Runner
	logger   *logx.Logger
}

// New creates a predictor over the given registry
func New(reg *registry.Registry, builder features.Builder, policy recovery.EstimatePolicy, logger *logx.Logger) *Predictor {
	return &Predictor{
		registry: reg,
		builder:  builder,
		policy:   policy,
		runner:   retry.NewRunner(retry.DefaultConfig()),
		logger:   logger.WithComponent("predictor"),
	}
}

// Predict estimates the university percentage for one student record. A model
// prediction is attempted first; any failure on that path degrades to the
// heuristic fallback tiers. An error is returned only when both paths fail.
func (p *Predictor) Predict(ctx context.Context, rec marks.StudentRecord) (Result, error) {
	known := make(map[string]float64, len(rec.Marks))
	for exam, pct := range rec.Marks {
		known[string(exam)] = pct
	}
	if ok, issues := validate.DataIntegrity(known, "student marks"); !ok {
		p.logger.Warn("student marks failed integrity validation",
			"student_id", rec.StudentID, "subject_id", rec.SubjectID, "issues", issues)
		return p.fallbackResult(rec), nil
	}

	primary := func() (Result, error) { return p.modelPredict(ctx, rec) }
	fallback := func() (Result, error) { return p.fallbackResult(rec), nil }

	return recovery.WithFallback(p.logger, "predict", primary, fallback)
}

// modelPredict runs the resolve, build, score, clip, confidence pipeline
func (p *Predictor) modelPredict(ctx context.Context, rec marks.StudentRecord) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, svcerr.Unexpected("prediction cancelled", err)
	}

	subjectID := rec.SubjectID
	key, err := p.registry.Resolve(&subjectID)
	if err != nil {
		return Result{}, err
	}

	columns, err := p.registry.FeatureColumns(key)
	if err != nil {
		return Result{}, err
	}

	vector, named := p.builder.Build(rec, columns)
	raw, err := p.registry.PredictWith(key, vector)
	if err != nil {
		return Result{}, err
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return Result{}, svcerr.Prediction("model produced a non-finite estimate", map[string]interface{}{
			"model_key": key,
			"raw":       fmt.Sprint(raw),
		})
	}

	clipped := math.Min(math.Max(raw, 0), 100)
	present := rec.InternalMarks()

	result := Result{
		StudentID:       rec.StudentID,
		SubjectID:       rec.SubjectID,
		PredictedMarks:  math.Round(clipped*100) / 100,
		ConfidenceScore: confidence(present),
		Method:          MethodModel,
		ModelKey:        key,
		ModelVersion:    p.registry.Version(),
		FeaturesUsed:    named,
		GeneratedAt:     time.Now().UTC(),
	}

	p.logger.Debug("model prediction served",
		"student_id", rec.StudentID, "subject_id", rec.SubjectID,
		"model_key", key, "predicted", result.PredictedMarks, "confidence", result.ConfidenceScore)
	return result, nil
}

// fallbackResult maps the recovery estimate into a prediction result. The
// estimator works on the raw internal-mark basis, so percentages are scaled
// down before the call.
func (p *Predictor) fallbackResult(rec marks.StudentRecord) Result {
	percentages := rec.InternalMarks()
	rawBasis := make([]float64, len(percentages))
	for i, pct := range percentages {
		rawBasis[i] = pct / 100 * p.policy.InternalMaxMarks
	}

	fb := recovery.Estimate(p.policy, rawBasis)
	return Result{
		StudentID:       rec.StudentID,
		SubjectID:       rec.SubjectID,
		PredictedMarks:  fb.PredictedMarks,
		ConfidenceScore: fb.ConfidenceScore,
		Method:          fb.Method,
		Warning:         fb.Warning,
		DataQuality:     fb.DataQuality,
		GeneratedAt:     time.Now().UTC(),
	}
}

// batchRecordError rejects records that cannot identify a student/subject or
// carry no usable marks. Single predictions degrade such inputs to fallback
// tiers; in a batch they are reported as failed items instead so one caller
// mistake is visible next to the served predictions.
func batchRecordError(rec marks.StudentRecord) *svcerr.Error {
	if rec.StudentID <= 0 || rec.SubjectID <= 0 {
		return svcerr.Data("record is missing student or subject identifiers", map[string]interface{}{
			"student_id": rec.StudentID,
			"subject_id": rec.SubjectID,
		})
	}
	if len(rec.Marks) == 0 {
		return svcerr.Data("record has no marks", map[string]interface{}{
			"student_id": rec.StudentID,
			"subject_id": rec.SubjectID,
		})
	}
	known := make(map[string]float64, len(rec.Marks))
	for exam, pct := range rec.Marks {
		known[string(exam)] = pct
	}
	if ok, issues := validate.DataIntegrity(known, "student marks"); !ok {
		return svcerr.Data("record marks failed integrity validation", map[string]interface{}{
			"student_id": rec.StudentID,
			"subject_id": rec.SubjectID,
			"issues":     issues,
		})
	}
	return nil
}

// PredictBatch scores many records with per-item isolation and reports how
// many succeeded.
func (p *Predictor) PredictBatch(ctx context.Context, recs []marks.StudentRecord) ([]BatchItem, int) {
	items := make([]BatchItem, 0, len(recs))
	succeeded := 0

	for _, rec := range recs {
		if se := batchRecordError(rec); se != nil {
			items = append(items, BatchItem{
				StudentID: rec.StudentID,
				SubjectID: rec.SubjectID,
				Success:   false,
				Error:     se.Message,
				ErrorCode: se.Code,
			})
			continue
		}

		res, err := p.Predict(ctx, rec)
		if err != nil {
			se := svcerr.Classify(err, svcerr.CodePrediction, "prediction failed")
			items = append(items, BatchItem{
				StudentID: rec.StudentID,
				SubjectID: rec.SubjectID,
				Success:   false,
				Error:     se.Message,
				ErrorCode: se.Code,
			})
			continue
		}
		item := res
		items = append(items, BatchItem{
			StudentID: rec.StudentID,
			SubjectID: rec.SubjectID,
			Success:   true,
			Result:    &item,
		})
		succeeded++
	}

	p.logger.Info("batch prediction finished", "total", len(recs), "succeeded", succeeded)
	return items, succeeded
}

// PredictAndSave predicts and then persists the result. Persistence failures
// never fail the prediction; they are retried and, if still failing, recorded
// as a warning on the result.
func (p *Predictor) PredictAndSave(ctx context.Context, rec marks.StudentRecord, saver Saver) (Result, error) {
	res, err := p.Predict(ctx, rec)
	if err != nil {
		return res, err
	}

	saveErr := p.runner.Do(ctx, "save_prediction", func(ctx context.Context) error {
		return saver.SavePrediction(ctx, res)
	})
	if saveErr != nil {
		p.logger.Warn("prediction could not be persisted",
			"student_id", rec.StudentID, "subject_id", rec.SubjectID, "error", saveErr.Error())
		res.SaveWarning = "prediction generated but could not be saved"
	}
	return res, nil
}

// confidence scores how much the inputs can be trusted: a base of 0.5, up to
// 0.3 for assessment completeness and up to 0.2 for consistency (low variance
// across the present internals). A single mark has no spread to judge, so the
// consistency credit needs at least two. Clipped to [0, 1].
func confidence(presentInternals []float64) float64 {
	score := 0.5
	score += float64(len(presentInternals)) / 3.0 * 0.3

	if len(presentInternals) >= 2 {
		mean := 0.0
		for _, v := range presentInternals {
			mean += v
		}
		mean /= float64(len(presentInternals))

		variance := 0.0
		for _, v := range presentInternals {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(len(presentInternals))

		score += math.Max(0, (100-variance)/100) * 0.2
	}

	return math.Min(math.Max(score, 0), 1)
}
