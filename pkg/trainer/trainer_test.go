package trainer

import (
	"context"
	"testing"

	"github.com/visiongrade/gradecast/pkg/logx"
	"github.com/visiongrade/gradecast/pkg/marks"
	"github.com/visiongrade/gradecast/pkg/registry"
	"github.com/visiongrade/gradecast/pkg/svcerr"
)

func testLogger() *logx.Logger {
	return logx.New("error")
}

func newTestTrainer(t *testing.T) (*Trainer, *registry.Registry) {
	t.Helper()
	reg := registry.New(t.TempDir(), testLogger())
	return New(DefaultConfig(), reg, testLogger()), reg
}

// studentMarks emits the four exam records of one student. All exams use a
// 0-100 scale so obtained marks read directly as percentages.
func studentMarks(studentID, subjectID int, s1, s2, lab, uni float64) []marks.MarkRecord {
	rec := func(exam marks.ExamType, obtained float64) marks.MarkRecord {
		return marks.MarkRecord{
			StudentID: studentID, SubjectID: subjectID,
			ExamType: exam, MarksObtained: obtained, MaxMarks: 100,
			SubjectType: marks.SubjectTheory, Semester: 5,
		}
	}
	return []marks.MarkRecord{
		rec(marks.ExamSeriesTest1, s1),
		rec(marks.ExamSeriesTest2, s2),
		rec(marks.ExamLabInternal, lab),
		rec(marks.ExamUniversity, uni),
	}
}

// syntheticCorpus builds a corpus where the university result tracks the
// internal average with small deterministic noise.
func syntheticCorpus(students int) []marks.MarkRecord {
	var records []marks.MarkRecord
	for i := 1; i <= students; i++ {
		base := 40 + float64((i*3)%45)
		s1 := base
		s2 := base + float64(i%7) - 3
		lab := base + float64(i%5) - 2
		avg := (s1 + s2 + lab) / 3
		noise := float64(i%5) - 2
		uni := 0.9*avg + 5 + noise
		records = append(records, studentMarks(i, 1, s1, s2, lab, uni)...)
	}
	return records
}

func TestTrainInsufficientData(t *testing.T) {
	tr, _ := newTestTrainer(t)
	subjectID := 1

	result := tr.Train(context.Background(), syntheticCorpus(5), &subjectID)
	if result.Success {
		t.Fatal("expected failure with 5 students")
	}
	if result.ErrorCode != svcerr.CodeData {
		t.Errorf("expected DATA_ERROR, got %s", result.ErrorCode)
	}
	if result.Error == "" {
		t.Error("expected a failure message in the result")
	}
}

func TestTrainNoValidGroups(t *testing.T) {
	tr, _ := newTestTrainer(t)

	// University results missing everywhere: no group qualifies.
	var records []marks.MarkRecord
	for i := 1; i <= 12; i++ {
		full := studentMarks(i, 1, 60, 65, 70, 75)
		records = append(records, full[:3]...)
	}

	result := tr.Train(context.Background(), records, nil)
	if result.Success {
		t.Fatal("expected failure without university targets")
	}
	if result.ErrorCode != svcerr.CodeData {
		t.Errorf("expected DATA_ERROR, got %s", result.ErrorCode)
	}
}

func TestTrainSuccess(t *testing.T) {
	tr, reg := newTestTrainer(t)
	subjectID := 1

	result := tr.Train(context.Background(), syntheticCorpus(15), &subjectID)
	if !result.Success {
		t.Fatalf("training failed: %s (%s)", result.Error, result.ErrorCode)
	}

	if result.ModelKey != registry.SubjectKey(1) {
		t.Errorf("expected subject_1 key, got %s", result.ModelKey)
	}
	if result.BestModel == "" {
		t.Error("expected a best model name")
	}
	if result.TrainingSamples != 12 || result.TestSamples != 3 {
		t.Errorf("expected 12/3 split, got %d/%d", result.TrainingSamples, result.TestSamples)
	}
	if len(result.AllModels) != 2 {
		t.Errorf("expected reports for both candidates, got %d", len(result.AllModels))
	}

	// The corpus is nearly linear in the internal average, so the winner
	// should track it well.
	if result.ModelPerformance.MAE > 15 {
		t.Errorf("MAE too high: %v", result.ModelPerformance.MAE)
	}
	if result.ModelPerformance.R2 < 0.5 {
		t.Errorf("R2 too low: %v", result.ModelPerformance.R2)
	}

	sum := 0.0
	for _, v := range result.FeatureImportance {
		sum += v
	}
	if sum < 0.99 || sum > 1.01 {
		t.Errorf("feature importances should sum to 1, got %v", sum)
	}

	// The winner is registered and resolvable.
	key, err := reg.Resolve(&subjectID)
	if err != nil {
		t.Fatalf("resolve after training failed: %v", err)
	}
	if key != registry.SubjectKey(1) {
		t.Errorf("expected subject_1, got %s", key)
	}
}

func TestTrainGeneralKeyWithoutSubject(t *testing.T) {
	tr, reg := newTestTrainer(t)

	result := tr.Train(context.Background(), syntheticCorpus(15), nil)
	if !result.Success {
		t.Fatalf("training failed: %s", result.Error)
	}
	if result.ModelKey != registry.KeyGeneral {
		t.Errorf("expected general key, got %s", result.ModelKey)
	}
	if _, ok := reg.Get(registry.KeyGeneral); !ok {
		t.Error("general model not registered")
	}
}

func TestTrainBestByMAE(t *testing.T) {
	tr, _ := newTestTrainer(t)
	subjectID := 1

	result := tr.Train(context.Background(), syntheticCorpus(20), &subjectID)
	if !result.Success {
		t.Fatalf("training failed: %s", result.Error)
	}

	best := result.AllModels[result.BestModel]
	if best.Metrics == nil {
		t.Fatal("best model has no metrics")
	}
	for name, report := range result.AllModels {
		if report.Metrics == nil {
			continue // candidates may legitimately fail to fit
		}
		if report.Metrics.MAE < best.Metrics.MAE {
			t.Errorf("candidate %s has lower MAE (%v) than winner %s (%v)",
				name, report.Metrics.MAE, result.BestModel, best.Metrics.MAE)
		}
	}
}

func TestBuildRowsFiltering(t *testing.T) {
	tr, _ := newTestTrainer(t)

	var records []marks.MarkRecord
	// Qualifies: university plus three internals.
	records = append(records, studentMarks(1, 1, 60, 65, 70, 75)...)
	// Disqualified: only one internal.
	full := studentMarks(2, 1, 60, 0, 0, 75)
	records = append(records, full[0], full[3])
	// Disqualified: no university mark.
	records = append(records, studentMarks(3, 1, 60, 65, 70, 75)[:3]...)
	// Invalid record skipped entirely.
	records = append(records, marks.MarkRecord{
		StudentID: 4, SubjectID: 1, ExamType: marks.ExamSeriesTest1,
		MarksObtained: 60, MaxMarks: 0,
	})

	rows, err := tr.BuildRows(records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 qualifying row, got %d", len(rows))
	}
	if rows[0].StudentID != 1 {
		t.Errorf("expected student 1, got %d", rows[0].StudentID)
	}
	if rows[0].Target != 75 {
		t.Errorf("expected target 75, got %v", rows[0].Target)
	}
}

func TestSplitDeterministic(t *testing.T) {
	tr, _ := newTestTrainer(t)

	rows, err := tr.BuildRows(syntheticCorpus(15))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	trainA, testA := tr.split(rows)
	trainB, testB := tr.split(rows)

	if len(trainA) != len(trainB) || len(testA) != len(testB) {
		t.Fatal("split sizes differ between runs")
	}
	for i := range testA {
		if testA[i].StudentID != testB[i].StudentID {
			t.Fatal("seeded split is not reproducible")
		}
	}
	if len(testA) != 3 {
		t.Errorf("expected 3 test rows from 15, got %d", len(testA))
	}
}
