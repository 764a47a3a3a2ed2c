package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/visiongrade/gradecast/pkg/features"
	"github.com/visiongrade/gradecast/pkg/logx"
	"github.com/visiongrade/gradecast/pkg/marks"
	"github.com/visiongrade/gradecast/pkg/predictor"
	"github.com/visiongrade/gradecast/pkg/recovery"
	"github.com/visiongrade/gradecast/pkg/registry"
	"github.com/visiongrade/gradecast/pkg/store"
	"github.com/visiongrade/gradecast/pkg/svcerr"
	"github.com/visiongrade/gradecast/pkg/trainer"
)

type fakeStore struct {
	trainingData []marks.MarkRecord
	studentRec   *marks.StudentRecord
	students     []marks.StudentRecord
	stats        *store.AccuracyStats
	subjects     []store.Subject
	saveErr      error
	toggleErr    error
	pingErr      error
	toggled      int64
	saved        int
}

func (f *fakeStore) GetTrainingData(ctx context.Context, subjectID *int, year int) ([]marks.MarkRecord, error) {
	return f.trainingData, nil
}

func (f *fakeStore) GetStudentMarks(ctx context.Context, studentID, subjectID, year int) (*marks.StudentRecord, error) {
	return f.studentRec, nil
}

func (f *fakeStore) GetStudentsForPrediction(ctx context.Context, subjectID, year int) ([]marks.StudentRecord, error) {
	return f.students, nil
}

func (f *fakeStore) SavePrediction(ctx context.Context, res predictor.Result) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved++
	return nil
}

func (f *fakeStore) ToggleVisibility(ctx context.Context, subjectID int, visible bool, facultyID *int) (int64, error) {
	if f.toggleErr != nil {
		return 0, f.toggleErr
	}
	return f.toggled, nil
}

func (f *fakeStore) GetAccuracyStats(ctx context.Context, subjectID *int, modelVersion string) (*store.AccuracyStats, error) {
	return f.stats, nil
}

func (f *fakeStore) GetFacultySubjects(ctx context.Context, facultyID, academicYear int) ([]store.Subject, error) {
	return f.subjects, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	return f.pingErr
}

func newTestServer(t *testing.T, st Store) (*Server, *registry.Registry) {
	t.Helper()
	logger := logx.New("error")
	reg := registry.New(t.TempDir(), logger)
	tr := trainer.New(trainer.DefaultConfig(), reg, logger)
	pr := predictor.New(reg, features.NewBuilder(80.0), recovery.DefaultEstimatePolicy(), logger)
	return New(st, tr, pr, reg, nil, nil, nil, logger), reg
}

func registerFlatModel(t *testing.T, reg *registry.Registry, intercept float64) {
	t.Helper()
	columns := features.CanonicalColumns()
	a := &registry.Artifact{
		ModelName:      "linear",
		Intercept:      intercept,
		Weights:        make([]float64, len(columns)),
		FeatureColumns: columns,
		Metrics:        &registry.Metrics{MAE: 5, R2: 0.8},
		ModelVersion:   registry.DefaultModelVersion,
		TrainedAt:      time.Now().UTC(),
	}
	if err := reg.Register(registry.KeyGeneral, a); err != nil {
		t.Fatal(err)
	}
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, w.Body.String())
	}
	return out
}

func trainableCorpus(students int) []marks.MarkRecord {
	var records []marks.MarkRecord
	for i := 1; i <= students; i++ {
		base := 40 + float64((i*3)%45)
		for _, exam := range []struct {
			t marks.ExamType
			v float64
		}{
			{marks.ExamSeriesTest1, base},
			{marks.ExamSeriesTest2, base + float64(i%7) - 3},
			{marks.ExamLabInternal, base + float64(i%5) - 2},
			{marks.ExamUniversity, 0.9*base + 8},
		} {
			records = append(records, marks.MarkRecord{
				StudentID: i, SubjectID: 1,
				ExamType: exam.t, MarksObtained: exam.v, MaxMarks: 100,
				SubjectType: marks.SubjectTheory, Semester: 5,
			})
		}
	}
	return records
}

func TestPredictNotFound(t *testing.T) {
	s, _ := newTestServer(t, &fakeStore{})

	w := doJSON(t, s, http.MethodPost, "/api/predict", predictRequest{StudentID: 1, SubjectID: 2})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["success"] != false {
		t.Error("expected failure envelope")
	}
}

func TestPredictSuccess(t *testing.T) {
	st := &fakeStore{
		studentRec: &marks.StudentRecord{
			StudentID: 1, SubjectID: 2,
			SubjectType: marks.SubjectTheory, Semester: 5,
			Marks: map[marks.ExamType]float64{
				marks.ExamSeriesTest1: 70,
				marks.ExamSeriesTest2: 75,
			},
		},
	}
	s, reg := newTestServer(t, st)
	registerFlatModel(t, reg, 68)

	w := doJSON(t, s, http.MethodPost, "/api/predict", predictRequest{StudentID: 1, SubjectID: 2})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["success"] != true {
		t.Error("expected success envelope")
	}
	pred, ok := body["prediction"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected prediction object, got %v", body)
	}
	if pred["predicted_marks"].(float64) != 68 {
		t.Errorf("expected 68, got %v", pred["predicted_marks"])
	}
	if st.saved != 1 {
		t.Errorf("expected the prediction to be persisted, saves: %d", st.saved)
	}
}

func TestPredictValidatesIDs(t *testing.T) {
	s, _ := newTestServer(t, &fakeStore{})

	w := doJSON(t, s, http.MethodPost, "/api/predict", predictRequest{StudentID: 0, SubjectID: 2})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestPredictBadBody(t *testing.T) {
	s, _ := newTestServer(t, &fakeStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/predict", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestPredictBatch(t *testing.T) {
	st := &fakeStore{
		students: []marks.StudentRecord{
			{StudentID: 1, SubjectID: 2, Marks: map[marks.ExamType]float64{marks.ExamSeriesTest1: 70}},
			{StudentID: 2, SubjectID: 2, Marks: map[marks.ExamType]float64{marks.ExamSeriesTest2: 60}},
		},
	}
	s, reg := newTestServer(t, st)
	registerFlatModel(t, reg, 55)

	w := doJSON(t, s, http.MethodPost, "/api/predict/batch", batchRequest{SubjectID: 2})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["total"].(float64) != 2 || body["successful"].(float64) != 2 {
		t.Errorf("expected 2/2, got %v/%v", body["total"], body["successful"])
	}
	if st.saved != 2 {
		t.Errorf("expected both predictions persisted, saves: %d", st.saved)
	}
}

func TestPredictBatchNoStudents(t *testing.T) {
	s, _ := newTestServer(t, &fakeStore{})

	w := doJSON(t, s, http.MethodPost, "/api/predict/batch", batchRequest{SubjectID: 2})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestTrainInsufficientData(t *testing.T) {
	s, _ := newTestServer(t, &fakeStore{trainingData: trainableCorpus(4)})

	w := doJSON(t, s, http.MethodPost, "/api/train", trainRequest{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["error_code"] != svcerr.CodeData {
		t.Errorf("expected DATA_ERROR, got %v", body["error_code"])
	}
}

func TestTrainSuccess(t *testing.T) {
	s, reg := newTestServer(t, &fakeStore{trainingData: trainableCorpus(15)})
	subjectID := 1

	w := doJSON(t, s, http.MethodPost, "/api/train", trainRequest{SubjectID: &subjectID})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["success"] != true {
		t.Errorf("expected success, got %v", body)
	}
	if body["model_key"] != registry.SubjectKey(1) {
		t.Errorf("expected subject_1, got %v", body["model_key"])
	}
	if _, ok := reg.Get(registry.SubjectKey(1)); !ok {
		t.Error("trained model not registered")
	}
}

func TestToggleVisibility(t *testing.T) {
	st := &fakeStore{toggled: 12}
	s, _ := newTestServer(t, st)

	w := doJSON(t, s, http.MethodPost, "/api/predictions/toggle/3", toggleRequest{IsVisible: true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["updated_predictions"].(float64) != 12 {
		t.Errorf("expected 12 updates, got %v", body["updated_predictions"])
	}
}

func TestToggleVisibilityUnauthorized(t *testing.T) {
	st := &fakeStore{
		toggleErr: svcerr.Data("faculty does not have access to this subject", nil).
			WithCause(store.ErrUnauthorized),
	}
	s, _ := newTestServer(t, st)

	w := doJSON(t, s, http.MethodPost, "/api/predictions/toggle/3", toggleRequest{IsVisible: true})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestToggleVisibilityBadSubject(t *testing.T) {
	s, _ := newTestServer(t, &fakeStore{})

	w := doJSON(t, s, http.MethodPost, "/api/predictions/toggle/zero", toggleRequest{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAccuracyStats(t *testing.T) {
	st := &fakeStore{stats: &store.AccuracyStats{
		TotalPredictions:       20,
		PredictionsWithActuals: 10,
		AccuratePredictions:    8,
		AccuracyPercentage:     80,
	}}
	s, _ := newTestServer(t, st)

	req := httptest.NewRequest(http.MethodGet, "/api/accuracy?subject_id=3", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	stats := body["stats"].(map[string]interface{})
	if stats["accuracy_percentage"].(float64) != 80 {
		t.Errorf("expected accuracy 80, got %v", stats["accuracy_percentage"])
	}
}

func TestModelInfo(t *testing.T) {
	s, reg := newTestServer(t, &fakeStore{})
	registerFlatModel(t, reg, 60)

	req := httptest.NewRequest(http.MethodGet, "/api/model/info", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	info := body["info"].(map[string]interface{})
	if info["model_version"] != registry.DefaultModelVersion {
		t.Errorf("unexpected model version %v", info["model_version"])
	}
}

func TestFacultySubjects(t *testing.T) {
	st := &fakeStore{subjects: []store.Subject{
		{ID: 1, SubjectCode: "CS301", SubjectName: "Operating Systems"},
		{ID: 2, SubjectCode: "CS302", SubjectName: "Compiler Design"},
	}}
	s, _ := newTestServer(t, st)

	req := httptest.NewRequest(http.MethodGet, "/api/faculty/4/subjects", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	if len(body["subjects"].([]interface{})) != 2 {
		t.Errorf("expected 2 subjects, got %v", body["subjects"])
	}
}

func TestFacultySubjectsBadID(t *testing.T) {
	s, _ := newTestServer(t, &fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/faculty/nope/subjects", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAuditRecentDisabled(t *testing.T) {
	s, _ := newTestServer(t, &fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/audit/recent", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without an audit trail, got %d", w.Code)
	}
}

func TestIndex(t *testing.T) {
	s, _ := newTestServer(t, &fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	if body["service"] != "gradecast" {
		t.Errorf("expected service name, got %v", body["service"])
	}
	endpoints, ok := body["endpoints"].(map[string]interface{})
	if !ok || len(endpoints) == 0 {
		t.Errorf("expected an endpoint index, got %v", body["endpoints"])
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		pingErr error
		want    string
	}{
		{"database up", nil, "healthy"},
		{"database down", errors.New("connection refused"), "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, &fakeStore{pingErr: tt.pingErr})

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
			body := decodeBody(t, w)
			if body["status"] != tt.want {
				t.Errorf("expected %q, got %v", tt.want, body["status"])
			}
		})
	}
}
