// Package store is the Postgres persistence layer: the marks corpus read side
// and the prediction write side.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/visiongrade/gradecast/pkg/logx"
	"github.com/visiongrade/gradecast/pkg/marks"
	"github.com/visiongrade/gradecast/pkg/predictor"
	"github.com/visiongrade/gradecast/pkg/svcerr"
)

// ErrUnauthorized marks a faculty member acting on a subject they do not
// teach. Check with errors.Is.
var ErrUnauthorized = errors.New("faculty does not have access to this subject")

// Store wraps a pgx connection pool. All failures come back as DATABASE_ERROR
// service errors with the category classified from the driver message.
type Store struct {
	pool   *pgxpool.Pool
	logger *logx.Logger
}

// New connects to Postgres and verifies the connection
func New(ctx context.Context, databaseURL string, logger *logx.Logger) (*Store, error) {
	if databaseURL == "" {
		return nil, svcerr.Data("database URL is required", nil)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, svcerr.Database(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, svcerr.Database(err)
	}

	logger.Info("database connection established")
	return &Store{pool: pool, logger: logger.WithComponent("store")}, nil
}

// Close releases the connection pool
func (s *Store) Close() {
	s.pool.Close()
	s.logger.Info("database connection closed")
}

// Ping reports whether the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return svcerr.Database(err)
	}
	return nil
}

func year(academicYear int) int {
	if academicYear > 0 {
		return academicYear
	}
	return time.Now().Year()
}

// GetTrainingData fetches the marks corpus for a training run, optionally
// restricted to one subject.
func (s *Store) GetTrainingData(ctx context.Context, subjectID *int, academicYear int) ([]marks.MarkRecord, error) {
	query := `
		SELECT m.student_id, m.subject_id, m.exam_type, m.marks_obtained, m.max_marks,
		       s.subject_type, s.semester
		FROM marks m
		JOIN subjects s ON m.subject_id = s.id
		JOIN student_subjects ss ON m.student_id = ss.student_id AND m.subject_id = ss.subject_id
		WHERE ss.academic_year = $1`
	args := []interface{}{year(academicYear)}
	if subjectID != nil {
		query += ` AND m.subject_id = $2`
		args = append(args, *subjectID)
	}
	query += ` ORDER BY m.student_id, m.subject_id, m.exam_type`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, svcerr.Database(err)
	}
	defer rows.Close()

	var records []marks.MarkRecord
	for rows.Next() {
		var rec marks.MarkRecord
		if err := rows.Scan(&rec.StudentID, &rec.SubjectID, &rec.ExamType,
			&rec.MarksObtained, &rec.MaxMarks, &rec.SubjectType, &rec.Semester); err != nil {
			return nil, svcerr.Database(err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, svcerr.Database(err)
	}

	s.logger.Debug("training data fetched", "records", len(records))
	return records, nil
}

// GetStudentMarks assembles one student's known internal marks for a subject.
// Returns (nil, nil) when the student has no marks on record.
func (s *Store) GetStudentMarks(ctx context.Context, studentID, subjectID, academicYear int) (*marks.StudentRecord, error) {
	query := `
		SELECT m.exam_type, m.marks_obtained, m.max_marks,
		       s.subject_type, s.semester, s.subject_name, s.subject_code, st.student_name
		FROM marks m
		JOIN subjects s ON m.subject_id = s.id
		JOIN students st ON m.student_id = st.id
		JOIN student_subjects ss ON m.student_id = ss.student_id AND m.subject_id = ss.subject_id
		WHERE m.student_id = $1 AND m.subject_id = $2 AND ss.academic_year = $3
		  AND m.exam_type IN ('series_test_1', 'series_test_2', 'lab_internal')
		ORDER BY m.exam_type`

	rows, err := s.pool.Query(ctx, query, studentID, subjectID, year(academicYear))
	if err != nil {
		return nil, svcerr.Database(err)
	}
	defer rows.Close()

	var rec *marks.StudentRecord
	for rows.Next() {
		var (
			examType                 marks.ExamType
			obtained, maxMarks       float64
			subjectType              marks.SubjectType
			semester                 int
			subjectName, subjectCode string
			studentName              string
		)
		if err := rows.Scan(&examType, &obtained, &maxMarks,
			&subjectType, &semester, &subjectName, &subjectCode, &studentName); err != nil {
			return nil, svcerr.Database(err)
		}

		if rec == nil {
			rec = &marks.StudentRecord{
				StudentID:   studentID,
				SubjectID:   subjectID,
				StudentName: studentName,
				SubjectName: subjectName,
				SubjectCode: subjectCode,
				SubjectType: subjectType,
				Semester:    semester,
				Marks:       make(map[marks.ExamType]float64),
			}
		}

		mr := marks.MarkRecord{
			StudentID: studentID, SubjectID: subjectID,
			ExamType: examType, MarksObtained: obtained, MaxMarks: maxMarks,
		}
		pct, err := mr.Percentage()
		if err != nil {
			s.logger.Warn("skipping invalid mark record", "error", err.Error())
			continue
		}
		rec.Marks[examType] = pct
	}
	if err := rows.Err(); err != nil {
		return nil, svcerr.Database(err)
	}
	return rec, nil
}

// GetStudentsForPrediction lists the active students enrolled in a subject
// with their current marks, for batch prediction.
func (s *Store) GetStudentsForPrediction(ctx context.Context, subjectID, academicYear int) ([]marks.StudentRecord, error) {
	query := `
		SELECT DISTINCT ss.student_id
		FROM student_subjects ss
		JOIN students st ON ss.student_id = st.id
		WHERE ss.subject_id = $1 AND ss.academic_year = $2
		  AND st.graduation_status = 'active'
		ORDER BY ss.student_id`

	rows, err := s.pool.Query(ctx, query, subjectID, year(academicYear))
	if err != nil {
		return nil, svcerr.Database(err)
	}
	var studentIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, svcerr.Database(err)
		}
		studentIDs = append(studentIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, svcerr.Database(err)
	}

	records := make([]marks.StudentRecord, 0, len(studentIDs))
	for _, id := range studentIDs {
		rec, err := s.GetStudentMarks(ctx, id, subjectID, academicYear)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

// SavePrediction upserts a prediction row. New predictions start hidden from
// students until faculty toggles visibility. Implements predictor.Saver.
func (s *Store) SavePrediction(ctx context.Context, res predictor.Result) error {
	inputFeatures, err := json.Marshal(res.FeaturesUsed)
	if err != nil {
		return svcerr.Unexpected("prediction features could not be encoded", err)
	}

	query := `
		INSERT INTO ml_predictions
			(student_id, subject_id, predicted_marks, confidence_score,
			 input_features, model_version, prediction_method, is_visible_to_student, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, CURRENT_TIMESTAMP)
		ON CONFLICT (student_id, subject_id) DO UPDATE SET
			predicted_marks = EXCLUDED.predicted_marks,
			confidence_score = EXCLUDED.confidence_score,
			input_features = EXCLUDED.input_features,
			model_version = EXCLUDED.model_version,
			prediction_method = EXCLUDED.prediction_method,
			created_at = CURRENT_TIMESTAMP`

	_, err = s.pool.Exec(ctx, query,
		res.StudentID, res.SubjectID, res.PredictedMarks, res.ConfidenceScore,
		inputFeatures, res.ModelVersion, res.Method)
	if err != nil {
		return svcerr.Database(err)
	}

	s.logger.Debug("prediction saved", "student_id", res.StudentID, "subject_id", res.SubjectID)
	return nil
}

// ToggleVisibility flips whether a subject's predictions are visible to
// students. When facultyID is given the assignment is verified first and
// ErrUnauthorized is returned on a mismatch.
func (s *Store) ToggleVisibility(ctx context.Context, subjectID int, visible bool, facultyID *int) (int64, error) {
	if facultyID != nil {
		var count int
		query := `
			SELECT COUNT(*) FROM faculty_subjects
			WHERE faculty_id = $1 AND subject_id = $2 AND academic_year = $3`
		if err := s.pool.QueryRow(ctx, query, *facultyID, subjectID, year(0)).Scan(&count); err != nil {
			return 0, svcerr.Database(err)
		}
		if count == 0 {
			return 0, svcerr.Data("faculty does not have access to this subject", map[string]interface{}{
				"faculty_id": *facultyID,
				"subject_id": subjectID,
			}).WithCause(ErrUnauthorized)
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE ml_predictions SET is_visible_to_student = $1 WHERE subject_id = $2`,
		visible, subjectID)
	if err != nil {
		return 0, svcerr.Database(err)
	}

	s.logger.Info("prediction visibility updated",
		"subject_id", subjectID, "visible", visible, "rows", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// AccuracyStats summarizes how predictions compare against university results
// that have since been recorded.
type AccuracyStats struct {
	TotalPredictions       int      `json:"total_predictions"`
	PredictionsWithActuals int      `json:"predictions_with_actuals"`
	AccuratePredictions    int      `json:"accurate_predictions"`
	AccuracyPercentage     float64  `json:"accuracy_percentage"`
	AverageDifference      float64  `json:"average_difference"`
	ModelVersions          []string `json:"model_versions,omitempty"`
}

// GetAccuracyStats compares stored predictions against recorded university
// marks. A prediction counts as accurate within a 10 point absolute difference.
func (s *Store) GetAccuracyStats(ctx context.Context, subjectID *int, modelVersion string) (*AccuracyStats, error) {
	query := `
		SELECT p.predicted_marks, p.model_version,
		       m.marks_obtained, m.max_marks
		FROM ml_predictions p
		LEFT JOIN marks m ON p.student_id = m.student_id
		                 AND p.subject_id = m.subject_id
		                 AND m.exam_type = 'university'
		WHERE 1=1`
	args := []interface{}{}
	if subjectID != nil {
		args = append(args, *subjectID)
		query += ` AND p.subject_id = $1`
	}
	if modelVersion != "" {
		args = append(args, modelVersion)
		if len(args) == 1 {
			query += ` AND p.model_version = $1`
		} else {
			query += ` AND p.model_version = $2`
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, svcerr.Database(err)
	}
	defer rows.Close()

	stats := &AccuracyStats{}
	versions := make(map[string]struct{})
	totalDiff := 0.0

	for rows.Next() {
		var (
			predicted          float64
			version            *string
			obtained, maxMarks *float64
		)
		if err := rows.Scan(&predicted, &version, &obtained, &maxMarks); err != nil {
			return nil, svcerr.Database(err)
		}
		stats.TotalPredictions++
		if version != nil && *version != "" {
			versions[*version] = struct{}{}
		}
		if obtained == nil || maxMarks == nil || *maxMarks <= 0 {
			continue
		}

		actual := *obtained / *maxMarks * 100
		diff := predicted - actual
		if diff < 0 {
			diff = -diff
		}
		stats.PredictionsWithActuals++
		totalDiff += diff
		if diff <= 10 {
			stats.AccuratePredictions++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, svcerr.Database(err)
	}

	if stats.PredictionsWithActuals > 0 {
		stats.AccuracyPercentage = float64(stats.AccuratePredictions) / float64(stats.PredictionsWithActuals) * 100
		stats.AverageDifference = totalDiff / float64(stats.PredictionsWithActuals)
	}
	for v := range versions {
		stats.ModelVersions = append(stats.ModelVersions, v)
	}
	return stats, nil
}

// Subject is the subject catalog row
type Subject struct {
	ID          int               `json:"id"`
	SubjectCode string            `json:"subject_code"`
	SubjectName string            `json:"subject_name"`
	SubjectType marks.SubjectType `json:"subject_type"`
	Semester    int               `json:"semester"`
	Credits     int               `json:"credits"`
}

// GetSubjectInfo looks up one subject. Returns (nil, nil) when absent.
func (s *Store) GetSubjectInfo(ctx context.Context, subjectID int) (*Subject, error) {
	var sub Subject
	err := s.pool.QueryRow(ctx,
		`SELECT id, subject_code, subject_name, subject_type, semester, credits
		 FROM subjects WHERE id = $1`, subjectID).
		Scan(&sub.ID, &sub.SubjectCode, &sub.SubjectName, &sub.SubjectType, &sub.Semester, &sub.Credits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, svcerr.Database(err)
	}
	return &sub, nil
}

// GetAllSubjects lists the subject catalog
func (s *Store) GetAllSubjects(ctx context.Context) ([]Subject, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subject_code, subject_name, subject_type, semester, credits
		FROM subjects
		ORDER BY semester, subject_name`)
	if err != nil {
		return nil, svcerr.Database(err)
	}
	defer rows.Close()

	var subjects []Subject
	for rows.Next() {
		var sub Subject
		if err := rows.Scan(&sub.ID, &sub.SubjectCode, &sub.SubjectName,
			&sub.SubjectType, &sub.Semester, &sub.Credits); err != nil {
			return nil, svcerr.Database(err)
		}
		subjects = append(subjects, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, svcerr.Database(err)
	}
	return subjects, nil
}

// GetFacultySubjects lists the subjects assigned to a faculty member
func (s *Store) GetFacultySubjects(ctx context.Context, facultyID, academicYear int) ([]Subject, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.subject_code, s.subject_name, s.subject_type, s.semester, s.credits
		FROM subjects s
		JOIN faculty_subjects fs ON s.id = fs.subject_id
		WHERE fs.faculty_id = $1 AND fs.academic_year = $2
		ORDER BY s.semester, s.subject_name`,
		facultyID, year(academicYear))
	if err != nil {
		return nil, svcerr.Database(err)
	}
	defer rows.Close()

	var subjects []Subject
	for rows.Next() {
		var sub Subject
		if err := rows.Scan(&sub.ID, &sub.SubjectCode, &sub.SubjectName,
			&sub.SubjectType, &sub.Semester, &sub.Credits); err != nil {
			return nil, svcerr.Database(err)
		}
		subjects = append(subjects, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, svcerr.Database(err)
	}
	return subjects, nil
}
