// Package features converts student records into model input vectors
package features

import (
	"gonum.org/v1/gonum/stat"

	"github.com/visiongrade/gradecast/pkg/marks"
)

// Canonical feature column names, in default training order
const (
	ColSeriesTest1 = "series_test_1_percentage"
	ColSeriesTest2 = "series_test_2_percentage"
	ColLabInternal = "lab_internal_percentage"
	ColAvgInternal = "average_internal_percentage"
	ColSubjectType = "subject_type_encoded"
	ColSemester    = "semester"
	ColAttendance  = "attendance_percentage"
)

// CanonicalColumns is the default feature schema for newly trained models.
// A loaded model's own feature_columns metadata overrides it at prediction
// time.
func CanonicalColumns() []string {
	return []string{
		ColSeriesTest1,
		ColSeriesTest2,
		ColLabInternal,
		ColAvgInternal,
		ColSubjectType,
		ColSemester,
		ColAttendance,
	}
}

// Builder constructs feature vectors. The attendance default is a neutral
// prior used when no attendance record exists, not a measured value.
type Builder struct {
	AttendanceDefault float64
}

// NewBuilder returns a feature builder with the given attendance prior
func NewBuilder(attendanceDefault float64) Builder {
	if attendanceDefault <= 0 {
		attendanceDefault = 80.0
	}
	return Builder{AttendanceDefault: attendanceDefault}
}

// Build produces a feature vector ordered by the given columns plus a named
// view of the same values for auditing. Missing internal marks are imputed
// with the mean of the present ones; the average feature is recomputed from
// the filled values. Build is pure and never fails - absent data degrades to
// defaults.
func (b Builder) Build(rec marks.StudentRecord, columns []string) ([]float64, map[string]float64) {
	s1 := rec.Marks[marks.ExamSeriesTest1]
	s2 := rec.Marks[marks.ExamSeriesTest2]
	lab := rec.Marks[marks.ExamLabInternal]

	present := rec.InternalMarks()
	avg := 0.0
	if len(present) > 0 {
		avg = stat.Mean(present, nil)
	}

	// Zero counts as missing; fill from the pre-fill average.
	if s1 <= 0 && avg > 0 {
		s1 = avg
	}
	if s2 <= 0 && avg > 0 {
		s2 = avg
	}
	if lab <= 0 && avg > 0 {
		lab = avg
	}

	// The feature is the post-fill average, not the pre-fill one.
	avg = stat.Mean([]float64{s1, s2, lab}, nil)

	semester := rec.Semester
	if semester <= 0 {
		semester = 1
	}

	subjectEncoded := 0.0
	if rec.SubjectType == marks.SubjectLab {
		subjectEncoded = 1.0
	}

	attendance := b.AttendanceDefault
	if rec.AttendancePct != nil {
		attendance = *rec.AttendancePct
	}

	named := map[string]float64{
		ColSeriesTest1: s1,
		ColSeriesTest2: s2,
		ColLabInternal: lab,
		ColAvgInternal: avg,
		ColSubjectType: subjectEncoded,
		ColSemester:    float64(semester),
		ColAttendance:  attendance,
	}

	vector := make([]float64, len(columns))
	out := make(map[string]float64, len(columns))
	for i, col := range columns {
		v := named[col] // unknown columns degrade to 0
		vector[i] = v
		out[col] = v
	}
	return vector, out
}
