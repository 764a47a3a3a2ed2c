// Package marks defines the assessment data model shared across the service
package marks

import "fmt"

// ExamType identifies which examination a mark belongs to
type ExamType string

const (
	ExamSeriesTest1 ExamType = "series_test_1"
	ExamSeriesTest2 ExamType = "series_test_2"
	ExamLabInternal ExamType = "lab_internal"
	ExamUniversity  ExamType = "university"
)

// InternalExamTypes lists the partial-term assessments that feed predictions,
// in canonical feature order.
var InternalExamTypes = []ExamType{ExamSeriesTest1, ExamSeriesTest2, ExamLabInternal}

// SubjectType distinguishes theory subjects from lab subjects
type SubjectType string

const (
	SubjectTheory SubjectType = "theory"
	SubjectLab    SubjectType = "lab"
)

// MarkRecord is one exam result as sourced from the institution's records
// system. Immutable once read.
type MarkRecord struct {
	StudentID     int         `json:"student_id"`
	SubjectID     int         `json:"subject_id"`
	ExamType      ExamType    `json:"exam_type"`
	MarksObtained float64     `json:"marks_obtained"`
	MaxMarks      float64     `json:"max_marks"`
	SubjectType   SubjectType `json:"subject_type"`
	Semester      int         `json:"semester"`
}

// Percentage converts the record to a 0-100 scale.
// Returns an error when the record violates the marks invariant.
func (r MarkRecord) Percentage() (float64, error) {
	if r.MaxMarks <= 0 {
		return 0, fmt.Errorf("mark record for student %d subject %d: max_marks must be positive, got %v",
			r.StudentID, r.SubjectID, r.MaxMarks)
	}
	if r.MarksObtained < 0 || r.MarksObtained > r.MaxMarks {
		return 0, fmt.Errorf("mark record for student %d subject %d: marks_obtained %v outside [0, %v]",
			r.StudentID, r.SubjectID, r.MarksObtained, r.MaxMarks)
	}
	return r.MarksObtained / r.MaxMarks * 100, nil
}

// StudentRecord holds a student's known marks for one subject, keyed by exam
// type as percentages, plus the subject metadata the feature builder needs.
type StudentRecord struct {
	StudentID     int                  `json:"student_id"`
	SubjectID     int                  `json:"subject_id"`
	StudentName   string               `json:"student_name,omitempty"`
	SubjectName   string               `json:"subject_name,omitempty"`
	SubjectCode   string               `json:"subject_code,omitempty"`
	SubjectType   SubjectType          `json:"subject_type"`
	Semester      int                  `json:"semester"`
	Marks         map[ExamType]float64 `json:"marks"`
	AttendancePct *float64             `json:"attendance_percentage,omitempty"`
}

// InternalMarks returns the percentages of the internal assessments that are
// actually present (absent or zero entries are treated as missing).
func (s StudentRecord) InternalMarks() []float64 {
	present := make([]float64, 0, len(InternalExamTypes))
	for _, exam := range InternalExamTypes {
		if v, ok := s.Marks[exam]; ok && v > 0 {
			present = append(present, v)
		}
	}
	return present
}
