package marks

import "testing"

func TestPercentage(t *testing.T) {
	tests := []struct {
		name    string
		record  MarkRecord
		want    float64
		wantErr bool
	}{
		{"half marks", MarkRecord{MarksObtained: 25, MaxMarks: 50}, 50, false},
		{"full marks", MarkRecord{MarksObtained: 100, MaxMarks: 100}, 100, false},
		{"zero obtained", MarkRecord{MarksObtained: 0, MaxMarks: 50}, 0, false},
		{"zero max", MarkRecord{MarksObtained: 10, MaxMarks: 0}, 0, true},
		{"negative max", MarkRecord{MarksObtained: 10, MaxMarks: -5}, 0, true},
		{"negative obtained", MarkRecord{MarksObtained: -1, MaxMarks: 50}, 0, true},
		{"obtained above max", MarkRecord{MarksObtained: 51, MaxMarks: 50}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.record.Percentage()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestInternalMarks(t *testing.T) {
	rec := StudentRecord{
		Marks: map[ExamType]float64{
			ExamSeriesTest1: 80,
			ExamSeriesTest2: 0, // zero counts as missing
			ExamUniversity:  75,
		},
	}

	got := rec.InternalMarks()
	if len(got) != 1 {
		t.Fatalf("expected 1 present internal, got %d: %v", len(got), got)
	}
	if got[0] != 80 {
		t.Errorf("expected 80, got %v", got[0])
	}
}

func TestInternalMarksEmpty(t *testing.T) {
	if got := (StudentRecord{}).InternalMarks(); len(got) != 0 {
		t.Errorf("expected no internals, got %v", got)
	}
}
