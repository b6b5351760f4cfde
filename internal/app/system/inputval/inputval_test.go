package inputval

import (
	"testing"
	"time"
)

type window struct {
	Name   string    `json:"name" validate:"required,max=5"`
	Count  int       `json:"count" validate:"gte=0"`
	Start  time.Time `json:"start_date"`
	End    time.Time `json:"end_date" validate:"gtefield=Start"`
	Labels []string  `json:"labels" validate:"dive,max=3"`
}

func TestValidate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		in        window
		wantField string
		wantMsg   string
	}{
		{"valid", window{Name: "ok", Start: now, End: now}, "", ""},
		{"missing name", window{Start: now, End: now}, "name", "name is required"},
		{"long name", window{Name: "toolong", Start: now, End: now}, "name", "name must be at most 5 characters"},
		{"negative count", window{Name: "ok", Count: -1, Start: now, End: now}, "count", "count must be at least 0"},
		{"end before start", window{Name: "ok", Start: now, End: now.Add(-time.Hour)}, "end_date", "end_date must not be before start"},
		{"long label", window{Name: "ok", Start: now, End: now, Labels: []string{"a", "abcd"}}, "labels[1]", "labels[1] must be at most 3 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.in)
			if tt.wantField == "" {
				if res.HasErrors() {
					t.Fatalf("unexpected errors: %v", res.Errors)
				}
				return
			}
			got, ok := res.Errors[tt.wantField]
			if !ok {
				t.Fatalf("expected error on %q, got %v", tt.wantField, res.Errors)
			}
			if got != tt.wantMsg {
				t.Errorf("message = %q, want %q", got, tt.wantMsg)
			}
			if res.First() == "" {
				t.Error("First should return a message")
			}
		})
	}
}

func TestResult_Nil(t *testing.T) {
	var r *Result
	if r.HasErrors() || r.First() != "" {
		t.Error("nil result has no errors")
	}
}
