package forms

import (
	"testing"

	"github.com/formforge/platform/pkg/common/models"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{models.SubmissionDraft, models.SubmissionSubmitted, true},
		{models.SubmissionSubmitted, models.SubmissionCompleted, true},
		{models.SubmissionSubmitted, models.SubmissionRevising, true},
		{models.SubmissionRevising, models.SubmissionSubmitted, true},
		{models.SubmissionRevising, models.SubmissionCompleted, true},
		{models.SubmissionCompleted, models.SubmissionRevising, false},
		{models.SubmissionCompleted, models.SubmissionSubmitted, false},
		{models.SubmissionDraft, models.SubmissionCompleted, false},
		{models.SubmissionDraft, models.SubmissionRevising, false},
		{models.SubmissionSubmitted, models.SubmissionDraft, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(models.SubmissionCompleted) {
		t.Fatal("completed should be terminal")
	}
	for _, status := range []string{models.SubmissionDraft, models.SubmissionSubmitted, models.SubmissionRevising} {
		if IsTerminal(status) {
			t.Fatalf("%s should not be terminal", status)
		}
	}
}

func TestValidStatus(t *testing.T) {
	if ValidStatus("archived") {
		t.Fatal("archived is not a known status")
	}
	if !ValidStatus(models.SubmissionRevising) {
		t.Fatal("revising is a known status")
	}
}
