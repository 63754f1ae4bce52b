package forms

import "github.com/formforge/platform/pkg/common/models"

// The submission lifecycle:
//
//	draft -> submitted -> {completed, revising}
//	revising -> {submitted, completed}
//	completed is terminal
//
// This table is the single authority; exports and the intake API both
// consult it and neither mutates state on its own.
var transitions = map[string][]string{
	models.SubmissionDraft:     {models.SubmissionSubmitted},
	models.SubmissionSubmitted: {models.SubmissionCompleted, models.SubmissionRevising},
	models.SubmissionRevising:  {models.SubmissionSubmitted, models.SubmissionCompleted},
	models.SubmissionCompleted: {},
}

func ValidStatus(status string) bool {
	_, ok := transitions[status]
	return ok
}

func IsTerminal(status string) bool {
	next, ok := transitions[status]
	return ok && len(next) == 0
}

func CanTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
