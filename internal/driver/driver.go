// Package driver defines the contract shared by the interactive-session and
// direct-call execution paths. A driver turns one knowledge unit into a
// sequence of answered questions; everything above it (traversal, totals,
// cancellation) is driver-agnostic.
package driver

import (
	"context"
	"errors"

	"evalbot/internal/bank"
)

// ErrNoAttempt reports that the platform will not grant another attempt for
// the unit. It is a skip signal, not a failure.
var ErrNoAttempt = errors.New("no attempt available")

// ErrUnitDone is returned by AnswerNext once every question in the session
// has been processed.
var ErrUnitDone = errors.New("unit done")

// QuestionOutcome classifies one answered (or abandoned) question.
type QuestionOutcome int

const (
	QuestionSuccess QuestionOutcome = iota
	QuestionFailed
	QuestionSkipped
)

func (o QuestionOutcome) String() string {
	switch o {
	case QuestionSuccess:
		return "success"
	case QuestionFailed:
		return "failed"
	case QuestionSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// SubmissionOutcome aggregates question outcomes for one unit attempt.
type SubmissionOutcome struct {
	Total   int
	Success int
	Failed  int
	Skipped int
}

// Record folds one question outcome into the aggregate.
func (s *SubmissionOutcome) Record(o QuestionOutcome) {
	s.Total++
	switch o {
	case QuestionSuccess:
		s.Success++
	case QuestionFailed:
		s.Failed++
	case QuestionSkipped:
		s.Skipped++
	}
}

// Driver opens unit attempts. BeginUnit returns ErrNoAttempt when the
// platform refuses the attempt (already passed, ceiling reached).
type Driver interface {
	BeginUnit(ctx context.Context, unit *bank.KnowledgeUnit) (UnitSession, error)
}

// UnitSession walks the questions of one open attempt. AnswerNext returns
// ErrUnitDone after the last question; Finish submits or settles the unit.
type UnitSession interface {
	AnswerNext(ctx context.Context) (QuestionOutcome, error)
	Finish(ctx context.Context) error
}
