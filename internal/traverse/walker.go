// Package traverse selects which knowledge unit to attempt next and keeps the
// run-level tally. Units advance through a small state machine: uncompleted
// until attempted, then completed, exhausted, or back to uncompleted when the
// attempt failed.
package traverse

import (
	"errors"

	"go.uber.org/zap"

	"evalbot/internal/bank"
	"evalbot/internal/driver"
)

// UnitState is the walker's view of one knowledge unit.
type UnitState int

const (
	StateUncompleted UnitState = iota
	StateCompleted
	StateExhausted
)

// Status is the last server-reported standing of a unit, consulted before
// spending an attempt on it.
type Status struct {
	IsPass   bool
	Attempts int
}

// RunTotals is the run-level aggregate. It is returned even when the run is
// cut short; Stopped marks that case.
type RunTotals struct {
	AttemptedUnits int
	CompletedUnits int
	FailedUnits    int
	SkippedUnits   int
	Questions      driver.SubmissionOutcome
	Stopped        bool
}

// Config tunes the walk.
type Config struct {
	// AttemptCeiling is the platform's per-unit attempt limit. Zero means 3.
	AttemptCeiling int `yaml:"attempt_ceiling"`
	// TargetCount caps units actually attempted. Skipped units do not count
	// toward it. Zero means no cap.
	TargetCount int `yaml:"-"`
}

func (c Config) ceiling() int {
	if c.AttemptCeiling <= 0 {
		return 3
	}
	return c.AttemptCeiling
}

// Walker yields units in ordinal order within each chapter, chapters in list
// order. It is not safe for concurrent use; the engine drives it from one
// goroutine.
type Walker struct {
	cfg    Config
	bank   *bank.Bank
	status map[string]Status
	log    *zap.Logger

	chapter int
	unit    int
	states  map[string]UnitState
	totals  RunTotals
}

// New builds a walker over b. status holds the server-reported standing per
// unit id; units absent from it are treated as never attempted.
func New(cfg Config, b *bank.Bank, status map[string]Status, log *zap.Logger) *Walker {
	if status == nil {
		status = map[string]Status{}
	}
	return &Walker{
		cfg:    cfg,
		bank:   b,
		status: status,
		log:    log,
		states: make(map[string]UnitState),
	}
}

// NextUnit returns the next unit worth attempting, or nil when the target is
// met or the tree is exhausted. Units already passed or out of attempts are
// skipped in place and counted in the totals.
func (w *Walker) NextUnit() *bank.KnowledgeUnit {
	if w.cfg.TargetCount > 0 && w.totals.AttemptedUnits >= w.cfg.TargetCount {
		return nil
	}
	for w.chapter < len(w.bank.Chapters) {
		ch := &w.bank.Chapters[w.chapter]
		for w.unit < len(ch.Units) {
			u := &ch.Units[w.unit]
			w.unit++
			st := w.status[u.ID]
			switch {
			case st.IsPass:
				w.states[u.ID] = StateCompleted
			case st.Attempts >= w.cfg.ceiling():
				w.states[u.ID] = StateExhausted
			default:
				return u
			}
			w.totals.SkippedUnits++
			w.log.Debug("skipping unit",
				zap.String("unit", u.ID),
				zap.String("name", u.Name),
				zap.Bool("passed", st.IsPass),
				zap.Int("attempts", st.Attempts))
		}
		w.chapter++
		w.unit = 0
	}
	return nil
}

// RecordOutcome folds one unit attempt into the totals. A driver.ErrNoAttempt
// error means the platform refused the attempt: the unit is marked exhausted
// and does not count toward the target. Any other error marks the attempt
// failed; the unit stays uncompleted for a later run.
func (w *Walker) RecordOutcome(u *bank.KnowledgeUnit, out driver.SubmissionOutcome, err error) {
	if errors.Is(err, driver.ErrNoAttempt) {
		w.states[u.ID] = StateExhausted
		w.totals.SkippedUnits++
		w.log.Info("unit attempt refused by platform", zap.String("unit", u.ID), zap.String("name", u.Name))
		return
	}

	w.totals.AttemptedUnits++
	w.totals.Questions.Total += out.Total
	w.totals.Questions.Success += out.Success
	w.totals.Questions.Failed += out.Failed
	w.totals.Questions.Skipped += out.Skipped

	if err != nil {
		w.states[u.ID] = StateUncompleted
		w.totals.FailedUnits++
		w.log.Warn("unit attempt failed", zap.String("unit", u.ID), zap.String("name", u.Name), zap.Error(err))
		return
	}
	w.states[u.ID] = StateCompleted
	w.totals.CompletedUnits++
	w.log.Info("unit completed",
		zap.String("unit", u.ID),
		zap.String("name", u.Name),
		zap.Int("questions", out.Total),
		zap.Int("answered", out.Success))
}

// State reports the walker's current view of a unit.
func (w *Walker) State(unitID string) UnitState {
	return w.states[unitID]
}

// MarkStopped flags the totals as a partial result from a cancelled run.
func (w *Walker) MarkStopped() {
	w.totals.Stopped = true
}

// Totals returns the run aggregate so far.
func (w *Walker) Totals() RunTotals {
	return w.totals
}
