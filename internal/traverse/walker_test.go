package traverse

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"evalbot/internal/bank"
	"evalbot/internal/driver"
)

func fiveUnitBank(t *testing.T) *bank.Bank {
	t.Helper()
	units := make([]bank.KnowledgeUnit, 5)
	for i := range units {
		units[i] = bank.KnowledgeUnit{
			ID:   "k" + string(rune('1'+i)),
			Name: "单元" + string(rune('1'+i)),
			Questions: []bank.Question{{
				ID:    "q" + string(rune('1'+i)),
				Title: "题目",
				Options: []bank.Option{
					{ID: "a", Content: "对", Correct: true},
					{ID: "b", Content: "错"},
				},
			}},
		}
	}
	b, err := bank.New("数据结构", []bank.Chapter{
		{ID: "c1", Title: "第一章", Units: units[:3]},
		{ID: "c2", Title: "第二章", Units: units[3:]},
	})
	require.NoError(t, err)
	return b
}

func TestWalkOrderAndStates(t *testing.T) {
	w := New(Config{}, fiveUnitBank(t), nil, zap.NewNop())

	var ids []string
	for u := w.NextUnit(); u != nil; u = w.NextUnit() {
		ids = append(ids, u.ID)
		w.RecordOutcome(u, driver.SubmissionOutcome{Total: 1, Success: 1}, nil)
	}
	assert.Equal(t, []string{"k1", "k2", "k3", "k4", "k5"}, ids)

	tot := w.Totals()
	assert.Equal(t, 5, tot.AttemptedUnits)
	assert.Equal(t, 5, tot.CompletedUnits)
	assert.Equal(t, 0, tot.SkippedUnits)
	assert.Equal(t, 5, tot.Questions.Success)
	assert.Equal(t, StateCompleted, w.State("k3"))
	assert.False(t, tot.Stopped)
}

func TestTargetCountsAttemptsNotSkips(t *testing.T) {
	// Two units are out of the running before the walk starts; the target of
	// 2 must be spent entirely on eligible units.
	status := map[string]Status{
		"k1": {IsPass: true, Attempts: 1},
		"k3": {Attempts: 3},
	}
	w := New(Config{TargetCount: 2}, fiveUnitBank(t), status, zap.NewNop())

	var ids []string
	for u := w.NextUnit(); u != nil; u = w.NextUnit() {
		ids = append(ids, u.ID)
		w.RecordOutcome(u, driver.SubmissionOutcome{Total: 1, Success: 1}, nil)
	}
	assert.Equal(t, []string{"k2", "k4"}, ids)

	tot := w.Totals()
	assert.Equal(t, 2, tot.AttemptedUnits)
	assert.Equal(t, 2, tot.SkippedUnits)
	assert.Equal(t, StateCompleted, w.State("k1"))
	assert.Equal(t, StateExhausted, w.State("k3"))
}

func TestAttemptCeilingConfigurable(t *testing.T) {
	status := map[string]Status{"k1": {Attempts: 1}}
	w := New(Config{AttemptCeiling: 1}, fiveUnitBank(t), status, zap.NewNop())

	u := w.NextUnit()
	require.NotNil(t, u)
	assert.Equal(t, "k2", u.ID)
	assert.Equal(t, StateExhausted, w.State("k1"))
}

func TestFailedAttemptStaysUncompleted(t *testing.T) {
	w := New(Config{}, fiveUnitBank(t), nil, zap.NewNop())

	u := w.NextUnit()
	require.NotNil(t, u)
	w.RecordOutcome(u, driver.SubmissionOutcome{Total: 1, Failed: 1}, errors.New("missing control"))

	tot := w.Totals()
	assert.Equal(t, 1, tot.AttemptedUnits)
	assert.Equal(t, 1, tot.FailedUnits)
	assert.Equal(t, 1, tot.Questions.Failed)
	assert.Equal(t, StateUncompleted, w.State(u.ID))

	// The failed unit is not revisited within this run.
	next := w.NextUnit()
	require.NotNil(t, next)
	assert.NotEqual(t, u.ID, next.ID)
}

func TestRefusedAttemptDoesNotConsumeTarget(t *testing.T) {
	w := New(Config{TargetCount: 1}, fiveUnitBank(t), nil, zap.NewNop())

	u := w.NextUnit()
	require.NotNil(t, u)
	w.RecordOutcome(u, driver.SubmissionOutcome{}, driver.ErrNoAttempt)

	tot := w.Totals()
	assert.Equal(t, 0, tot.AttemptedUnits)
	assert.Equal(t, 1, tot.SkippedUnits)
	assert.Equal(t, StateExhausted, w.State(u.ID))

	// The target is still unspent, so the walk continues.
	next := w.NextUnit()
	require.NotNil(t, next)
	w.RecordOutcome(next, driver.SubmissionOutcome{Total: 1, Success: 1}, nil)
	assert.Nil(t, w.NextUnit())
}

func TestMarkStopped(t *testing.T) {
	w := New(Config{}, fiveUnitBank(t), nil, zap.NewNop())
	w.MarkStopped()
	assert.True(t, w.Totals().Stopped)
}
