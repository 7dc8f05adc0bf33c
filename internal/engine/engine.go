// Package engine drives a whole run: it pulls units off the traversal walker,
// hands each to the execution driver, checks the cancellation token between
// questions and between units, and paces consecutive attempts. The engine is
// driver-agnostic; browser and direct-call runs differ only in what was
// injected.
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"evalbot/internal/bank"
	"evalbot/internal/cancel"
	"evalbot/internal/driver"
	"evalbot/internal/traverse"
)

// Config tunes the run loop.
type Config struct {
	// UnitDelayMs paces consecutive unit attempts. Zero means 3000ms.
	UnitDelayMs int
}

func (c Config) unitDelay() time.Duration {
	if c.UnitDelayMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.UnitDelayMs) * time.Millisecond
}

// Engine runs the completion loop over one driver and one walker.
type Engine struct {
	cfg    Config
	drv    driver.Driver
	walker *traverse.Walker
	token  *cancel.Token
	log    *zap.Logger

	sleep func(context.Context, time.Duration) error
}

func New(cfg Config, drv driver.Driver, walker *traverse.Walker, token *cancel.Token, log *zap.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		drv:    drv,
		walker: walker,
		token:  token,
		log:    log,
		sleep:  sleepCtx,
	}
}

// Run works through units until the walker is done, the target is met, the
// context ends, or a stop is observed. The totals are returned even when the
// run ends early; nothing in a run is fatal to the process.
func (e *Engine) Run(ctx context.Context) (traverse.RunTotals, error) {
	first := true
	for {
		if e.token.CheckpointUnit() {
			e.log.Info("stop requested, ending run between units")
			e.walker.MarkStopped()
			break
		}
		if ctx.Err() != nil {
			e.walker.MarkStopped()
			break
		}

		unit := e.walker.NextUnit()
		if unit == nil {
			break
		}
		if !first {
			if err := e.sleep(ctx, e.cfg.unitDelay()); err != nil {
				e.walker.MarkStopped()
				break
			}
		}
		first = false

		e.log.Info("attempting unit",
			zap.String("unit", unit.ID),
			zap.String("name", unit.Name),
			zap.String("chapter", unit.ChapterID))
		out, err := e.runUnit(ctx, unit)
		e.walker.RecordOutcome(unit, out, err)
	}

	totals := e.walker.Totals()
	e.log.Info("run finished",
		zap.Int("attempted", totals.AttemptedUnits),
		zap.Int("completed", totals.CompletedUnits),
		zap.Int("failed", totals.FailedUnits),
		zap.Int("skipped_knowledges", totals.SkippedUnits),
		zap.Int("questions", totals.Questions.Total),
		zap.Bool("stopped", totals.Stopped))
	return totals, nil
}

// runUnit answers every question of one attempt and finalizes it. A stop
// observed at the question checkpoint ends the question loop but the unit is
// still finalized, so the platform never sees a half-open attempt.
func (e *Engine) runUnit(ctx context.Context, unit *bank.KnowledgeUnit) (driver.SubmissionOutcome, error) {
	var out driver.SubmissionOutcome

	e.token.BeginUnit()
	defer e.token.EndUnit()

	sess, err := e.drv.BeginUnit(ctx, unit)
	if err != nil {
		return out, err
	}

	for {
		if e.token.CheckpointQuestion() {
			e.log.Info("stop requested, finalizing unit early", zap.String("unit", unit.ID))
			break
		}
		e.token.BeginQuestion()
		o, err := sess.AnswerNext(ctx)
		e.token.EndQuestion()
		if errors.Is(err, driver.ErrUnitDone) {
			break
		}
		if err != nil {
			return out, err
		}
		out.Record(o)
	}

	if err := sess.Finish(ctx); err != nil {
		return out, err
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
