// Package apicall is the direct-call execution driver. It runs the four-step
// unit protocol against the platform service: open the attempt, fetch the
// question list, save each resolved answer, then finalize the unit. No
// browser is involved; the bearer credential on the remote client is the
// whole session.
package apicall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"evalbot/internal/bank"
	"evalbot/internal/driver"
	"evalbot/internal/match"
	"evalbot/internal/remote"
)

// Config tunes the direct-call driver.
type Config struct {
	// QuestionDelayMs paces answer submissions. Zero means 1500ms. This is
	// rate-limiting courtesy toward the platform, not correctness.
	QuestionDelayMs int `yaml:"question_delay_ms"`
}

func (c Config) questionDelay() time.Duration {
	if c.QuestionDelayMs <= 0 {
		return 1500 * time.Millisecond
	}
	return time.Duration(c.QuestionDelayMs) * time.Millisecond
}

// Driver implements driver.Driver over the remote client.
type Driver struct {
	cfg      Config
	remote   *remote.Client
	resolver *match.Resolver
	log      *zap.Logger

	sleep func(context.Context, time.Duration) error
}

func New(cfg Config, rc *remote.Client, resolver *match.Resolver, log *zap.Logger) *Driver {
	return &Driver{cfg: cfg, remote: rc, resolver: resolver, log: log, sleep: sleepCtx}
}

// BeginUnit opens a server-side attempt for the unit. The question list that
// comes back fixes the authoritative answer order for the session.
func (d *Driver) BeginUnit(ctx context.Context, unit *bank.KnowledgeUnit) (driver.UnitSession, error) {
	attempt, err := d.remote.BeginAttempt(ctx, unit.ID)
	if errors.Is(err, remote.ErrExhausted) {
		return nil, driver.ErrNoAttempt
	}
	if err != nil {
		return nil, fmt.Errorf("begin unit %s: %w", unit.ID, err)
	}
	order := make([]string, len(attempt.Questions))
	for i, q := range attempt.Questions {
		order[i] = q.ID
	}
	d.log.Info("attempt opened",
		zap.String("unit", unit.ID),
		zap.String("name", unit.Name),
		zap.Int("questions", len(order)))
	return &session{
		d:         d,
		unit:      unit,
		questions: attempt.Questions,
		uc:        match.NewUnitContext(unit, order),
	}, nil
}

type session struct {
	d         *Driver
	unit      *bank.KnowledgeUnit
	questions []remote.AttemptQuestion
	next      int
	uc        *match.UnitContext
}

// AnswerNext resolves and submits one question from the attempt list. An
// unresolvable question is skipped; a submission error fails only that
// question.
func (s *session) AnswerNext(ctx context.Context) (driver.QuestionOutcome, error) {
	if s.next >= len(s.questions) {
		return 0, driver.ErrUnitDone
	}
	q := s.questions[s.next]
	s.next++
	if s.next > 1 {
		if err := s.d.sleep(ctx, s.d.cfg.questionDelay()); err != nil {
			return 0, err
		}
	}

	res, err := s.d.resolver.Resolve(s.render(q), s.uc)
	if errors.Is(err, match.ErrUnresolved) {
		s.d.log.Warn("question not found in bank, skipping",
			zap.String("unit", s.unit.ID),
			zap.String("question", q.ID))
		return driver.QuestionSkipped, nil
	}
	if err != nil {
		return 0, err
	}

	if err := s.d.remote.SaveAnswer(ctx, s.unit.ID, q.ID, res.AnswerIDs); err != nil {
		s.d.log.Warn("answer submission failed",
			zap.String("unit", s.unit.ID),
			zap.String("question", q.ID),
			zap.Error(err))
		return driver.QuestionFailed, nil
	}
	return driver.QuestionSuccess, nil
}

// render builds the session-side question view. Option content and selector
// keys come from the bank entry the platform's question id points at; the
// resolver then confirms the pairing through the captured order.
func (s *session) render(q remote.AttemptQuestion) *match.RenderedQuestion {
	rq := &match.RenderedQuestion{Title: q.Title}
	bq := s.unit.QuestionByID(q.ID)
	if bq == nil {
		return rq
	}
	rq.Type = bq.Type
	for _, o := range bq.Options {
		rq.Options = append(rq.Options, match.RenderedOption{
			Content:     o.Content,
			SelectorKey: o.ID,
		})
	}
	return rq
}

// Finish submits the unit-completion call.
func (s *session) Finish(ctx context.Context) error {
	if err := s.d.remote.Finalize(ctx, s.unit.ID); err != nil {
		return fmt.Errorf("finalize unit %s: %w", s.unit.ID, err)
	}
	return nil
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
