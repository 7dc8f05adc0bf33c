// Package browser is the interactive-session execution driver. It steers a
// signed-in browser tab through each knowledge unit the way a person would:
// find the attempt button, confirm the modal, pick options question by
// question and let the platform auto-advance after the last one. All page
// access is funnelled through a single-consumer dispatcher because the
// automation driver is not safe for concurrent calls.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"evalbot/internal/bank"
	"evalbot/internal/driver"
	"evalbot/internal/match"
)

// Selectors and button texts of the assessment site's component framework.
const (
	selQuestionType  = ".question-type"
	selQuestionTitle = ".question-title"
	selRadioRow      = ".el-radio"
	selCheckboxRow   = ".el-checkbox"
	selMessageBox    = ".el-message-box"
	selMessageBoxBtn = ".el-message-box button"
	selDialogButtons = ".el-message-box__btns button"
	selPrimaryButton = "button.el-button--primary"
	selChapterMenu   = ".el-submenu"
	selChapterTitle  = ".el-submenu__title"
	selUnitMenuItem  = ".el-menu-item"
	selSuccessBanner = ".eva-success"

	textStartButton   = "开始测评"
	textRetryButton   = "测评"
	textNextButton    = "下一题"
	textConfirmButton = "确定"
)

const (
	// successWait bounds the poll for the completion banner after the last
	// question; settleDelay covers the site's own countdown before it jumps
	// to the next unit.
	successWait = 10 * time.Second
	settleDelay = 6 * time.Second

	dialogWait       = 5 * time.Second
	pageSettle       = 2 * time.Second
	expandSettle     = 500 * time.Millisecond
	optionSettle     = 500 * time.Millisecond
	multiPickSettle  = 300 * time.Millisecond
	nextLoadSettle   = 1500 * time.Millisecond
	dialogOpenSettle = time.Second
)

// Driver implements driver.Driver over a live page.
type Driver struct {
	cfg      Config
	page     pageOps
	resolver *match.Resolver
	log      *zap.Logger
	dispatch *dispatcher

	successWait time.Duration
	sleep       func(context.Context, time.Duration) error
}

func NewDriver(cfg Config, page pageOps, resolver *match.Resolver, log *zap.Logger) *Driver {
	return &Driver{
		cfg:         cfg,
		page:        page,
		resolver:    resolver,
		log:         log,
		dispatch:    newDispatcher(log),
		successWait: successWait,
		sleep:       sleepCtx,
	}
}

// Close releases the dispatcher. The page itself belongs to the Manager.
func (d *Driver) Close() {
	d.dispatch.Close()
}

// BeginUnit gets the unit's attempt open on screen: the attempt button on the
// current view when the site already navigated there, otherwise a menu search
// by unit name. No clickable attempt button means the unit grants no attempt.
func (d *Driver) BeginUnit(ctx context.Context, unit *bank.KnowledgeUnit) (driver.UnitSession, error) {
	err := d.dispatch.Do(ctx, func(ctx context.Context) error {
		if !d.clickAttemptButton() {
			d.log.Info("no attempt button on current view, searching unit menu",
				zap.String("unit", unit.ID), zap.String("name", unit.Name))
			if err := d.openUnitFromMenu(ctx, unit); err != nil {
				return err
			}
			if !d.clickAttemptButton() {
				return driver.ErrNoAttempt
			}
		}
		if err := d.sleep(ctx, dialogOpenSettle); err != nil {
			return err
		}
		if err := d.confirmDialog(); err != nil {
			return err
		}
		return d.sleep(ctx, pageSettle)
	})
	if err != nil {
		return nil, err
	}
	d.log.Info("unit attempt opened on screen", zap.String("unit", unit.ID), zap.String("name", unit.Name))
	return &session{
		d:    d,
		unit: unit,
		uc:   match.NewUnitContext(unit, nil),
		max:  d.cfg.maxQuestions(),
	}, nil
}

// clickAttemptButton tries the fresh-attempt button first, then any primary
// button that reads like a retry ("第X次测评").
func (d *Driver) clickAttemptButton() bool {
	if err := d.page.ClickByText("button", textStartButton, 3*time.Second); err == nil {
		return true
	}
	n, err := d.page.Count(selPrimaryButton)
	if err != nil {
		return false
	}
	for i := 0; i < n; i++ {
		text, err := d.page.TextAt(selPrimaryButton, i)
		if err != nil {
			continue
		}
		if strings.Contains(text, textRetryButton) {
			if err := d.page.ClickAt(selPrimaryButton, i); err == nil {
				return true
			}
		}
	}
	return false
}

// openUnitFromMenu reloads the unit list, expands every chapter and clicks
// the menu entry carrying the unit's name.
func (d *Driver) openUnitFromMenu(ctx context.Context, unit *bank.KnowledgeUnit) error {
	if err := d.page.Reload(); err != nil {
		return fmt.Errorf("reload unit list: %w", err)
	}
	if err := d.sleep(ctx, pageSettle); err != nil {
		return err
	}
	if err := d.page.WaitVisible(selChapterMenu, dialogWait); err != nil {
		return fmt.Errorf("unit menu not present: %w", err)
	}

	chapters, err := d.page.Count(selChapterTitle)
	if err != nil {
		return err
	}
	for i := 0; i < chapters; i++ {
		if err := d.page.ClickAt(selChapterTitle, i); err != nil {
			continue
		}
		if err := d.sleep(ctx, expandSettle); err != nil {
			return err
		}
	}

	items, err := d.page.Count(selUnitMenuItem)
	if err != nil {
		return err
	}
	for i := 0; i < items; i++ {
		text, err := d.page.TextAt(selUnitMenuItem, i)
		if err != nil {
			continue
		}
		if unit.Name != "" && strings.Contains(text, unit.Name) {
			if err := d.page.ClickAt(selUnitMenuItem, i); err != nil {
				return fmt.Errorf("open unit %s: %w", unit.ID, err)
			}
			return d.sleep(ctx, expandSettle)
		}
	}
	return driver.ErrNoAttempt
}

// confirmDialog clicks the confirm button of the attempt modal. Some unit
// views skip the modal and render questions immediately.
func (d *Driver) confirmDialog() error {
	if err := d.page.WaitVisible(selMessageBox, dialogWait); err != nil {
		if d.page.Visible(selQuestionType) {
			return nil
		}
		return fmt.Errorf("attempt dialog missing: %w", err)
	}
	if err := d.page.ClickByText(selMessageBoxBtn, textConfirmButton, 2*time.Second); err == nil {
		return nil
	}
	// The confirm action is conventionally the second button.
	if err := d.page.ClickAt(selDialogButtons, 1); err != nil {
		return fmt.Errorf("confirm attempt dialog: %w", err)
	}
	return nil
}

type session struct {
	d    *Driver
	unit *bank.KnowledgeUnit
	uc   *match.UnitContext
	next int
	max  int
}

// AnswerNext handles one rendered question end to end: parse, resolve, click
// the option controls and advance. An unresolvable question is skipped but
// still advanced past; a missing title or option group abandons the unit.
func (s *session) AnswerNext(ctx context.Context) (driver.QuestionOutcome, error) {
	if s.next >= s.max {
		return 0, driver.ErrUnitDone
	}
	idx := s.next
	s.next++
	last := s.next == s.max

	var outcome driver.QuestionOutcome
	err := s.d.dispatch.Do(ctx, func(ctx context.Context) error {
		var err error
		outcome, err = s.answerCurrent(ctx, idx)
		if err != nil {
			return err
		}
		return s.advance(ctx, last)
	})
	if err != nil {
		return 0, err
	}
	return outcome, nil
}

func (s *session) answerCurrent(ctx context.Context, idx int) (driver.QuestionOutcome, error) {
	rq, err := s.parseQuestion()
	if err != nil {
		return 0, fmt.Errorf("question %d: %w", idx+1, err)
	}
	s.d.log.Debug("question parsed",
		zap.String("unit", s.unit.ID),
		zap.Int("index", idx+1),
		zap.Stringer("type", rq.Type),
		zap.Int("options", len(rq.Options)))

	res, err := s.d.resolver.Resolve(rq, s.uc)
	if errors.Is(err, match.ErrUnresolved) {
		s.d.log.Warn("question not found in bank, skipping",
			zap.String("unit", s.unit.ID), zap.Int("index", idx+1))
		return driver.QuestionSkipped, nil
	}
	if err != nil {
		return 0, err
	}

	if err := s.applyAnswer(ctx, rq, res); err != nil {
		s.d.log.Warn("failed to click answer options",
			zap.String("unit", s.unit.ID),
			zap.String("question", res.Question.ID),
			zap.Error(err))
		return driver.QuestionFailed, nil
	}
	return driver.QuestionSuccess, nil
}

// parseQuestion reads the rendered question off the page. The type badge
// decides which option group to parse; a missing badge means single choice.
func (s *session) parseQuestion() (*match.RenderedQuestion, error) {
	qType := bank.Single
	groupSel := selRadioRow
	if typeText, err := s.d.page.Text(selQuestionType); err == nil {
		switch {
		case strings.Contains(typeText, "多选"):
			qType = bank.Multiple
			groupSel = selCheckboxRow
		case strings.Contains(typeText, "判断"):
			qType = bank.Boolean
		}
	}

	title, err := s.d.page.Text(selQuestionTitle)
	if err != nil {
		return nil, fmt.Errorf("question title missing: %w", err)
	}
	opts, err := s.d.page.Options(groupSel)
	if err != nil {
		return nil, err
	}
	if len(opts) == 0 {
		return nil, fmt.Errorf("no options rendered for %s question", qType)
	}

	rq := &match.RenderedQuestion{Title: title, Type: qType}
	for _, o := range opts {
		rq.Options = append(rq.Options, match.RenderedOption{
			Label:       o.Label,
			Content:     o.Content,
			SelectorKey: o.Value,
		})
	}
	return rq, nil
}

// applyAnswer clicks the resolved option rows. Single and boolean questions
// take the first key only; multi-select clicks each with a small settle so
// the framework registers every pick.
func (s *session) applyAnswer(ctx context.Context, rq *match.RenderedQuestion, res *match.Resolution) error {
	groupSel := selRadioRow
	if rq.Type == bank.Multiple {
		groupSel = selCheckboxRow
	}
	keys := res.SelectorKeys
	if rq.Type != bank.Multiple && len(keys) > 1 {
		keys = keys[:1]
	}
	for _, key := range keys {
		if err := s.d.page.ClickOption(groupSel, key); err != nil {
			return err
		}
		if rq.Type == bank.Multiple {
			if err := s.d.sleep(ctx, multiPickSettle); err != nil {
				return err
			}
		}
	}
	return s.d.sleep(ctx, optionSettle)
}

// advance clicks the next-question button. On the last question the same
// button ends the unit; the success wait happens in Finish.
func (s *session) advance(ctx context.Context, last bool) error {
	if err := s.d.page.ClickByText("button", textNextButton, dialogWait); err != nil {
		if last {
			// Some unit views submit on the last pick without a button.
			s.d.log.Debug("next button absent on last question", zap.Error(err))
			return nil
		}
		return fmt.Errorf("advance to next question: %w", err)
	}
	if last {
		return s.d.sleep(ctx, time.Second)
	}
	return s.d.sleep(ctx, nextLoadSettle)
}

// Finish waits for the completion banner and for the site's auto-advance to
// the next unit. Detection is best-effort; when the page cannot be confirmed
// to have moved on, the unit list is reloaded so the next BeginUnit starts
// from a known view.
func (s *session) Finish(ctx context.Context) error {
	return s.d.dispatch.Do(ctx, func(ctx context.Context) error {
		detected := false
		deadline := time.Now().Add(s.d.successWait)
		for time.Now().Before(deadline) {
			if s.d.page.Visible(selSuccessBanner) {
				detected = true
				break
			}
			if err := s.d.sleep(ctx, 500*time.Millisecond); err != nil {
				return err
			}
		}
		if !detected {
			s.d.log.Warn("no completion banner detected, continuing", zap.String("unit", s.unit.ID))
			return nil
		}

		s.d.log.Info("unit completion confirmed on screen", zap.String("unit", s.unit.ID))
		if err := s.d.sleep(ctx, settleDelay); err != nil {
			return err
		}
		if err := s.d.page.WaitHidden(selQuestionType, 3*time.Second); err == nil {
			return nil
		}
		if s.d.page.Visible(selPrimaryButton) {
			return nil
		}
		if n, err := s.d.page.Count(selUnitMenuItem); err == nil && n > 0 {
			return nil
		}
		s.d.log.Warn("auto-advance not detected, reloading unit list", zap.String("unit", s.unit.ID))
		if err := s.d.page.Reload(); err != nil {
			return fmt.Errorf("reload after unit: %w", err)
		}
		return s.d.sleep(ctx, pageSettle)
	})
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
