// Package match resolves a question as rendered by the platform back to its
// bank entry. Two strategies run in order: positional resolution against an
// authoritative per-unit question order when one was captured, then scored
// fuzzy matching restricted to the active knowledge unit.
package match

import (
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"evalbot/internal/bank"
	"evalbot/internal/textnorm"
)

// ErrUnresolved reports that no bank question could be matched, or that the
// matched question's correct options could not be mapped onto the rendered
// options. Callers skip the question and move on.
var ErrUnresolved = errors.New("question unresolved")

// Strategy names carried on a Resolution, mostly for logs.
const (
	StrategyOrdered = "ordered"
	StrategyFuzzy   = "fuzzy"
)

// RenderedOption is one on-screen answer option. SelectorKey is whatever
// handle the driver needs to act on it later (an element index for the
// browser, the option id for direct calls).
type RenderedOption struct {
	Label       string
	Content     string
	SelectorKey string
}

// RenderedQuestion is the session-side view of a question. It is built per
// on-screen question and discarded after submission; it never references a
// bank entry directly.
type RenderedQuestion struct {
	Title   string
	Type    bank.QuestionType
	Options []RenderedOption
}

// Resolution is a successful match: the bank question, the rendered selector
// keys to act on, and the bank option ids behind them.
type Resolution struct {
	Question      *bank.Question
	SelectorKeys  []string
	AnswerIDs     []string
	Strategy      string
	Score         float64
	LowConfidence bool
}

type candidate struct {
	question    *bank.Question
	titleScore  float64
	optionScore float64
	totalScore  float64
}

// Config tunes the resolver.
type Config struct {
	// LowConfidence is the total-score floor below which a fuzzy match is
	// accepted but flagged. Zero means the 0.5 default.
	LowConfidence float64 `yaml:"low_confidence"`
}

func (c Config) lowConfidence() float64 {
	if c.LowConfidence <= 0 {
		return 0.5
	}
	return c.LowConfidence
}

// Resolver matches rendered questions inside one UnitContext at a time.
type Resolver struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Resolver {
	return &Resolver{cfg: cfg, log: log}
}

// UnitContext scopes resolution to one knowledge unit. order, when non-empty,
// is the authoritative bank question id sequence captured out of band; it is
// trusted only after the first rendered title verifies against it.
type UnitContext struct {
	unit *bank.KnowledgeUnit

	order    []string
	verified bool
	rejected bool
	position int

	normTitles map[string]string
}

// NewUnitContext builds the per-unit resolution scope. order may be nil when
// no authoritative question order is available.
func NewUnitContext(unit *bank.KnowledgeUnit, order []string) *UnitContext {
	uc := &UnitContext{
		unit:       unit,
		order:      order,
		normTitles: make(map[string]string, len(unit.Questions)),
	}
	for i := range unit.Questions {
		q := &unit.Questions[i]
		uc.normTitles[q.ID] = textnorm.Normalize(q.Title)
	}
	return uc
}

// Resolve maps one rendered question to a bank answer within uc's unit.
func (r *Resolver) Resolve(rq *RenderedQuestion, uc *UnitContext) (*Resolution, error) {
	title := textnorm.Normalize(rq.Title)

	if res := r.resolveOrdered(rq, uc, title); res != nil {
		return res, nil
	}
	return r.resolveFuzzy(rq, uc, title)
}

// resolveOrdered follows the captured question order. The first rendered
// title must verify against the order's first bank title; a failed
// verification rejects the order for the whole unit.
func (r *Resolver) resolveOrdered(rq *RenderedQuestion, uc *UnitContext, title string) *Resolution {
	if len(uc.order) == 0 || uc.rejected || uc.position >= len(uc.order) {
		return nil
	}
	q := uc.unit.QuestionByID(uc.order[uc.position])
	if q == nil {
		uc.rejected = true
		r.log.Warn("captured question order references unknown question",
			zap.String("unit", uc.unit.ID),
			zap.String("question", uc.order[uc.position]))
		return nil
	}
	if !uc.verified {
		if !titlesComparable(title, uc.normTitles[q.ID]) {
			uc.rejected = true
			r.log.Warn("captured question order failed title verification, falling back to fuzzy matching",
				zap.String("unit", uc.unit.ID))
			return nil
		}
		uc.verified = true
	}

	keys, ids := mapOptions(q, rq.Options)
	if len(keys) == 0 {
		// Positional identity is trusted but unusable on screen. Do not
		// reject the order; the next question may map fine.
		uc.position++
		return nil
	}
	uc.position++
	return &Resolution{
		Question:     q,
		SelectorKeys: keys,
		AnswerIDs:    ids,
		Strategy:     StrategyOrdered,
		Score:        1.0,
	}
}

func (r *Resolver) resolveFuzzy(rq *RenderedQuestion, uc *UnitContext, title string) (*Resolution, error) {
	var best *candidate
	for i := range uc.unit.Questions {
		q := &uc.unit.Questions[i]
		ts := titleScore(title, uc.normTitles[q.ID])
		os := optionScore(q, rq.Options)
		if ts <= 0 && os <= 0.5 {
			continue
		}
		total := 0.6*ts + 0.4*os
		if best == nil || total > best.totalScore {
			best = &candidate{question: q, titleScore: ts, optionScore: os, totalScore: total}
		}
	}
	if best == nil {
		return nil, ErrUnresolved
	}

	keys, ids := mapOptions(best.question, rq.Options)
	if len(keys) == 0 {
		return nil, ErrUnresolved
	}
	res := &Resolution{
		Question:     best.question,
		SelectorKeys: keys,
		AnswerIDs:    ids,
		Strategy:     StrategyFuzzy,
		Score:        best.totalScore,
	}
	if best.totalScore < r.cfg.lowConfidence() {
		res.LowConfidence = true
		r.log.Warn("low-confidence match accepted",
			zap.String("unit", uc.unit.ID),
			zap.String("question", best.question.ID),
			zap.Float64("score", best.totalScore),
			zap.Float64("title_score", best.titleScore),
			zap.Float64("option_score", best.optionScore))
	}
	return res, nil
}

// titlesComparable is the lenient check used to verify a captured order:
// exact, either-way containment, or a shared core longer than 10 characters
// once punctuation is stripped.
func titlesComparable(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b || strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	pa, pb := textnorm.StripPunct(a), textnorm.StripPunct(b)
	if pa == "" || pb == "" {
		return false
	}
	shorter := pa
	if utf8.RuneCountInString(pb) < utf8.RuneCountInString(shorter) {
		shorter = pb
	}
	return utf8.RuneCountInString(shorter) > 10 && (strings.Contains(pa, pb) || strings.Contains(pb, pa))
}

// titleScore returns the length ratio of the two normalized titles when they
// match, zero otherwise. Containment only counts when the shorter side is
// substantial enough to not match by accident.
func titleScore(rendered, bankTitle string) float64 {
	if rendered == "" || bankTitle == "" {
		return 0
	}
	matched := rendered == bankTitle
	if !matched {
		shorter, longer := rendered, bankTitle
		if utf8.RuneCountInString(bankTitle) < utf8.RuneCountInString(shorter) {
			shorter, longer = bankTitle, rendered
		}
		matched = utf8.RuneCountInString(shorter) >= 30 && strings.Contains(longer, shorter)
	}
	if !matched {
		matched = textnorm.StripPunct(rendered) == textnorm.StripPunct(bankTitle)
	}
	if !matched {
		return 0
	}
	la, lb := utf8.RuneCountInString(rendered), utf8.RuneCountInString(bankTitle)
	if la > lb {
		la, lb = lb, la
	}
	return float64(la) / float64(lb)
}

// optionScore is the fraction of rendered options that find a bank option by
// content containment.
func optionScore(q *bank.Question, rendered []RenderedOption) float64 {
	if len(rendered) == 0 {
		return 0
	}
	matched := 0
	for _, ro := range rendered {
		rc := textnorm.Normalize(ro.Content)
		for _, bo := range q.Options {
			if contentMatches(rc, textnorm.Normalize(bo.Content)) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(rendered))
}

// mapOptions projects the bank question's correct options onto the rendered
// options' selector keys. Keys come back in rendered order.
func mapOptions(q *bank.Question, rendered []RenderedOption) (keys, answerIDs []string) {
	correct := q.CorrectOptions()
	if len(correct) == 0 {
		return nil, nil
	}
	normCorrect := make([]string, len(correct))
	for i, o := range correct {
		normCorrect[i] = textnorm.Normalize(o.Content)
	}
	taken := make([]bool, len(correct))
	for _, ro := range rendered {
		rc := textnorm.Normalize(ro.Content)
		for i, nc := range normCorrect {
			if taken[i] || !contentMatches(rc, nc) {
				continue
			}
			taken[i] = true
			keys = append(keys, ro.SelectorKey)
			answerIDs = append(answerIDs, correct[i].ID)
			break
		}
	}
	return keys, answerIDs
}

// contentMatches compares two normalized option contents by equality or
// either-way containment.
func contentMatches(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}
