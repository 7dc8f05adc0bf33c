// Package remote is the typed client for the assessment service's four
// logical operations: list outstanding units, begin an attempt, save one
// answer, finalize the attempt. It also exposes the per-unit status pre-scan
// the traversal uses to skip passed or exhausted units without burning an
// attempt.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"evalbot/internal/transport"
)

// ErrExhausted signals that the unit's attempt ceiling is reached. It is a
// skip signal, never a failure.
var ErrExhausted = errors.New("remote: attempts exhausted for unit")

// The service reports exhaustion as a plain error message; these markers are
// the two phrasings it uses.
var exhaustionMarkers = []string{"评估过3次", "已经评估"}

// Config locates and authenticates the service.
type Config struct {
	BaseURL string
	Token   string // bearer credential, supplied by the identity provider
	SignKey string
}

func (c Config) baseURL() string {
	if c.BaseURL == "" {
		return "https://ai.cqzuxia.com/evaluation/api"
	}
	return strings.TrimRight(c.BaseURL, "/")
}

// UnitStatus is the server-reported state of one knowledge unit.
type UnitStatus struct {
	IsPass   bool
	Attempts int
}

// UnitSummary identifies one outstanding knowledge unit.
type UnitSummary struct {
	ID   string
	Name string
}

// ChapterSummary groups the outstanding units of one chapter.
type ChapterSummary struct {
	Title string
	Units []UnitSummary
}

// AttemptQuestion is one entry of the authoritative, ordered question list an
// attempt yields.
type AttemptQuestion struct {
	ID    string
	Title string
}

// Attempt is an open attempt for a unit.
type Attempt struct {
	Questions []AttemptQuestion
}

// Client calls the assessment service through the shared resilient transport.
type Client struct {
	cfg  Config
	http *transport.Client
	log  *zap.Logger
}

func New(cfg Config, httpClient *transport.Client, log *zap.Logger) *Client {
	return &Client{cfg: cfg, http: httpClient, log: log}
}

// IsAlive probes whether the bearer credential still works. The course-list
// endpoint answers 200 for a live token regardless of payload shape, so only
// the status is checked.
func (c *Client) IsAlive(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.baseURL()+"/StudentEvaluate/GetCourseList", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type courseInfoEntry struct {
	ID             string `json:"id"`
	TestMemberInfo struct {
		IsPass bool `json:"isPass"`
		Times  int  `json:"times"`
	} `json:"testMemberInfo"`
}

// CourseStatus returns the per-unit pass flag and attempt count for a course.
func (c *Client) CourseStatus(ctx context.Context, courseID string) (map[string]UnitStatus, error) {
	var entries []courseInfoEntry
	q := url.Values{"CourseID": {courseID}}
	if err := c.getJSON(ctx, "/studentevaluate/GetCourseInfoByCourseId", q, &entries); err != nil {
		return nil, fmt.Errorf("course status: %w", err)
	}
	status := make(map[string]UnitStatus, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		status[e.ID] = UnitStatus{IsPass: e.TestMemberInfo.IsPass, Attempts: e.TestMemberInfo.Times}
	}
	return status, nil
}

type chapterEntry struct {
	Title         string `json:"title"`
	KnowledgeList []struct {
		ID        string `json:"id"`
		Knowledge string `json:"knowledge"`
	} `json:"knowledgeList"`
}

// OutstandingChapters lists the chapters that still contain uncompleted
// units, in platform order.
func (c *Client) OutstandingChapters(ctx context.Context, courseID string) ([]ChapterSummary, error) {
	var entries []chapterEntry
	q := url.Values{"CourseID": {courseID}}
	if err := c.getJSON(ctx, "/StuEvaluateReport/GetUnCompleteChapterList", q, &entries); err != nil {
		return nil, fmt.Errorf("outstanding chapters: %w", err)
	}
	out := make([]ChapterSummary, 0, len(entries))
	for _, e := range entries {
		ch := ChapterSummary{Title: e.Title}
		for _, k := range e.KnowledgeList {
			ch.Units = append(ch.Units, UnitSummary{ID: k.ID, Name: k.Knowledge})
		}
		out = append(out, ch)
	}
	return out, nil
}

type attemptPayload struct {
	QuestionList []struct {
		ID            string `json:"id"`
		QuestionTitle string `json:"questionTitle"`
	} `json:"questionList"`
}

// BeginAttempt starts an attempt for the unit and returns the service's
// ordered question list. An exhaustion report maps to ErrExhausted.
func (c *Client) BeginAttempt(ctx context.Context, unitID string) (*Attempt, error) {
	params := beginParams(unitID)
	q := url.Values{"kpid": {unitID}, "sign": {Sign(c.cfg.SignKey, params)}}

	var payload attemptPayload
	if err := c.getJSON(ctx, "/studentevaluate/beginevaluate", q, &payload); err != nil {
		return nil, fmt.Errorf("begin attempt %s: %w", unitID, err)
	}
	a := &Attempt{Questions: make([]AttemptQuestion, 0, len(payload.QuestionList))}
	for _, e := range payload.QuestionList {
		a.Questions = append(a.Questions, AttemptQuestion{ID: e.ID, Title: e.QuestionTitle})
	}
	c.log.Debug("attempt opened", zap.String("unit", unitID), zap.Int("questions", len(a.Questions)))
	return a, nil
}

type answerBody struct {
	QuestionID string `json:"QuestionID"`
	AnswerID   string `json:"AnswerID"`
}

// SaveAnswer submits one question's answer. Multiple correct options are
// joined with commas, matching the service's multi-select convention.
func (c *Client) SaveAnswer(ctx context.Context, unitID, questionID string, answerIDs []string) error {
	answerID := strings.Join(answerIDs, ",")
	params, err := saveParams(unitID, questionID, answerID)
	if err != nil {
		return err
	}
	body := map[string]any{
		"kpid":      unitID,
		"questions": []answerBody{{QuestionID: questionID, AnswerID: answerID}},
		"sign":      Sign(c.cfg.SignKey, params),
	}
	if err := c.postJSON(ctx, "/StudentEvaluate/SaveEvaluateAnswer", body, nil); err != nil {
		return fmt.Errorf("save answer %s/%s: %w", unitID, questionID, err)
	}
	return nil
}

// Finalize submits the attempt for grading.
func (c *Client) Finalize(ctx context.Context, unitID string) error {
	params := finalizeParams(unitID)
	body := map[string]any{
		"kpid":      unitID,
		"questions": []answerBody{},
		"sign":      Sign(c.cfg.SignKey, params),
	}
	if err := c.postJSON(ctx, "/StudentEvaluate/SaveTestMemberInfo", body, nil); err != nil {
		return fmt.Errorf("finalize %s: %w", unitID, err)
	}
	return nil
}

// envelope is the service's common response wrapper. Some endpoints report
// success via code==0, others via the success flag; both are honored.
type envelope struct {
	Code    *int            `json:"code"`
	Success *bool           `json:"success"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

func (e *envelope) ok() bool {
	if e.Code != nil && *e.Code == 0 {
		return true
	}
	return e.Success != nil && *e.Success
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.cfg.baseURL() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.baseURL()+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.ok() {
		for _, marker := range exhaustionMarkers {
			if strings.Contains(env.Msg, marker) {
				return ErrExhausted
			}
		}
		return fmt.Errorf("service error: %s", env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	return nil
}
