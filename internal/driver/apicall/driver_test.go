package apicall

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"evalbot/internal/bank"
	"evalbot/internal/driver"
	"evalbot/internal/match"
	"evalbot/internal/remote"
	"evalbot/internal/transport"
)

func testUnit() *bank.KnowledgeUnit {
	return &bank.KnowledgeUnit{
		ID:   "k1",
		Name: "线性表",
		Questions: []bank.Question{
			{ID: "q1", Title: "顺序表的存储结构是连续的吗", Options: []bank.Option{
				{ID: "o1", Content: "是", Correct: true},
				{ID: "o2", Content: "否"},
			}},
			{ID: "q2", Title: "链表支持随机访问吗", Type: bank.Multiple, Options: []bank.Option{
				{ID: "o3", Content: "支持"},
				{ID: "o4", Content: "不支持", Correct: true},
				{ID: "o5", Content: "视实现而定", Correct: true},
			}},
		},
	}
}

func newTestDriver(t *testing.T, handler http.Handler) *Driver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	rc := remote.New(
		remote.Config{BaseURL: srv.URL, Token: "tok", SignKey: "key"},
		transport.New(transport.Config{MaxRetries: 1}, zap.NewNop()),
		zap.NewNop(),
	)
	d := New(Config{}, rc, match.New(match.Config{}, zap.NewNop()), zap.NewNop())
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func TestFullUnitProtocol(t *testing.T) {
	type saved struct{ question, answer string }
	var submissions []saved
	finalized := false

	d := newTestDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/studentevaluate/beginevaluate":
			io.WriteString(w, `{"code":0,"data":{"questionList":[
				{"id":"q1","questionTitle":"顺序表的存储结构是连续的吗"},
				{"id":"q2","questionTitle":"链表支持随机访问吗"}
			]}}`)
		case "/StudentEvaluate/SaveEvaluateAnswer":
			var body struct {
				Questions []struct {
					QuestionID string `json:"QuestionID"`
					AnswerID   string `json:"AnswerID"`
				} `json:"questions"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Len(t, body.Questions, 1)
			submissions = append(submissions, saved{body.Questions[0].QuestionID, body.Questions[0].AnswerID})
			io.WriteString(w, `{"code":0}`)
		case "/StudentEvaluate/SaveTestMemberInfo":
			finalized = true
			io.WriteString(w, `{"code":0}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	ctx := context.Background()
	sess, err := d.BeginUnit(ctx, testUnit())
	require.NoError(t, err)

	var out driver.SubmissionOutcome
	for {
		o, err := sess.AnswerNext(ctx)
		if err == driver.ErrUnitDone {
			break
		}
		require.NoError(t, err)
		out.Record(o)
	}
	require.NoError(t, sess.Finish(ctx))

	assert.Equal(t, driver.SubmissionOutcome{Total: 2, Success: 2}, out)
	assert.Equal(t, []saved{{"q1", "o1"}, {"q2", "o4,o5"}}, submissions)
	assert.True(t, finalized)
}

func TestExhaustedAttemptIsSkipSignal(t *testing.T) {
	d := newTestDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":1,"msg":"该知识点评估过3次"}`)
	}))

	_, err := d.BeginUnit(context.Background(), testUnit())
	assert.ErrorIs(t, err, driver.ErrNoAttempt)
}

func TestUnknownQuestionSkipped(t *testing.T) {
	d := newTestDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/studentevaluate/beginevaluate":
			io.WriteString(w, `{"code":0,"data":{"questionList":[
				{"id":"nope","questionTitle":"不在题库里的题目"}
			]}}`)
		default:
			io.WriteString(w, `{"code":0}`)
		}
	}))

	ctx := context.Background()
	sess, err := d.BeginUnit(ctx, testUnit())
	require.NoError(t, err)

	o, err := sess.AnswerNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, driver.QuestionSkipped, o)

	_, err = sess.AnswerNext(ctx)
	assert.ErrorIs(t, err, driver.ErrUnitDone)
}

func TestSubmissionErrorFailsOnlyThatQuestion(t *testing.T) {
	d := newTestDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/studentevaluate/beginevaluate":
			io.WriteString(w, `{"code":0,"data":{"questionList":[
				{"id":"q1","questionTitle":"顺序表的存储结构是连续的吗"},
				{"id":"q2","questionTitle":"链表支持随机访问吗"}
			]}}`)
		case "/StudentEvaluate/SaveEvaluateAnswer":
			var body struct {
				Questions []struct {
					QuestionID string `json:"QuestionID"`
				} `json:"questions"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if body.Questions[0].QuestionID == "q1" {
				io.WriteString(w, `{"code":9,"msg":"保存失败"}`)
				return
			}
			io.WriteString(w, `{"code":0}`)
		default:
			io.WriteString(w, `{"code":0}`)
		}
	}))

	ctx := context.Background()
	sess, err := d.BeginUnit(ctx, testUnit())
	require.NoError(t, err)

	o, err := sess.AnswerNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, driver.QuestionFailed, o)

	o, err = sess.AnswerNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, driver.QuestionSuccess, o)
}

func TestInterQuestionDelayApplied(t *testing.T) {
	d := newTestDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/studentevaluate/beginevaluate":
			io.WriteString(w, `{"code":0,"data":{"questionList":[
				{"id":"q1","questionTitle":"顺序表的存储结构是连续的吗"},
				{"id":"q2","questionTitle":"链表支持随机访问吗"}
			]}}`)
		default:
			io.WriteString(w, `{"code":0}`)
		}
	}))
	var slept []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return nil
	}

	ctx := context.Background()
	sess, err := d.BeginUnit(ctx, testUnit())
	require.NoError(t, err)
	for {
		if _, err := sess.AnswerNext(ctx); err == driver.ErrUnitDone {
			break
		}
	}

	// No delay before the first question, one before the second.
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, slept)
}
