package remote

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"evalbot/internal/transport"
)

const testKey = "test-sign-key"

func refSign(params string) string {
	mac := hmac.New(sha256.New, []byte(testKey))
	mac.Write([]byte(params))
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestServerClient(t *testing.T, handler http.Handler) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(
		Config{BaseURL: srv.URL, Token: "tok", SignKey: testKey},
		transport.New(transport.Config{MaxRetries: 1}, zap.NewNop()),
		zap.NewNop(),
	)
	return srv, c
}

func TestSignCanonicalStrings(t *testing.T) {
	assert.Equal(t, "kpid=k1", beginParams("k1"))
	assert.Equal(t, "kpid=k1&questions=[]", finalizeParams("k1"))

	got, err := saveParams("k1", "q1", "a1,a2")
	require.NoError(t, err)
	// Lowercase field names, compact JSON, no HTML-safe escaping.
	assert.Equal(t, `kpid=k1&questions=[{"questionid":"q1","answerid":"a1,a2"}]`, got)

	// The signature is over the pre-encoding string.
	assert.Equal(t, refSign("kpid=k1"), Sign(testKey, beginParams("k1")))
}

func TestSaveParamsNotHTMLEscaped(t *testing.T) {
	got, err := saveParams("k<1>", "q&1", "a1")
	require.NoError(t, err)
	assert.Contains(t, got, `"questionid":"q&1"`)
	assert.Contains(t, got, "kpid=k<1>")
}

func TestBeginAttempt(t *testing.T) {
	_, c := newTestServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/studentevaluate/beginevaluate", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "k1", r.URL.Query().Get("kpid"))
		assert.Equal(t, refSign("kpid=k1"), r.URL.Query().Get("sign"))

		io.WriteString(w, `{"code":0,"data":{"questionList":[
			{"id":"q1","questionTitle":"第一题"},
			{"id":"q2","questionTitle":"第二题"}
		]}}`)
	}))

	a, err := c.BeginAttempt(context.Background(), "k1")
	require.NoError(t, err)
	require.Len(t, a.Questions, 2)
	assert.Equal(t, "q1", a.Questions[0].ID)
	assert.Equal(t, "第二题", a.Questions[1].Title)
}

func TestBeginAttemptExhausted(t *testing.T) {
	_, c := newTestServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":1,"msg":"该知识点已经评估过3次"}`)
	}))

	_, err := c.BeginAttempt(context.Background(), "k1")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestSaveAnswerBodyAndSignatureDiffer(t *testing.T) {
	var body struct {
		Kpid      string `json:"kpid"`
		Questions []struct {
			QuestionID string `json:"QuestionID"`
			AnswerID   string `json:"AnswerID"`
		} `json:"questions"`
		Sign string `json:"sign"`
	}
	_, c := newTestServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		io.WriteString(w, `{"code":0}`)
	}))

	require.NoError(t, c.SaveAnswer(context.Background(), "k1", "q1", []string{"a1", "a2"}))

	// Body carries the uppercase field names and the comma-joined answer.
	require.Len(t, body.Questions, 1)
	assert.Equal(t, "q1", body.Questions[0].QuestionID)
	assert.Equal(t, "a1,a2", body.Questions[0].AnswerID)
	// The sign was computed over the lowercase canonical string.
	want, err := saveParams("k1", "q1", "a1,a2")
	require.NoError(t, err)
	assert.Equal(t, refSign(want), body.Sign)
}

func TestFinalize(t *testing.T) {
	var sign string
	_, c := newTestServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		sign, _ = body["sign"].(string)
		io.WriteString(w, `{"success":true}`)
	}))

	require.NoError(t, c.Finalize(context.Background(), "k1"))
	assert.Equal(t, refSign("kpid=k1&questions=[]"), sign)
}

func TestCourseStatus(t *testing.T) {
	_, c := newTestServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "c9", r.URL.Query().Get("CourseID"))
		io.WriteString(w, `{"success":true,"data":[
			{"id":"k1","testMemberInfo":{"isPass":true,"times":1}},
			{"id":"k2","testMemberInfo":{"isPass":false,"times":3}},
			{"id":"k3","testMemberInfo":{"isPass":false,"times":0}}
		]}`)
	}))

	status, err := c.CourseStatus(context.Background(), "c9")
	require.NoError(t, err)
	assert.Equal(t, UnitStatus{IsPass: true, Attempts: 1}, status["k1"])
	assert.Equal(t, UnitStatus{IsPass: false, Attempts: 3}, status["k2"])
	assert.Equal(t, UnitStatus{IsPass: false, Attempts: 0}, status["k3"])
}

func TestOutstandingChapters(t *testing.T) {
	_, c := newTestServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":true,"data":[
			{"title":"第一章","knowledgeList":[{"id":"k1","knowledge":"线性表"}]},
			{"title":"第二章","knowledgeList":[{"id":"k2","knowledge":"栈"},{"id":"k3","knowledge":"队列"}]}
		]}`)
	}))

	chapters, err := c.OutstandingChapters(context.Background(), "c9")
	require.NoError(t, err)

	want := []ChapterSummary{
		{Title: "第一章", Units: []UnitSummary{{ID: "k1", Name: "线性表"}}},
		{Title: "第二章", Units: []UnitSummary{{ID: "k2", Name: "栈"}, {ID: "k3", Name: "队列"}}},
	}
	if diff := cmp.Diff(want, chapters); diff != "" {
		t.Errorf("chapter list mismatch (-want +got):\n%s", diff)
	}
}

func TestServiceErrorSurfacesMessage(t *testing.T) {
	_, c := newTestServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":5,"msg":"参数无效"}`)
	}))

	err := c.Finalize(context.Background(), "k1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Contains(t, err.Error(), "参数无效")
}
