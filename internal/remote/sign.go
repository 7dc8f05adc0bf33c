package remote

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Every assessment-service call carries a sign field: a keyed hash over the
// canonical, *pre-encoding* parameter string. The canonical string uses
// lowercase field names and compact JSON even though the request body sends
// the same pairs with the service's uppercase names.

// Sign computes the hex HMAC-SHA256 of the canonical parameter string.
func Sign(key, params string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(params))
	return hex.EncodeToString(mac.Sum(nil))
}

type signedAnswer struct {
	QuestionID string `json:"questionid"`
	AnswerID   string `json:"answerid"`
}

// beginParams is the canonical string for starting an attempt.
func beginParams(unitID string) string {
	return "kpid=" + unitID
}

// saveParams is the canonical string for saving one answer. The JSON must be
// compact and unescaped; the HTML-safe escaping json.Marshal applies by
// default would change the signed bytes.
func saveParams(unitID, questionID, answerID string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]signedAnswer{{QuestionID: questionID, AnswerID: answerID}}); err != nil {
		return "", fmt.Errorf("encode sign payload: %w", err)
	}
	questions := bytes.TrimRight(buf.Bytes(), "\n")
	return "kpid=" + unitID + "&questions=" + string(questions), nil
}

// finalizeParams is the canonical string for finalizing an attempt.
func finalizeParams(unitID string) string {
	return "kpid=" + unitID + "&questions=[]"
}
