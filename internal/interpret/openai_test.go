package interpret_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"statusline/internal/interpret"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1760000000,
  "model": "gpt-test",
  "choices": [{
    "index": 0,
    "finish_reason": "stop",
    "logprobs": null,
    "message": {"role": "assistant", "content": "{\"task_id\":\"t1\",\"confidence\":0.8}", "refusal": null}
  }],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func TestOpenAIScorer(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization: %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody)
	}))
	defer srv.Close()

	s := interpret.NewOpenAIScorer(interpret.OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1/",
		Model:   "gpt-test",
		Timeout: 5 * time.Second,
	})
	raw, err := s.Score(context.Background(), interpret.ScoreRequest{Prompt: "parse this"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if string(raw) != `{"task_id":"t1","confidence":0.8}` {
		t.Fatalf("content: %s", raw)
	}
	if body["model"] != "gpt-test" {
		t.Fatalf("model: %v", body["model"])
	}
	format, _ := body["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Fatalf("response_format: %v", body["response_format"])
	}
	if !strings.Contains(mustJSON(t, body["messages"]), "parse this") {
		t.Fatalf("messages: %v", body["messages"])
	}
}

func TestOpenAIScorerDoesNotRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	s := interpret.NewOpenAIScorer(interpret.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	if _, err := s.Score(context.Background(), interpret.ScoreRequest{Prompt: "x"}); err == nil {
		t.Fatalf("expected error")
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", hits.Load())
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
