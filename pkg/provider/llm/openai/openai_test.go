package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role    string
		check   func(t *testing.T, role string)
		wantErr bool
	}{
		{role: llm.RoleSystem},
		{role: llm.RoleUser},
		{role: llm.RoleAssistant},
		{role: "tool", wantErr: true},
	}
	for _, tc := range tests {
		msg, err := convertMessage(llm.Message{Role: tc.role, Content: "x"})
		if (err != nil) != tc.wantErr {
			t.Errorf("convertMessage(%q) err = %v, wantErr %v", tc.role, err, tc.wantErr)
			continue
		}
		if tc.wantErr {
			continue
		}
		var set bool
		switch tc.role {
		case llm.RoleSystem:
			set = msg.OfSystem != nil
		case llm.RoleUser:
			set = msg.OfUser != nil
		case llm.RoleAssistant:
			set = msg.OfAssistant != nil
		}
		if !set {
			t.Errorf("convertMessage(%q): matching union member not set", tc.role)
		}
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o-mini"}
	if _, err := p.buildParams(llm.CompletionRequest{}); err == nil {
		t.Error("buildParams with no messages: want error")
	}

	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Stay in character.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Temperature:  0.7,
		MaxTokens:    80,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 || params.Messages[0].OfSystem == nil {
		t.Errorf("messages = %d with system first = %v, want 2 with system first",
			len(params.Messages), len(params.Messages) > 0 && params.Messages[0].OfSystem != nil)
	}
	if got := params.MaxCompletionTokens.Value; got != 80 {
		t.Errorf("MaxCompletionTokens = %d, want 80", got)
	}
	if got := params.Temperature.Value; got != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", got)
	}
}

// sseServer streams the given deltas as chat completion chunks.
func sseServer(t *testing.T, deltas []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %q, want .../chat/completions", r.URL.Path)
		}
		var body struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !body.Stream {
			t.Error("request did not ask for a stream")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		write := func(content string, finish any) {
			chunk := map[string]any{
				"id": "chatcmpl-1", "object": "chat.completion.chunk", "created": 1, "model": "gpt-4o-mini",
				"choices": []map[string]any{{
					"index": 0, "delta": map[string]any{"content": content}, "finish_reason": finish,
				}},
			}
			b, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		for _, d := range deltas {
			write(d, nil)
		}
		write("", "stop")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamCompletion(t *testing.T) {
	t.Parallel()

	srv := sseServer(t, []string{"Well, ", "hello there. ", "What brings you?"})
	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	var got []llm.Chunk
	for c := range ch {
		got = append(got, c)
	}
	want := []llm.Chunk{
		{Text: "Well, "},
		{Text: "hello there. "},
		{Text: "What brings you?"},
		{FinishReason: "stop"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("New with empty key: want error")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("New with empty model: want error")
	}
}
