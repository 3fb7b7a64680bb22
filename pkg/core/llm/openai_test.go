package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/echomind-ai/voiced/pkg/core/types"
)

func drainTokens(t *testing.T, s TokenStream) []string {
	t.Helper()
	var out []string
	for {
		tok, err := s.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		out = append(out, tok)
	}
}

func TestStreamYieldsContentDeltas(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n")
		fmt.Fprint(w, "not json at all\n")
		fmt.Fprint(w, "{\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	c := NewOpenAICompat(server.URL, "test-model", WithHTTPClient(server.Client()))
	stream, err := c.Stream(t.Context(), []types.Message{
		{Role: types.RoleSystem, Content: "be brief"},
		{Role: types.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	tokens := drainTokens(t, stream)
	if got := strings.Join(tokens, ""); got != "Hello world" {
		t.Fatalf("tokens = %q, want %q", got, "Hello world")
	}

	if gotBody["model"] != "test-model" {
		t.Fatalf("model = %v, want test-model", gotBody["model"])
	}
	if gotBody["stream"] != true {
		t.Fatalf("stream = %v, want true", gotBody["stream"])
	}
	msgs, ok := gotBody["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("messages = %#v, want 2 entries", gotBody["messages"])
	}
	first := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "be brief" {
		t.Fatalf("messages[0] = %#v", first)
	}
}

func TestStreamSurfacesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewOpenAICompat(server.URL, "test-model", WithHTTPClient(server.Client()))
	if _, err := c.Stream(t.Context(), []types.Message{{Role: types.RoleUser, Content: "hi"}}); err == nil {
		t.Fatalf("Stream() err = nil, want status error")
	} else if !strings.Contains(err.Error(), "500") {
		t.Fatalf("Stream() err = %v, want status 500 mention", err)
	}
}

func TestCompleteReturnsTrimmedContent(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"  All done. \n"}}]}`)
	}))
	defer server.Close()

	c := NewOpenAICompat(server.URL, "test-model",
		WithHTTPClient(server.Client()),
		WithTemperature(0.2),
		WithMaxTokens(64),
	)
	got, err := c.Complete(t.Context(), []types.Message{{Role: types.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "All done." {
		t.Fatalf("Complete() = %q, want %q", got, "All done.")
	}
	if gotBody["stream"] != false {
		t.Fatalf("stream = %v, want false", gotBody["stream"])
	}
	if gotBody["temperature"] != 0.2 {
		t.Fatalf("temperature = %v, want 0.2", gotBody["temperature"])
	}
	if gotBody["max_tokens"] != float64(64) {
		t.Fatalf("max_tokens = %v, want 64", gotBody["max_tokens"])
	}
}

func TestCompleteRejectsEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer server.Close()

	c := NewOpenAICompat(server.URL, "test-model", WithHTTPClient(server.Client()))
	if _, err := c.Complete(t.Context(), []types.Message{{Role: types.RoleUser, Content: "hi"}}); err == nil {
		t.Fatalf("Complete() err = nil, want no-choices error")
	}
}

func TestCompleteSendsBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer server.Close()

	c := NewOpenAICompat(server.URL, "test-model", WithHTTPClient(server.Client()), WithAPIKey("sk-test"))
	if _, err := c.Complete(t.Context(), []types.Message{{Role: types.RoleUser, Content: "hi"}}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("Authorization = %q, want Bearer sk-test", gotAuth)
	}
}
