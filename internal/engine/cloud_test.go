package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCloudEngine_ChatWithSchema(t *testing.T) {
	var got struct {
		Model          string `json:"model"`
		Messages       []Message
		ResponseFormat *struct {
			Type string `json:"type"`
		} `json:"response_format"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"  {\"act\":true}\n"}}]}`)
	}))
	defer srv.Close()

	e := NewCloudEngine(ProviderXAI, "xai-1", srv.URL)
	out, err := e.Chat(context.Background(), "grok-2", []Message{{Role: "user", Content: "hi"}}, &Schema{
		Type:       "object",
		Properties: map[string]SchemaProperty{"act": {Type: "boolean"}},
		Required:   []string{"act"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != `{"act":true}` {
		t.Errorf("out = %q", out)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %+v, want json_object", got.ResponseFormat)
	}
	last := got.Messages[len(got.Messages)-1]
	if last.Role != "system" || !strings.Contains(last.Content, `"act"`) {
		t.Errorf("schema instruction missing: %+v", last)
	}
}

func TestCloudEngine_IsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"object":"list","data":[]}`)
	}))
	defer srv.Close()

	e := NewCloudEngine(ProviderOpenAI, "sk-1", srv.URL)
	if !e.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
}
