package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rework/pkg/llm"
	"rework/pkg/tools"
)

func TestStreamAgainstServer(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"model":"qwen","message":{"role":"assistant","content":"hel"},"done":false}`)
		fmt.Fprintln(w, `{"model":"qwen","message":{"role":"assistant","content":"lo","tool_calls":[{"function":{"name":"done","arguments":{"summary":"ok"}}}]},"done":false}`)
		fmt.Fprintln(w, `{"model":"qwen","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "qwen")
	events, err := c.Stream(context.Background(), llm.Request{
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Tools:      []tools.ToolDefinition{{Name: "done"}, {Name: "search"}},
		ToolChoice: "done",
	})
	require.NoError(t, err)
	resp, err := llm.Collect(context.Background(), events, nil)
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "ok", resp.ToolCalls[0].Parameters["summary"])

	sent, ok := got["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, sent, 1)
}

func TestConvertMessagesKeepsToolPairing(t *testing.T) {
	msgs, err := convertMessages([]llm.Message{
		{Role: llm.RoleUser, Content: "go"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "read_file", Parameters: map[string]any{"path": "a"}}}},
		{Role: llm.RoleTool, ToolCallID: "c1", Content: "body"},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "c1", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, "c1", msgs[2].ToolCallID)

	_, err = convertMessages(nil)
	assert.Error(t, err)
}
