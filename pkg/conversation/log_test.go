package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rework/pkg/utils"
)

func call(id, name string) ToolCallRequest {
	return ToolCallRequest{ID: id, Name: name, Arguments: map[string]any{"path": "a.go"}}
}

func TestPairingInvariant(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Append(User("fix it")))

	stray := ToolResult(call("nope", "read_file"), "x", false)
	assert.ErrorIs(t, l.Append(stray), ErrUnpairedToolTurn)

	c1, c2 := call("c1", "read_file"), call("c2", "search")
	require.NoError(t, l.Append(Assistant("", c1, c2)))
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids(l.Pending()))

	assert.ErrorIs(t, l.Append(User("interrupt")), ErrPendingToolCalls)

	require.NoError(t, l.Append(ToolResult(c2, "ok", false)))
	assert.ErrorIs(t, l.Append(ToolResult(c2, "again", false)), ErrUnpairedToolTurn)
	require.NoError(t, l.Append(ToolResult(c1, "ok", false)))
	assert.Empty(t, l.Pending())

	assert.ErrorIs(t, l.Append(Assistant("", c1)), ErrDuplicateCallID)
	assert.ErrorIs(t, l.Append(Turn{Role: "robot"}), ErrInvalidTurn)
	assert.ErrorIs(t, l.Append(Turn{Role: RoleUser, ToolCalls: []ToolCallRequest{call("u", "x")}}), ErrInvalidTurn)
	assert.Equal(t, 4, l.Len())
}

func ids(calls []ToolCallRequest) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.ID)
	}
	return out
}

func TestTurnsAreCopies(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Append(Assistant("", call("c1", "read_file"))))

	turns := l.Turns()
	turns[0].Content = "mutated"
	turns[0].ToolCalls[0].Arguments["path"] = "evil.go"

	last, ok := l.Last()
	require.True(t, ok)
	assert.Empty(t, last.Content)
	assert.Equal(t, "a.go", last.ToolCalls[0].Arguments["path"])
	assert.False(t, last.CreatedAt.IsZero())
}

func TestSerializeRoundTrip(t *testing.T) {
	l := NewLog()
	c := call("c1", "apply_block")
	require.NoError(t, l.Append(User("rename")))
	require.NoError(t, l.Append(Assistant("on it", c)))
	require.NoError(t, l.Append(ToolResult(c, `{"success":false}`, true)))
	require.NoError(t, l.Append(Turn{Role: RoleAssistant, Content: "cancelled", Marker: MarkerCancelled}))

	data, err := l.Serialize()
	require.NoError(t, err)
	back, err := Deserialize(data)
	require.NoError(t, err)

	assert.Equal(t, l.Turns(), back.Turns())
}

func TestDeserializeRejectsBrokenPairing(t *testing.T) {
	_, err := Deserialize([]byte(`{"turns":[{"role":"tool","content":"x","tool_call_id":"c9","created_at":"2026-01-02T03:04:05Z"}]}`))
	assert.True(t, errors.Is(err, ErrUnpairedToolTurn))
}

func TestCompact(t *testing.T) {
	counter, err := utils.NewTokenCounter("gpt-4")
	require.NoError(t, err)

	l := NewLog()
	long := strings.Repeat("context ", 200)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Append(User(long)))
		require.NoError(t, l.Append(Assistant(long)))
	}
	require.NoError(t, l.Append(User("latest question")))

	var summarized int
	s := SummarizerFunc(func(_ context.Context, turns []Turn) (string, error) {
		summarized = len(turns)
		return "they discussed context", nil
	})

	compacted, err := l.Compact(context.Background(), s, counter, 1<<20)
	require.NoError(t, err)
	assert.False(t, compacted)

	compacted, err = l.Compact(context.Background(), s, counter, 500)
	require.NoError(t, err)
	require.True(t, compacted)

	turns := l.Turns()
	assert.Equal(t, MarkerSummary, turns[0].Marker)
	assert.Contains(t, turns[0].Content, "they discussed context")
	last, _ := l.Last()
	assert.Equal(t, "latest question", last.Content)
	assert.Len(t, l.Archived(), summarized)
	assert.Equal(t, 7, len(l.Archived())+len(turns)-1)
	assert.Less(t, l.Tokens(counter), 500)
}

func TestCompactSkipsWhilePending(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Append(User(strings.Repeat("x ", 500))))
	require.NoError(t, l.Append(Assistant("")))
	require.NoError(t, l.Append(User("next")))
	require.NoError(t, l.Append(Assistant("", call("c1", "done"))))

	compacted, err := l.Compact(context.Background(), SummarizerFunc(func(context.Context, []Turn) (string, error) {
		return "", errors.New("must not be called")
	}), nil, 10)
	require.NoError(t, err)
	assert.False(t, compacted)
}
