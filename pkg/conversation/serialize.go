package conversation

import (
	"encoding/json"
	"fmt"
	"time"
)

// SerializedCall is a ToolCallRequest in serialized form.
//
//nolint:govet // struct alignment not critical for serialization types.
type SerializedCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// SerializedTurn is a Turn in serialized form.
//
//nolint:govet // struct alignment not critical for serialization types.
type SerializedTurn struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []SerializedCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolName   string           `json:"tool_name,omitempty"`
	IsError    bool             `json:"is_error,omitempty"`
	Marker     string           `json:"marker,omitempty"`
	CreatedAt  string           `json:"created_at"` // RFC 3339, nanosecond precision
}

// SerializedLog is the full log state.
type SerializedLog struct {
	Turns   []SerializedTurn `json:"turns"`
	Archive []SerializedTurn `json:"archive,omitempty"`
}

// Serialize converts the log to JSON bytes.
func (l *Log) Serialize() ([]byte, error) {
	l.mu.RLock()
	sl := SerializedLog{
		Turns:   make([]SerializedTurn, len(l.turns)),
		Archive: make([]SerializedTurn, len(l.archive)),
	}
	for i := range l.turns {
		sl.Turns[i] = TurnToSerialized(&l.turns[i])
	}
	for i := range l.archive {
		sl.Archive[i] = TurnToSerialized(&l.archive[i])
	}
	l.mu.RUnlock()

	data, err := json.Marshal(sl)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return data, nil
}

// Deserialize rebuilds a log from Serialize output. Turns are replayed
// through Append so pairing is re-validated.
func Deserialize(data []byte) (*Log, error) {
	var sl SerializedLog
	if err := json.Unmarshal(data, &sl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	turns := make([]Turn, 0, len(sl.Turns))
	for i := range sl.Turns {
		t, err := SerializedToTurn(&sl.Turns[i])
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	l, err := Rebuild(turns)
	if err != nil {
		return nil, err
	}
	for i := range sl.Archive {
		t, err := SerializedToTurn(&sl.Archive[i])
		if err != nil {
			return nil, err
		}
		l.archive = append(l.archive, t)
	}
	return l, nil
}

// Rebuild replays turns into a new log, failing on the first pairing violation.
func Rebuild(turns []Turn) (*Log, error) {
	l := NewLog()
	for i := range turns {
		if err := l.Append(turns[i]); err != nil {
			return nil, fmt.Errorf("turn %d: %w", i, err)
		}
	}
	return l, nil
}

// TurnToSerialized converts a Turn to SerializedTurn.
func TurnToSerialized(t *Turn) SerializedTurn {
	st := SerializedTurn{
		Role:       string(t.Role),
		Content:    t.Content,
		ToolCallID: t.ToolCallID,
		ToolName:   t.ToolName,
		IsError:    t.Error,
		Marker:     string(t.Marker),
		CreatedAt:  t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(t.ToolCalls) > 0 {
		st.ToolCalls = make([]SerializedCall, len(t.ToolCalls))
		for i, c := range t.ToolCalls {
			st.ToolCalls[i] = SerializedCall{ID: c.ID, Name: c.Name, Parameters: c.Arguments}
		}
	}
	return st
}

// SerializedToTurn converts a SerializedTurn to Turn.
func SerializedToTurn(st *SerializedTurn) (Turn, error) {
	t := Turn{
		Role:       Role(st.Role),
		Content:    st.Content,
		ToolCallID: st.ToolCallID,
		ToolName:   st.ToolName,
		Error:      st.IsError,
		Marker:     Marker(st.Marker),
	}
	if st.CreatedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, st.CreatedAt)
		if err != nil {
			return Turn{}, fmt.Errorf("turn timestamp %q: %w", st.CreatedAt, err)
		}
		t.CreatedAt = ts
	}
	if len(st.ToolCalls) > 0 {
		t.ToolCalls = make([]ToolCallRequest, len(st.ToolCalls))
		for i, c := range st.ToolCalls {
			t.ToolCalls[i] = ToolCallRequest{ID: c.ID, Name: c.Name, Arguments: c.Parameters}
		}
	}
	return t, nil
}
