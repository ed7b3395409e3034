package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
)

type recordingConn struct {
	subject string
	data    []byte
	err     error
}

func (c *recordingConn) Publish(subject string, data []byte) error {
	c.subject, c.data = subject, data
	return c.err
}

func TestPublishExecution(t *testing.T) {
	conn := &recordingConn{}
	p := NewNATSPublisher(conn, "")

	ev := Event{
		RunID:  "run-1",
		UserID: "u1",
		Draft:  state.Draft{ID: "d-1", DraftType: "task"},
		Result: state.ExecutionResult{DraftID: "d-1", Status: state.ExecutionExecuted},
	}
	require.NoError(t, p.PublishExecution(context.Background(), ev))

	assert.Equal(t, "pulse.execution.u1", conn.subject)
	var got Event
	require.NoError(t, json.Unmarshal(conn.data, &got))
	assert.Equal(t, "d-1", got.Draft.ID)
	assert.Equal(t, state.ExecutionExecuted, got.Result.Status)
	assert.False(t, got.Published.IsZero())
}

func TestPublishExecutionErrors(t *testing.T) {
	conn := &recordingConn{err: errors.New("nats: connection closed")}
	p := NewNATSPublisher(conn, "custom")
	err := p.PublishExecution(context.Background(), Event{UserID: "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom.u1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok := &recordingConn{}
	err = NewNATSPublisher(ok, "").PublishExecution(ctx, Event{UserID: "u1"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ok.subject, "nothing should be sent after cancellation")
}

func TestSubjectSanitizesUserID(t *testing.T) {
	p := NewNATSPublisher(&recordingConn{}, "")
	tests := map[string]string{
		"alice":         "pulse.execution.alice",
		"a.b":           "pulse.execution.a_b",
		"user *>":       "pulse.execution.user___",
		"":              "pulse.execution._",
		"org:team/user": "pulse.execution.org:team/user",
	}
	for in, want := range tests {
		assert.Equal(t, want, p.Subject(in), "user %q", in)
	}
}

func TestConnectRequiresURL(t *testing.T) {
	_, err := Connect("", "pulse")
	require.Error(t, err)
}
