package sse

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/maestro/pkg/models"
)

func TestAddRemoveClient(t *testing.T) {
	b := NewBroadcaster()
	assert.Zero(t, b.ClientCount())

	rec := httptest.NewRecorder()
	client, err := b.AddClient(rec)
	require.NoError(t, err)
	assert.Equal(t, 1, b.ClientCount())

	b.RemoveClient(client)
	assert.Zero(t, b.ClientCount())
}

func TestBroadcastDeliversEvent(t *testing.T) {
	b := NewBroadcaster()

	rec := httptest.NewRecorder()
	_, err := b.AddClient(rec)
	require.NoError(t, err)

	b.Broadcast(&models.TelemetryEvent{
		Type:      models.EventToolInvoked,
		ToolID:    "charter",
		SessionID: "sess-1",
		Success:   true,
	})

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "data: "))
	assert.Contains(t, body, `"tool_invoked"`)
	assert.Contains(t, body, `"charter"`)
	assert.True(t, strings.HasSuffix(body, "\n\n"))
}

func TestBroadcastWithoutClients(t *testing.T) {
	b := NewBroadcaster()
	assert.NotPanics(t, func() {
		b.Broadcast(map[string]string{"type": "noop"})
	})
}
