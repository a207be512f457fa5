package handlers_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jmylchreest/dubarr/internal/models"
	"github.com/jmylchreest/dubarr/internal/service/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTask(t *testing.T, serverURL, taskID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws/tasks/" + taskID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn
}

func TestPushChannel_DeliversProgressEvents(t *testing.T) {
	f := newFixture(t, `echo '{}'`)
	created := f.createTask(t, true)
	id := models.MustParseULID(created.ID)

	server := httptest.NewServer(f.router)
	defer server.Close()

	conn := dialTask(t, server.URL, created.ID)
	defer conn.Close()

	// Give the server loop a moment to register the subscriber.
	require.Eventually(t, func() bool {
		return f.registry.SubscriberCount(created.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.bus.Publish(context.Background(), id, "en", models.StageTranslation, models.StageProcessing, 25, "translating"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event progress.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, progress.EventTypeProgress, event.Type)
	assert.Equal(t, created.ID, event.TaskID)
	assert.Equal(t, 25, event.Progress)
	assert.Equal(t, models.StageProcessing, event.Status)
}

func TestPushChannel_UnknownTask(t *testing.T) {
	f := newFixture(t, `echo '{}'`)

	server := httptest.NewServer(f.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/tasks/" + models.NewULID().String()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}

func TestPushChannel_ClosedOnTaskDelete(t *testing.T) {
	f := newFixture(t, `echo '{}'`)
	created := f.createTask(t, true)

	server := httptest.NewServer(f.router)
	defer server.Close()

	conn := dialTask(t, server.URL, created.ID)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return f.registry.SubscriberCount(created.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.tasks.Delete(context.Background(), models.MustParseULID(created.ID)))
	f.registry.DropAll(created.ID)

	// The server closes the connection; the next read observes it.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var readErr error
	for readErr == nil {
		_, _, readErr = conn.ReadMessage()
	}
	assert.Error(t, readErr)
}

func TestPushChannel_ClientMessagesIgnored(t *testing.T) {
	f := newFixture(t, `echo '{}'`)
	created := f.createTask(t, true)
	id := models.MustParseULID(created.ID)

	server := httptest.NewServer(f.router)
	defer server.Close()

	conn := dialTask(t, server.URL, created.ID)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return f.registry.SubscriberCount(created.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Heartbeat text from the client must not disturb delivery.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, f.bus.Publish(context.Background(), id, "en", models.StageStitch, models.StageProcessing, 5, "tick"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event progress.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, models.StageStitch, event.Stage)
}
