package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/fdclock/internal/models"
	"github.com/your-org/fdclock/internal/session"
	"github.com/your-org/fdclock/pkg/dto"
)

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		srv.Close()
	})

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	return hub, conn
}

func readEvent(t *testing.T, conn *websocket.Conn) dto.WSEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var evt dto.WSEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

func TestHub_StateChanged(t *testing.T) {
	hub, conn := startHub(t)

	hub.StateChanged(session.Snapshot{
		State:     session.StateTracking,
		Running:   true,
		Outcome:   session.OutcomeTracking,
		Samples:   2,
		Threshold: 0.42,
		At:        time.Now(),
	})

	evt := readEvent(t, conn)
	assert.Equal(t, TypeStateChanged, evt.Type)
	require.NotNil(t, evt.Session)
	assert.Equal(t, "tracking", evt.Session.State)
	assert.Equal(t, 2, evt.Session.Samples)
	assert.Nil(t, evt.Event)
}

func TestHub_AttendanceCommitted(t *testing.T) {
	hub, conn := startHub(t)

	ev := models.AttendanceEvent{
		ID:           uuid.New(),
		IdentityID:   uuid.New(),
		IdentityName: "Ada",
		Timestamp:    time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Kind:         models.EventKindEnter,
		Confidence:   0.9,
	}
	hub.AttendanceCommitted(context.Background(), ev)

	evt := readEvent(t, conn)
	assert.Equal(t, TypeAttendance, evt.Type)
	require.NotNil(t, evt.Event)
	assert.Equal(t, ev.ID, evt.Event.ID)
	assert.Equal(t, "enter", evt.Event.Kind)
	assert.Equal(t, "2026-03-01T08:00:00Z", evt.Event.Timestamp)
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub, conn := startHub(t)
	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_BroadcastWithoutRunDoesNotBlock(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.StateChanged(session.Snapshot{State: session.StateScanning})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked")
	}
}
