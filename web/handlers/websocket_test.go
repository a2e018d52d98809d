package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/contactcard/internal/events"
	"github.com/scrypster/contactcard/web/handlers"
)

func upgradeRequest(origin string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	return req
}

func TestWebSocketHub_ValidatesOrigin(t *testing.T) {
	hub := handlers.NewWebSocketHub([]string{"localhost:6464"}, zerolog.Nop())
	defer hub.Stop()

	w := httptest.NewRecorder()
	hub.ServeHTTP(w, upgradeRequest("http://evil.com"))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Forbidden")
}

func waitFor(t *testing.T, ch <-chan []byte) string {
	t.Helper()
	select {
	case msg := <-ch:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return ""
	}
}

func TestWebSocketHub_Publish(t *testing.T) {
	hub := handlers.NewWebSocketHub(nil, zerolog.Nop())
	go hub.Run()
	defer hub.Stop()

	received := make(chan []byte, 1)
	hub.Register(&handlers.MockClient{SendChan: received})

	hub.Publish(events.Event{Type: events.ReviewCreated, Subject: "rev-1"})

	msg := waitFor(t, received)
	assert.Contains(t, msg, `"type":"review.created"`)
	assert.Contains(t, msg, `"subject":"rev-1"`)
}

func TestWebSocketHub_ForwardsFromBus(t *testing.T) {
	bus := events.NewBus(8)
	defer bus.Close()
	sub, cancel := bus.Subscribe()
	defer cancel()

	hub := handlers.NewWebSocketHub(nil, zerolog.Nop())
	go hub.Run()
	go hub.Forward(sub)
	defer hub.Stop()

	received := make(chan []byte, 1)
	hub.Register(&handlers.MockClient{SendChan: received})

	bus.Publish(events.Event{Type: events.CreditsChanged, Data: 49})

	msg := waitFor(t, received)
	assert.Contains(t, msg, `"type":"credits.changed"`)
	assert.Contains(t, msg, `"data":49`)
}

func TestWebSocketHub_DropsSlowClient(t *testing.T) {
	hub := handlers.NewWebSocketHub(nil, zerolog.Nop())
	go hub.Run()
	defer hub.Stop()

	slow := make(chan []byte) // unbuffered, never read
	hub.Register(&handlers.MockClient{SendChan: slow})

	hub.Publish(events.Event{Type: events.PeopleChanged})

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-slow:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
