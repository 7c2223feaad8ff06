package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub, clientInstanceID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, clientInstanceID)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitForConnection(t *testing.T, hub *Hub, clientInstanceID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount(clientInstanceID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubDeliversEventToClient(t *testing.T) {
	hub := NewHub(nil)
	ws := dialHub(t, hub, "client-1")
	waitForConnection(t, hub, "client-1")

	sent := Event{
		Type:             EventLicenseIssued,
		ClientInstanceID: "client-1",
		LicenseKey:       "POS-ABCD-EFGH-JKMN-PQRS",
		Message:          "a license has been issued for this installation",
		At:               time.Now().UTC(),
	}
	hub.Notify(context.Background(), sent)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	_, payload, err := ws.ReadMessage()
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, sent.Type, got.Type)
	assert.Equal(t, sent.ClientInstanceID, got.ClientInstanceID)
	assert.Equal(t, sent.LicenseKey, got.LicenseKey)
}

func TestHubAddressesSingleClientInstance(t *testing.T) {
	hub := NewHub(nil)
	wsOther := dialHub(t, hub, "client-other")
	waitForConnection(t, hub, "client-other")

	// An event for a different client instance never reaches this one.
	hub.Notify(context.Background(), Event{
		Type:             EventStatusChanged,
		ClientInstanceID: "client-target",
	})

	wsOther.SetReadDeadline(time.Now().Add(200 * time.Millisecond)) //nolint:errcheck
	_, _, err := wsOther.ReadMessage()
	assert.Error(t, err, "no frame expected for an unrelated client")
}

func TestHubNotifyWithoutConnections(t *testing.T) {
	hub := NewHub(nil)
	// Fire-and-forget: no connections, no panic, no block.
	hub.Notify(context.Background(), Event{
		Type:             EventLicenseRevoked,
		ClientInstanceID: "nobody-home",
	})
	assert.Zero(t, hub.ConnectionCount("nobody-home"))
}

func TestHubNotifyDuringDisconnect(t *testing.T) {
	// Notify racing a disconnect must never send on the closed channel;
	// the event is simply dropped for the departed connection.
	hub := NewHub(nil)
	ctx := context.Background()
	ev := Event{Type: EventStatusChanged, ClientInstanceID: "client-1"}

	for i := 0; i < 500; i++ {
		c := &conn{send: make(chan []byte, 1)}
		hub.conns["client-1"] = map[*conn]struct{}{c: {}}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.Notify(ctx, ev)
		}()
		go func() {
			defer wg.Done()
			hub.remove(c, "client-1")
		}()
		wg.Wait()
	}
	assert.Zero(t, hub.ConnectionCount("client-1"))
}

func TestHubRemovesClosedConnections(t *testing.T) {
	hub := NewHub(nil)
	ws := dialHub(t, hub, "client-1")
	waitForConnection(t, hub, "client-1")

	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount("client-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed connection never removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
