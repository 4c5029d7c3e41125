package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aichemist/internal/license"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_ConnectionHandshake(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	t.Cleanup(hub.Stop)

	conn := dialHub(t, hub)
	msg := readMessage(t, conn)
	assert.Equal(t, TypeConnection, msg.Type)
}

func TestHub_BroadcastLicenseState(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	t.Cleanup(hub.Stop)

	conn := dialHub(t, hub)
	readMessage(t, conn) // connection handshake

	record := &license.Record{
		Payload: license.Payload{LicenseType: license.TypePro, MaxActivations: 3},
	}
	hub.BroadcastLicenseState(license.StateOnlineValid, record)

	msg := readMessage(t, conn)
	assert.Equal(t, TypeLicenseState, msg.Type)

	data, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	var payload LicenseStateData
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, string(license.StateOnlineValid), payload.State)
	assert.Equal(t, "Pro", payload.LicenseType)
	assert.True(t, payload.Usable)
}

func TestHub_ClientCountTracksConnections(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	t.Cleanup(hub.Stop)

	conn := dialHub(t, hub)
	readMessage(t, conn)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestHub_StopDisconnectsClients(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()

	conn := dialHub(t, hub)
	readMessage(t, conn)

	hub.Stop()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "the connection closes when the hub stops")
}
