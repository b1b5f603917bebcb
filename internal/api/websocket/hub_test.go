package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenLockIn/internal/auth"
	"github.com/KevinKickass/OpenLockIn/internal/config"
	"github.com/KevinKickass/OpenLockIn/internal/device"
	"github.com/KevinKickass/OpenLockIn/internal/types"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticStatus struct{}

func (staticStatus) GetStatus() any {
	return map[string]string{"state": "RUNNING"}
}

type received struct {
	Type   MessageType     `json:"type"`
	Device string          `json:"device"`
	Data   json.RawMessage `json:"data"`
}

func startHub(t *testing.T, authService *auth.AuthService) (*Hub, string) {
	t.Helper()
	hub := NewHub(zap.NewNop(), authService)
	hub.SetStatusProvider(staticStatus{})
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *gorilla.Conn {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func next(t *testing.T, conn *gorilla.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_BroadcastsDeviceEvents(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url)

	msg := next(t, conn)
	assert.Equal(t, MessageTypeSystemStatus, msg.Type)
	assert.JSONEq(t, `{"state":"RUNNING"}`, string(msg.Data))
	assert.Equal(t, 1, hub.GetClientCount())

	hub.PublishValue(types.AttributeValue{Device: "lab/lockin/1", Attribute: "X", Value: 0.5, Timestamp: 1})
	msg = next(t, conn)
	assert.Equal(t, MessageTypeAttributeValue, msg.Type)
	assert.Equal(t, "lab/lockin/1", msg.Device)
	assert.JSONEq(t, `{"device":"lab/lockin/1","attribute":"X","value":0.5,"timestamp":1}`, string(msg.Data))

	hub.PublishState("lab/lockin/1", device.StateOff, device.StateOn)
	msg = next(t, conn)
	assert.Equal(t, MessageTypeDeviceState, msg.Type)
	assert.JSONEq(t, `{"state":"OFF","previous_state":"ON"}`, string(msg.Data))

	hub.PublishError("lab/lockin/1", "phase", errors.New("timeout"))
	msg = next(t, conn)
	assert.Equal(t, MessageTypeAttributeError, msg.Type)
	assert.JSONEq(t, `{"attribute":"phase","error":"timeout"}`, string(msg.Data))

	hub.PublishSystemStatus(map[string]int{"device_count": 1})
	msg = next(t, conn)
	assert.Equal(t, MessageTypeSystemStatus, msg.Type)
}

func TestHub_Subscription(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url)
	next(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "subscribe",
		"devices": []string{"LAB/LOCKIN/2"},
	}))

	assert.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if !c.wants("lab/lockin/1") {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	hub.PublishValue(types.AttributeValue{Device: "lab/lockin/1", Attribute: "X"})
	hub.PublishValue(types.AttributeValue{Device: "lab/lockin/2", Attribute: "Y"})

	msg := next(t, conn)
	assert.Equal(t, "lab/lockin/2", msg.Device)
}

func newAuthService(t *testing.T) *auth.AuthService {
	t.Helper()
	t.Setenv("OLI_WS_TEST_SECRET", "0123456789abcdef0123456789abcdef")
	svc, err := auth.NewAuthService(config.AuthConfig{
		Enabled:        true,
		JWTSecretEnv:   "OLI_WS_TEST_SECRET",
		AccessTokenTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestHub_AuthRequired(t *testing.T) {
	svc := newAuthService(t)
	hub, url := startHub(t, svc)

	t.Run("wrong first message", func(t *testing.T) {
		conn := dial(t, url)
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe"}))

		msg := next(t, conn)
		assert.Equal(t, MessageTypeAuthFailed, msg.Type)

		_, _, err := conn.ReadMessage()
		assert.Error(t, err)
	})

	t.Run("invalid token", func(t *testing.T) {
		conn := dial(t, url)
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "nope"}))

		msg := next(t, conn)
		assert.Equal(t, MessageTypeAuthFailed, msg.Type)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := svc.IssueToken("viewer", "operator")
		require.NoError(t, err)

		conn := dial(t, url)
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": token}))

		msg := next(t, conn)
		assert.Equal(t, MessageTypeAuthSuccess, msg.Type)
		assert.JSONEq(t, `["operator"]`, string(msg.Data))

		msg = next(t, conn)
		assert.Equal(t, MessageTypeSystemStatus, msg.Type)

		hub.PublishState("lab/lockin/1", device.StateOn, device.StateInit)
		msg = next(t, conn)
		assert.Equal(t, MessageTypeDeviceState, msg.Type)
	})
}

func TestHub_StopDisconnectsClients(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url)
	next(t, conn)

	hub.Stop()
	hub.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, time.Second, 5*time.Millisecond)
}
