package supervisor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	gatewayws "github.com/hashfleet/wagateway/ui/websocket"
)

// Mirror is the outbound WebSocket client attached to one worker's event
// channel. Every text frame the worker emits is re-broadcast to the
// gateway's own subscribers, filtered by instance. There is no automatic
// reconnect: the supervisor opens a fresh mirror on the next spawn.
type Mirror struct {
	hash string
	port int
	conn *websocket.Conn

	closeOnce sync.Once
}

// DialMirror connects to ws://localhost:<port>/ws with the worker's Basic
// auth credentials and starts relaying frames.
func DialMirror(hash string, port int, user, pass string) (*Mirror, error) {
	header := http.Header{}
	cred := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	header.Set("Authorization", "Basic "+cred)

	url := fmt.Sprintf("ws://localhost:%d/ws", port)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	m := &Mirror{hash: hash, port: port, conn: conn}

	gatewayws.Publish(hash, gatewayws.EventEnvelope{
		Type:        "container-websocket-connected",
		PhoneNumber: hash,
		Port:        port,
	})
	logrus.Infof("[MIRROR] Connected to worker WS for %s on port %d", hash, port)

	go m.readLoop()
	return m, nil
}

func (m *Mirror) readLoop() {
	for {
		messageType, frame, err := m.conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			reason := err.Error()
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
				reason = ce.Text
			}
			gatewayws.Publish(m.hash, gatewayws.EventEnvelope{
				Type:        "container-websocket-closed",
				PhoneNumber: m.hash,
				Port:        m.port,
				Code:        code,
				Reason:      reason,
			})
			logrus.Debugf("[MIRROR] Worker WS closed for %s: %v", m.hash, err)
			m.Close()
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}
		if !json.Valid(frame) {
			logrus.Warnf("[MIRROR] Dropping non-JSON frame from worker %s", m.hash)
			continue
		}

		gatewayws.Publish(m.hash, gatewayws.EventEnvelope{
			Type:        "whatsapp-websocket-message",
			PhoneNumber: m.hash,
			Port:        m.port,
			Message:     json.RawMessage(frame),
		})
	}
}

// Close tears the connection down. Idempotent.
func (m *Mirror) Close() {
	m.closeOnce.Do(func() {
		_ = m.conn.Close()
	})
}
