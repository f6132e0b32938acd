package websocket

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

type client struct {
	// instanceFilter binds the subscriber to a single instance hash.
	// Empty means "all instances".
	instanceFilter string
}

// EventEnvelope is the frame the gateway pushes to its own subscribers.
type EventEnvelope struct {
	Type        string          `json:"type"`
	PhoneNumber string          `json:"phoneNumber,omitempty"`
	Port        int             `json:"port,omitempty"`
	Message     json.RawMessage `json:"message,omitempty"`
	Code        int             `json:"code,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Timestamp   string          `json:"timestamp"`
}

// subscribeRequest is what connected clients send to narrow their feed.
type subscribeRequest struct {
	Type       string `json:"type"`
	InstanceID string `json:"instanceId"`
}

type broadcastItem struct {
	instanceHash string
	payload      []byte
}

type subscription struct {
	conn       *websocket.Conn
	instanceID string
}

var (
	Clients    = make(map[*websocket.Conn]*client)
	Register   = make(chan *websocket.Conn)
	Unregister = make(chan *websocket.Conn)
	Subscribe  = make(chan subscription)
	broadcast  = make(chan broadcastItem, 256)
)

// Publish fans env out to every subscriber bound to instanceHash (or to
// none in particular). Never blocks the caller: the hub channel is buffered
// and overflow drops the frame with a warning.
func Publish(instanceHash string, env EventEnvelope) {
	if env.Timestamp == "" {
		env.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		logrus.Errorf("[WS] Marshal error: %v", err)
		return
	}
	select {
	case broadcast <- broadcastItem{instanceHash: instanceHash, payload: payload}:
	default:
		logrus.Warnf("[WS] Hub backlog full, dropping %s frame for %s", env.Type, instanceHash)
	}
}

func handleRegister(conn *websocket.Conn) {
	Clients[conn] = &client{}
	logrus.Debug("[WS] Connection registered")
}

func handleUnregister(conn *websocket.Conn) {
	delete(Clients, conn)
	logrus.Debug("[WS] Connection unregistered")
}

func handleBroadcast(item broadcastItem) {
	for conn, cl := range Clients {
		if cl.instanceFilter != "" && cl.instanceFilter != item.instanceHash {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, item.payload); err != nil {
			logrus.Errorf("[WS] Write error: %v", err)
			closeConnection(conn)
		}
	}
}

func closeConnection(conn *websocket.Conn) {
	_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
	_ = conn.Close()
	delete(Clients, conn)
}

// RunHub is the single owner of the Clients map. Run it once as a goroutine.
func RunHub() {
	for {
		select {
		case conn := <-Register:
			handleRegister(conn)

		case conn := <-Unregister:
			handleUnregister(conn)

		case sub := <-Subscribe:
			if cl, ok := Clients[sub.conn]; ok {
				cl.instanceFilter = sub.instanceID
				logrus.Debugf("[WS] Subscriber bound to instance %s", sub.instanceID)
			}

		case item := <-broadcast:
			handleBroadcast(item)
		}
	}
}

func RegisterRoutes(app fiber.Router) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})

	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		defer func() {
			Unregister <- conn
			_ = conn.Close()
		}()

		Register <- conn

		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logrus.Debugf("[WS] Read error: %v", err)
				}
				return
			}

			if messageType != websocket.TextMessage {
				continue
			}

			var req subscribeRequest
			if err := json.Unmarshal(message, &req); err != nil {
				continue
			}
			if req.Type == "subscribe" {
				Subscribe <- subscription{conn: conn, instanceID: req.InstanceID}
			}
		}
	}))
}
