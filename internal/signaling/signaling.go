// Package signaling carries every client-bound and client-originated
// message from spec.md §6 over a single gorilla/websocket connection per
// client.
package signaling

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Envelope is the wire shape for every message in both directions: a type
// tag plus a freeform payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client wraps one client's websocket connection and implements
// view.Sink, serializing every client-bound message from spec.md §6.
type Client struct {
	log  *logrus.Entry
	conn *websocket.Conn

	writeMu sync.Mutex

	// Handlers for client-originated events; set by the caller after
	// construction and before Serve.
	OnFrameRequest     func(layerID string)
	OnMouseMove        func(payload json.RawMessage)
	OnMouseClick       func(payload json.RawMessage)
	OnViewportChange   func(payload json.RawMessage)
	OnSizeChanged      func(payload json.RawMessage)
	OnComponentReady   func()
	OnWebRTCAnswer     func(payload json.RawMessage)
}

// Upgrade accepts an inbound HTTP connection as a websocket client.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Client{log: logrus.WithField("component", "signaling"), conn: conn}, nil
}

// Serve reads client-originated events until the connection closes,
// dispatching to the registered handlers. Unknown message types and
// messages that are not a valid Envelope are logged at debug level and
// ignored; a frame-request whose payload does not parse is dropped without
// calling the handler (spec.md §7: unknown layer/
// event references are silently ignored; here that policy extends to
// unknown message types).
func (c *Client) Serve() {
	defer c.conn.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.WithError(err).Debug("malformed inbound message, ignoring")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	switch env.Type {
	case "frame-request":
		var p struct {
			LayerID string `json:"layer_id"`
		}
		if err := json.Unmarshal(env.Payload, &p); err == nil && c.OnFrameRequest != nil {
			c.OnFrameRequest(p.LayerID)
		}
	case "mouse-move":
		if c.OnMouseMove != nil {
			c.OnMouseMove(env.Payload)
		}
	case "mouse-click":
		if c.OnMouseClick != nil {
			c.OnMouseClick(env.Payload)
		}
	case "viewport-change":
		if c.OnViewportChange != nil {
			c.OnViewportChange(env.Payload)
		}
	case "size-changed":
		if c.OnSizeChanged != nil {
			c.OnSizeChanged(env.Payload)
		}
	case "component-ready":
		if c.OnComponentReady != nil {
			c.OnComponentReady()
		}
	case "webrtc-answer":
		if c.OnWebRTCAnswer != nil {
			c.OnWebRTCAnswer(env.Payload)
		}
	default:
		c.log.WithField("type", env.Type).Debug("unknown inbound message type, ignoring")
	}
}

// send serializes payload into an Envelope of the given type and writes it,
// guarded by writeMu since gorilla/websocket connections are not safe for
// concurrent writers.
func (c *Client) send(msgType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.log.WithError(err).WithField("type", msgType).Error("failed to marshal outbound message")
		return
	}
	env := Envelope{Type: msgType, Payload: raw}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(env); err != nil {
		c.log.WithError(err).WithField("type", msgType).Debug("failed to write outbound message")
	}
}
