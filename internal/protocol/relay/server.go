package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/AquaToken/dao-aquarius-sub003/internal/logging"
	"github.com/AquaToken/dao-aquarius-sub003/internal/protocol/jsonrpc"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server exposes a Hub over the relay websocket wire.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	ids      *jsonrpc.IDs
	logger   zerolog.Logger
}

func NewServer(hub *Hub) *Server {
	if hub == nil {
		hub = NewHub()
	}
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ids:    jsonrpc.NewIDs(),
		logger: logging.Component("relay.server"),
	}
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	sc := &serverConn{
		srv:    s,
		conn:   conn,
		peer:   s.hub.Connect(),
		subIDs: make(map[string]string),
	}
	s.logger.Debug().Str("peer", sc.peer.peer.id).Str("remote", r.RemoteAddr).Msg("peer connected")
	go sc.pump()
	sc.readLoop()
}

type serverConn struct {
	srv     *Server
	conn    *websocket.Conn
	peer    *MemoryTransport
	writeMu sync.Mutex
	subMu   sync.Mutex
	subIDs  map[string]string
}

func (c *serverConn) readLoop() {
	defer func() {
		_ = c.peer.Close()
		_ = c.conn.Close()
		c.srv.logger.Debug().Str("peer", c.peer.peer.id).Msg("peer disconnected")
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := jsonrpc.Decode(data)
		if err != nil {
			c.srv.logger.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		if !msg.IsRequest() {
			continue
		}
		c.handle(msg)
	}
}

func (c *serverConn) handle(msg jsonrpc.Message) {
	switch msg.Method {
	case methodPublish:
		var p publishParams
		if err := json.Unmarshal(msg.Params, &p); err != nil || p.Topic == "" {
			c.write(jsonrpc.NewError(msg.ID, -32602, "invalid publish params"))
			return
		}
		c.srv.hub.publish(c.peer.peer, p.Topic, p.Message)
		c.reply(msg.ID, true)
	case methodSubscribe:
		var p subscribeParams
		if err := json.Unmarshal(msg.Params, &p); err != nil || p.Topic == "" {
			c.write(jsonrpc.NewError(msg.ID, -32602, "invalid subscribe params"))
			return
		}
		id := c.srv.hub.subscribe(c.peer.peer, p.Topic)
		c.subMu.Lock()
		c.subIDs[p.Topic] = id
		c.subMu.Unlock()
		c.reply(msg.ID, id)
	case methodUnsubscribe:
		var p unsubscribeParams
		if err := json.Unmarshal(msg.Params, &p); err != nil || p.Topic == "" {
			c.write(jsonrpc.NewError(msg.ID, -32602, "invalid unsubscribe params"))
			return
		}
		c.srv.hub.unsubscribe(c.peer.peer, p.Topic)
		c.subMu.Lock()
		delete(c.subIDs, p.Topic)
		c.subMu.Unlock()
		c.reply(msg.ID, true)
	default:
		c.write(jsonrpc.NewError(msg.ID, -32601, "method not found"))
	}
}

// pump forwards hub deliveries to the socket as irn_subscription requests.
func (c *serverConn) pump() {
	for m := range c.peer.Messages() {
		c.subMu.Lock()
		id := c.subIDs[m.Topic]
		c.subMu.Unlock()
		req, err := jsonrpc.NewRequest(c.srv.ids.Next(), methodSubscription, subscriptionParams{
			ID:   id,
			Data: subscriptionData{Topic: m.Topic, Message: m.Payload},
		})
		if err != nil {
			continue
		}
		if err := c.write(req); err != nil {
			return
		}
	}
}

func (c *serverConn) reply(id uint64, result any) {
	msg, err := jsonrpc.NewResult(id, result)
	if err != nil {
		return
	}
	_ = c.write(msg)
}

func (c *serverConn) write(msg jsonrpc.Message) error {
	data, err := jsonrpc.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
