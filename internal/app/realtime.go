package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"slidesync/api/internal/mutation"
	"slidesync/api/internal/presence"
	"slidesync/api/internal/room"
	"slidesync/api/internal/session"
	"slidesync/api/internal/store"
	"slidesync/api/internal/util"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Whole-page saves carry every element of a page.
	maxMessageSize = 4 << 20
)

// Inbound event names.
const (
	EventJoinDocument    = "join-document"
	EventJoinedDocument  = "joined-document"
	EventRoleChanged     = "role-changed"
	EventPageChanged     = "page-changed"
	EventAck             = "ack"
	eventElementCreated  = mutation.EventElementCreated
	eventElementUpdated  = mutation.EventElementUpdated
	eventElementDeleted  = mutation.EventElementDeleted
	eventPageAdded       = mutation.EventPageAdded
	eventPageDeleted     = mutation.EventPageDeleted
	eventPagesReordered  = mutation.EventPagesReordered
	eventPageDuplicated  = mutation.EventPageDuplicated
	eventDocumentUpdated = mutation.EventDocumentUpdated
	eventPageSaved       = mutation.EventPageSaved
)

type inbound struct {
	Event string          `json:"event"`
	Ref   string          `json:"ref"`
	Data  json.RawMessage `json:"data"`
}

// Realtime serves the websocket endpoint. Each connection's events are
// handled one at a time in arrival order.
type Realtime struct {
	upgrader websocket.Upgrader
	rooms    *room.Multiplexer
	registry *session.Registry
	presence *presence.Coordinator
	pipeline *mutation.Pipeline
	service  *Service
	log      zerolog.Logger
}

func NewRealtime(rooms *room.Multiplexer, registry *session.Registry, coordinator *presence.Coordinator, pipeline *mutation.Pipeline, service *Service, corsOrigin string, log zerolog.Logger) *Realtime {
	return &Realtime{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return corsOrigin == "*" || r.Header.Get("Origin") == "" || r.Header.Get("Origin") == corsOrigin
			},
		},
		rooms:    rooms,
		registry: registry,
		presence: coordinator,
		pipeline: pipeline,
		service:  service,
		log:      log.With().Str("component", "realtime").Logger(),
	}
}

func (rt *Realtime) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rt.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{
		rt:   rt,
		ws:   conn,
		id:   util.NewID("conn"),
		done: make(chan struct{}),
	}
	c.queue = rt.rooms.Register(c.id)
	rt.log.Debug().Str("connection_id", c.id).Msg("connection opened")

	go c.writePump()
	c.readPump()
}

type client struct {
	rt    *Realtime
	ws    *websocket.Conn
	id    string
	queue *room.Conn
	done  chan struct{}
}

func (c *client) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.disconnect()
		close(c.done)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.rt.log.Warn().Err(err).Str("connection_id", c.id).Msg("websocket read error")
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			c.replyError("", validation("message must be a JSON object with an event"))
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	outbound := c.queue.Outbound()
	for {
		select {
		case frame, ok := <-outbound:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// disconnect deactivates the connection's participant and tells the room.
func (c *client) disconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	participant, err := c.rt.registry.Deactivate(ctx, c.id)
	if err != nil {
		c.rt.log.Error().Err(err).Str("connection_id", c.id).Msg("deactivate participant failed")
	}
	c.rt.rooms.Unregister(c.id)
	if participant != nil {
		_ = c.rt.presence.Announce(ctx, participant.DocumentID)
	}
	c.rt.log.Debug().Str("connection_id", c.id).Msg("connection closed")
}

func (c *client) reply(ref, event string, payload any) {
	c.rt.rooms.Reply(c.id, ref, event, payload)
}

func (c *client) ack(ref, event string, fields map[string]any) {
	payload := map[string]any{"event": event}
	for k, v := range fields {
		payload[k] = v
	}
	c.reply(ref, EventAck, payload)
}

func (c *client) replyError(ref string, err error) {
	status, code, message, _ := mapError(err)
	if status >= http.StatusInternalServerError {
		c.rt.log.Error().Err(err).Str("connection_id", c.id).Msg("event failed")
	}
	c.reply(ref, mutation.EventError, map[string]any{
		"code":    code,
		"message": message,
		"ref":     ref,
	})
}

func (c *client) handle(ctx context.Context, msg inbound) {
	if msg.Event == EventJoinDocument {
		c.join(ctx, msg)
		return
	}

	participant, err := c.rt.registry.ResolveByConnection(ctx, c.id)
	if err != nil {
		c.replyError(msg.Ref, err)
		return
	}
	if participant == nil {
		c.replyError(msg.Ref, forbidden("join a presentation first"))
		return
	}
	var scope struct {
		DocumentID string `json:"documentId"`
	}
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &scope); err != nil {
			c.replyError(msg.Ref, validation("data must be a JSON object"))
			return
		}
	}
	if scope.DocumentID != "" && scope.DocumentID != participant.DocumentID {
		c.replyError(msg.Ref, forbidden("connection is not joined to that presentation"))
		return
	}

	actor := mutation.Actor{
		ConnectionID: c.id,
		DocumentID:   participant.DocumentID,
		DisplayName:  participant.DisplayName,
		Role:         participant.Role,
	}
	if err := c.dispatch(ctx, msg, actor); err != nil {
		c.replyError(msg.Ref, err)
	}
}

func (c *client) join(ctx context.Context, msg inbound) {
	var data struct {
		DocumentID  string `json:"documentId"`
		DisplayName string `json:"displayName"`
		Role        string `json:"role"`
	}
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		c.replyError(msg.Ref, validation("data must be a JSON object"))
		return
	}

	previous, err := c.rt.registry.ResolveByConnection(ctx, c.id)
	if err != nil {
		c.replyError(msg.Ref, err)
		return
	}
	if previous != nil && (previous.DocumentID != strings.TrimSpace(data.DocumentID) || previous.DisplayName != strings.TrimSpace(data.DisplayName)) {
		c.leave(ctx, *previous)
	}
	participant, err := c.rt.registry.Identify(ctx, c.id, data.DocumentID, data.DisplayName, data.Role)
	if err != nil {
		c.replyError(msg.Ref, err)
		return
	}
	if !c.rt.rooms.Join(c.id, participant.DocumentID) {
		return
	}

	detail, err := c.rt.service.GetPresentation(ctx, participant.DocumentID)
	if err != nil {
		c.replyError(msg.Ref, err)
		return
	}
	c.reply(msg.Ref, EventJoinedDocument, map[string]any{
		"document":     detail.PresentationView,
		"pages":        detail.Pages,
		"participant":  presence.ViewsOf([]store.Participant{participant})[0],
		"participants": detail.Participants,
	})
	_ = c.rt.presence.Announce(ctx, participant.DocumentID)
}

// leave retires the participant a connection was bound to before it joins
// under another name or presentation.
func (c *client) leave(ctx context.Context, previous store.Participant) {
	if _, err := c.rt.registry.Deactivate(ctx, c.id); err != nil {
		c.rt.log.Warn().Err(err).Str("connection_id", c.id).Msg("deactivate previous participant failed")
	}
	c.rt.rooms.Leave(c.id)
	_ = c.rt.presence.Announce(ctx, previous.DocumentID)
}
