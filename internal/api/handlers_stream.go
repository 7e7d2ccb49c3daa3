package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Arvo-AI/aurora-sub002/internal/incident"
	"github.com/Arvo-AI/aurora-sub002/internal/layout"
	"github.com/Arvo-AI/aurora-sub002/internal/render"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// Stream message types.
const (
	msgTopology = "topology"
	msgCleared  = "cleared"
	msgError    = "error"
	msgMoved    = "moved"
	msgMove     = "move"
	msgReset    = "reset"
)

// streamMessage is sent to websocket clients.
type streamMessage struct {
	Type  string        `json:"type"`
	Graph *render.Graph `json:"graph,omitempty"`
	Node  string        `json:"node,omitempty"`
	Error string        `json:"error,omitempty"`
}

// clientMessage is received from websocket clients. A "move" records a
// drag; "reset" drops every drag override.
type clientMessage struct {
	Type     string          `json:"type"`
	Node     string          `json:"node"`
	Position layout.Position `json:"position"`
}

func emptyGraph() render.Graph {
	return render.Graph{
		State: render.StateEmpty,
		Nodes: []render.FlowNode{},
		Edges: []render.FlowEdge{},
	}
}

// ---------------------------------------------------------------------------
// GET /api/incidents/{id}/stream
// ---------------------------------------------------------------------------

// handleStream keeps one incident's graph in sync over a websocket. Drags
// sent by the client are applied to the connection's own view and are
// discarded when a new snapshot arrives.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	initial := emptyGraph()
	st, err := s.manager.Get(r.Context(), id)
	switch {
	case err == nil:
		initial = st.Graph
	case errors.Is(err, incident.ErrNotFound):
	default:
		s.writeManagerError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "incident", id, "error", err)
		return
	}
	defer conn.Close()

	view := render.NewView(initial)
	bus := s.manager.Events()
	clientID := "ws-" + uuid.New().String()
	events := bus.Subscribe(clientID)
	defer bus.Unsubscribe(clientID)

	s.logger.Info("stream client connected", "incident", id, "client", clientID)
	defer s.logger.Info("stream client disconnected", "incident", id, "client", clientID)

	// Only this goroutine writes to conn; the reader hands replies over.
	replies := make(chan streamMessage, 16)
	readDone := make(chan struct{})
	go s.readStream(conn, view, replies, readDone)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	g := view.Graph()
	if err := writeStream(conn, streamMessage{Type: msgTopology, Graph: &g}); err != nil {
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))
			return
		case <-readDone:
			return

		case msg := <-replies:
			if err := writeStream(conn, msg); err != nil {
				return
			}

		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.IncidentID != id {
				continue
			}
			msg := streamMessage{}
			switch ev.Type {
			case incident.EventTopologyUpdated:
				if !view.Advance(*ev.Graph) {
					continue
				}
				g := view.Graph()
				msg = streamMessage{Type: msgTopology, Graph: &g}
			case incident.EventTopologyCleared:
				view.Replace(emptyGraph())
				g := view.Graph()
				msg = streamMessage{Type: msgCleared, Graph: &g}
			case incident.EventTopologyError:
				msg = streamMessage{Type: msgError, Graph: ev.Graph, Error: ev.Error}
			default:
				continue
			}
			if err := writeStream(conn, msg); err != nil {
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readStream(conn *websocket.Conn, view *render.View, replies chan<- streamMessage, done chan<- struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("stream read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var reply streamMessage
		switch msg.Type {
		case msgMove:
			if err := view.Move(msg.Node, msg.Position); err != nil {
				reply = streamMessage{Type: msgError, Node: msg.Node, Error: err.Error()}
			} else {
				reply = streamMessage{Type: msgMoved, Node: msg.Node}
			}
		case msgReset:
			view.Reset()
			g := view.Graph()
			reply = streamMessage{Type: msgTopology, Graph: &g}
		default:
			reply = streamMessage{Type: msgError, Error: "unknown message type " + msg.Type}
		}

		select {
		case replies <- reply:
		default:
			s.logger.Warn("stream reply dropped", "type", reply.Type)
		}
	}
}

func writeStream(conn *websocket.Conn, msg streamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(msg)
}
