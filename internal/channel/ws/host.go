// Package ws moves the authoritative document between processes over
// WebSocket. The host broadcasts full snapshots; clients observe them
// read-only. Sessions run on their own goroutines, but every engine
// callback is delivered on the owning loop's goroutine via Pump.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"stagelink/engine/internal/state"
	"stagelink/engine/internal/telemetry"
	"stagelink/engine/logging"
	logsim "stagelink/engine/logging/simulation"
)

const (
	defaultWriteWait        = 10 * time.Second
	defaultHeartbeatTimeout = 6 * time.Second
)

// HostConfig tunes the host endpoint. Join/leave/input callbacks run
// on the loop goroutine during Pump, never on session goroutines.
type HostConfig struct {
	WriteWait        time.Duration
	HeartbeatTimeout time.Duration
	CheckOrigin      func(*http.Request) bool

	OnJoin  func(sessionID string)
	OnLeave func(sessionID string)
	// OnInput receives decoded input flags for a session. The hosting
	// application decides where they land in the document.
	OnInput func(sessionID string, input map[string]bool)

	Logger    telemetry.Logger
	Publisher logging.Publisher
	Counters  *telemetry.Counters
}

// Host is the authoritative channel endpoint served over WebSocket.
type Host struct {
	cfg      HostConfig
	doc      *state.Document
	subs     []*hostSub
	upgrader websocket.Upgrader
	tick     uint64

	mu       sync.Mutex
	sessions map[string]*session
	inbox    []inbound
	closed   bool
}

type hostSub struct {
	fn func(*state.Document)
}

type inbound struct {
	kind       string // "join" | "leave" | "input"
	sessionID  string
	remoteAddr string
	reason     string
	input      map[string]bool
}

type session struct {
	id            string
	conn          *websocket.Conn
	writeMu       sync.Mutex
	lastHeartbeat time.Time
}

func (s *session) write(data []byte, deadline time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(deadline))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// NewHost constructs a host endpoint over an empty document.
func NewHost(cfg HostConfig) *Host {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	h := &Host{
		cfg:      cfg,
		doc:      state.New(),
		sessions: make(map[string]*session),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: cfg.CheckOrigin}
	return h
}

// IsAuthoritative implements channel.Channel.
func (h *Host) IsAuthoritative() bool { return true }

// Snapshot implements channel.Channel. The host owns the document and
// reads it live.
func (h *Host) Snapshot() *state.Document { return h.doc }

// Subscribe implements channel.Channel for host-local observers.
func (h *Host) Subscribe(fn func(*state.Document)) func() {
	sub := &hostSub{fn: fn}
	h.subs = append(h.subs, sub)
	return func() { sub.fn = nil }
}

// Mutate implements channel.Channel. Local subscribers are notified
// synchronously; remote sessions see the change on the next broadcast.
func (h *Host) Mutate(fn func(*state.Document)) {
	if fn == nil {
		return
	}
	fn(h.doc)
	for _, sub := range append([]*hostSub(nil), h.subs...) {
		if sub.fn != nil {
			sub.fn(h.doc)
		}
	}
}

// Handler upgrades HTTP requests into observer sessions.
func (h *Host) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			if h.cfg.Logger != nil {
				h.cfg.Logger.Printf("[ws] upgrade failed: %v", err)
			}
			return
		}
		sess := &session{
			id:            uuid.NewString(),
			conn:          conn,
			lastHeartbeat: time.Now(),
		}
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			conn.Close()
			return
		}
		h.sessions[sess.id] = sess
		h.inbox = append(h.inbox, inbound{kind: "join", sessionID: sess.id, remoteAddr: r.RemoteAddr})
		h.mu.Unlock()

		go h.readLoop(sess)
	})
}

func (h *Host) readLoop(sess *session) {
	for {
		_, payload, err := sess.conn.ReadMessage()
		if err != nil {
			h.drop(sess.id, "read_error")
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			if h.cfg.Logger != nil {
				h.cfg.Logger.Printf("[ws] discarding malformed message from %s: %v", sess.id, err)
			}
			continue
		}
		switch msg.Type {
		case typeInput:
			h.mu.Lock()
			h.inbox = append(h.inbox, inbound{kind: "input", sessionID: sess.id, input: msg.Input})
			h.mu.Unlock()
		case typeHeartbeat:
			now := time.Now()
			h.mu.Lock()
			sess.lastHeartbeat = now
			h.mu.Unlock()
			ack := heartbeatMessage{
				Ver:        ProtocolVersion,
				Type:       typeHeartbeat,
				ServerTime: now.UnixMilli(),
				ClientTime: msg.SentAt,
			}
			if msg.SentAt > 0 {
				rtt := now.UnixMilli() - msg.SentAt
				if rtt > 0 {
					ack.RTTMillis = rtt
				}
			}
			data, err := json.Marshal(ack)
			if err != nil {
				continue
			}
			if err := sess.write(data, h.cfg.WriteWait); err != nil {
				h.drop(sess.id, "write_error")
				return
			}
		default:
			if h.cfg.Logger != nil {
				h.cfg.Logger.Printf("[ws] unknown message type %q from %s", msg.Type, sess.id)
			}
		}
	}
}

// Pump implements channel.Pumper: it drains queued join/leave/input
// events onto the caller's goroutine.
func (h *Host) Pump() bool {
	h.mu.Lock()
	events := h.inbox
	h.inbox = nil
	h.mu.Unlock()
	if len(events) == 0 {
		return false
	}
	h.tick++
	for _, ev := range events {
		switch ev.kind {
		case "join":
			logsim.SessionJoined(context.Background(), h.cfg.Publisher, h.tick,
				logging.EntityRef{ID: ev.sessionID, Kind: logging.EntityKindSession},
				logsim.SessionPayload{RemoteAddr: ev.remoteAddr})
			if h.cfg.OnJoin != nil {
				h.cfg.OnJoin(ev.sessionID)
			}
		case "leave":
			logsim.SessionLeft(context.Background(), h.cfg.Publisher, h.tick,
				logging.EntityRef{ID: ev.sessionID, Kind: logging.EntityKindSession},
				logsim.SessionPayload{Reason: ev.reason})
			if h.cfg.OnLeave != nil {
				h.cfg.OnLeave(ev.sessionID)
			}
		case "input":
			if h.cfg.OnInput != nil {
				h.cfg.OnInput(ev.sessionID, ev.input)
			}
		}
	}
	return true
}

// Broadcast marshals the current document and sends it to every
// session. Must run on the loop goroutine; it also prunes sessions
// whose heartbeats went stale.
func (h *Host) Broadcast() {
	raw, err := h.doc.MarshalJSON()
	if err != nil {
		if h.cfg.Logger != nil {
			h.cfg.Logger.Printf("[ws] failed to marshal state document: %v", err)
		}
		return
	}
	msg := stateMessage{
		Ver:        ProtocolVersion,
		Type:       typeState,
		Doc:        raw,
		ServerTime: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		if h.cfg.Logger != nil {
			h.cfg.Logger.Printf("[ws] failed to marshal state message: %v", err)
		}
		return
	}

	now := time.Now()
	h.mu.Lock()
	targets := make([]*session, 0, len(h.sessions))
	for id, sess := range h.sessions {
		if now.Sub(sess.lastHeartbeat) > h.cfg.HeartbeatTimeout {
			delete(h.sessions, id)
			h.inbox = append(h.inbox, inbound{kind: "leave", sessionID: id, reason: "heartbeat_timeout"})
			go sess.conn.Close()
			continue
		}
		targets = append(targets, sess)
	}
	h.mu.Unlock()

	for _, sess := range targets {
		if err := sess.write(data, h.cfg.WriteWait); err != nil {
			if h.cfg.Logger != nil {
				h.cfg.Logger.Printf("[ws] failed to send snapshot to %s: %v", sess.id, err)
			}
			h.drop(sess.id, "write_error")
		}
	}
	h.cfg.Counters.RecordBroadcast(len(data))
}

// Sessions reports the number of connected observers.
func (h *Host) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close disconnects every session and refuses new ones.
func (h *Host) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*session, 0, len(h.sessions))
	for id, sess := range h.sessions {
		sessions = append(sessions, sess)
		delete(h.sessions, id)
	}
	h.mu.Unlock()
	for _, sess := range sessions {
		sess.conn.Close()
	}
}

func (h *Host) drop(sessionID, reason string) {
	h.mu.Lock()
	sess, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
		h.inbox = append(h.inbox, inbound{kind: "leave", sessionID: sessionID, reason: reason})
	}
	h.mu.Unlock()
	if ok {
		sess.conn.Close()
	}
}
