// Package websocket fans room changes out to subscribed players.
package websocket

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cameroncuttingedge/cube_four/events"
	"github.com/cameroncuttingedge/cube_four/game"
	"github.com/cameroncuttingedge/cube_four/rooms"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	startedMessage = "Game has started!"

	DefaultRecheckInterval = time.Second
	DefaultSendBuffer      = 32
)

var ErrHubClosed = errors.New("hub closed")

type Option func(*Hub)

// WithStartedPolicy sets the redelivery schedule for game-started events.
func WithStartedPolicy(p events.DeliveryPolicy) Option {
	return func(h *Hub) { h.startedPolicy = p }
}

// WithRecheckInterval sets how often each observed room is re-diffed. Zero disables it.
func WithRecheckInterval(d time.Duration) Option {
	return func(h *Hub) { h.recheck = d }
}

func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// Hub keeps the observers of every room and pushes an event to them whenever
// the room's serialized state differs from what they were last sent.
type Hub struct {
	manager       *rooms.Manager
	startedPolicy events.DeliveryPolicy
	recheck       time.Duration
	sendBuffer    int
	upgrader      websocket.Upgrader
	now           func() time.Time

	mu       sync.Mutex
	channels map[string]*roomChannel
	closed   bool
}

// NewHub builds a hub and registers it as a listener on manager.
func NewHub(manager *rooms.Manager, opts ...Option) *Hub {
	h := &Hub{
		manager:       manager,
		startedPolicy: events.DefaultStartedPolicy(),
		recheck:       DefaultRecheckInterval,
		sendBuffer:    DefaultSendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		now:      time.Now,
		channels: make(map[string]*roomChannel),
	}
	for _, opt := range opts {
		opt(h)
	}
	manager.AddListener(h)
	return h
}

// roomChannel is the observer set of one room plus its last delivered snapshot.
type roomChannel struct {
	id string

	mu        sync.Mutex
	observers map[*Subscription]struct{}
	last      []byte
	timers    []*time.Timer

	stop     chan struct{}
	stopOnce sync.Once
}

func (c *roomChannel) halt() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Subscription is one observer of a room. Events carries encoded envelopes and is
// closed when the subscription ends.
type Subscription struct {
	RoomID   string
	PlayerID string

	hub       *Hub
	ch        *roomChannel
	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func (s *Subscription) Events() <-chan []byte { return s.send }

// Done is closed once the subscription has been torn down.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unregisters the observer and marks its player disconnected.
func (s *Subscription) Close() {
	if s.hub.unregister(s) {
		s.markDisconnected()
	}
}

func (s *Subscription) markDisconnected() {
	if _, err := s.hub.manager.UpdatePlayerConnection(s.RoomID, s.PlayerID, false); err != nil {
		log.Debug().Err(err).Str("roomID", s.RoomID).Str("playerID", s.PlayerID).Msg("Presence update skipped")
	}
}

func (s *Subscription) terminate() {
	s.closeOnce.Do(func() {
		close(s.send)
		close(s.done)
	})
}

// offer queues data without blocking. A full buffer is treated as a broken observer.
func (s *Subscription) offer(data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Subscribe registers playerID as an observer of roomID, queues the current
// game-state for it and marks the player connected.
func (h *Hub) Subscribe(roomID, playerID string) (*Subscription, error) {
	snap, err := h.manager.Get(roomID)
	if err != nil {
		return nil, err
	}
	if snap.Seat(playerID) == game.Empty {
		return nil, rooms.ErrPlayerNotFound
	}
	initial, err := events.Encode(events.GameState{Room: snap}, h.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rooms.ErrInternal, err)
	}

	sub := &Subscription{
		RoomID:   snap.ID,
		PlayerID: playerID,
		hub:      h,
		send:     make(chan []byte, h.sendBuffer),
		done:     make(chan struct{}),
	}
	sub.send <- initial

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	ch, ok := h.channels[snap.ID]
	if !ok {
		ch = &roomChannel{
			id:        snap.ID,
			observers: make(map[*Subscription]struct{}),
			stop:      make(chan struct{}),
		}
		h.channels[snap.ID] = ch
		if h.recheck > 0 {
			go h.recheckLoop(ch)
		}
	}
	sub.ch = ch
	ch.mu.Lock()
	ch.observers[sub] = struct{}{}
	count := len(ch.observers)
	ch.mu.Unlock()
	h.mu.Unlock()

	log.Info().Str("roomID", snap.ID).Str("playerID", playerID).Int("observers", count).Msg("Observer registered")

	if _, err := h.manager.UpdatePlayerConnection(snap.ID, playerID, true); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

// unregister removes s from its room channel and only then closes its send
// channel, so a fan-out holding ch.mu never sees a closed subscription.
// It reports whether s was still registered.
func (h *Hub) unregister(s *Subscription) bool {
	ch := s.ch
	if ch == nil {
		s.terminate()
		return false
	}
	h.mu.Lock()
	ch.mu.Lock()
	_, present := ch.observers[s]
	delete(ch.observers, s)
	empty := len(ch.observers) == 0
	if empty {
		if h.channels[ch.id] == ch {
			delete(h.channels, ch.id)
		}
		ch.stopTimersLocked()
	}
	ch.mu.Unlock()
	h.mu.Unlock()

	if empty {
		ch.halt()
	}
	s.terminate()
	if present {
		log.Info().Str("roomID", s.RoomID).Str("playerID", s.PlayerID).Msg("Observer unregistered")
	}
	return present
}

func (c *roomChannel) stopTimersLocked() {
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
}

func (h *Hub) channel(roomID string) *roomChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channels[roomID]
}

// RoomChanged implements rooms.Listener.
func (h *Hub) RoomChanged(roomID string, change rooms.Change) {
	ch := h.channel(roomID)
	if ch == nil {
		return
	}
	snap, err := h.manager.Get(roomID)
	if err != nil {
		return
	}
	e := eventFor(change, snap)
	if e.Type() == events.TypeGameState {
		h.publish(ch, e)
		return
	}
	// Lifecycle events go out even when another push already carried this
	// snapshot as a plain game-state.
	h.announce(ch, e)
	if change == rooms.ChangeStarted {
		h.scheduleRedelivery(ch, snap)
	}
}

// RoomDestroyed implements rooms.Listener. Every observer of the room is force-closed.
func (h *Hub) RoomDestroyed(roomID string) {
	h.mu.Lock()
	ch, ok := h.channels[roomID]
	delete(h.channels, roomID)
	h.mu.Unlock()
	if !ok {
		return
	}
	ch.halt()
	ch.mu.Lock()
	ch.stopTimersLocked()
	subs := ch.drainLocked()
	ch.mu.Unlock()
	for _, s := range subs {
		s.terminate()
	}
	log.Info().Str("roomID", roomID).Int("observers", len(subs)).Msg("Room destroyed, observers closed")
}

func (c *roomChannel) drainLocked() []*Subscription {
	subs := make([]*Subscription, 0, len(c.observers))
	for s := range c.observers {
		subs = append(subs, s)
	}
	c.observers = make(map[*Subscription]struct{})
	return subs
}

func eventFor(change rooms.Change, snap rooms.Room) events.Event {
	switch change {
	case rooms.ChangeJoined:
		e := events.PlayerJoined{Room: snap}
		if n := len(snap.Players); n > 0 {
			e.Player = snap.Players[n-1]
		}
		return e
	case rooms.ChangeStarted:
		return events.GameStarted{Room: snap, Message: startedMessage}
	case rooms.ChangeReset:
		return events.GameReset{Room: snap}
	}
	return events.GameState{Room: snap}
}

// publish sends e to every observer if its snapshot differs from the last one
// delivered. It reports whether anything was sent.
func (h *Hub) publish(ch *roomChannel, e events.Event) bool {
	return h.send(ch, e, false)
}

// announce sends e to every observer regardless of the last delivered snapshot.
func (h *Hub) announce(ch *roomChannel, e events.Event) {
	h.send(ch, e, true)
}

func (h *Hub) send(ch *roomChannel, e events.Event, always bool) bool {
	key, err := events.SnapshotKey(e.Snapshot())
	if err != nil {
		log.Error().Err(err).Str("roomID", ch.id).Msg("Failed to serialize room snapshot")
		return false
	}
	data, err := events.Encode(e, h.now())
	if err != nil {
		log.Error().Err(err).Str("roomID", ch.id).Msg("Failed to encode event")
		return false
	}

	ch.mu.Lock()
	if !always && bytes.Equal(key, ch.last) {
		ch.mu.Unlock()
		return false
	}
	ch.last = key
	broken := ch.fanOutLocked(data)
	ch.mu.Unlock()

	h.dropBroken(ch, broken)
	log.Debug().Str("roomID", ch.id).Str("type", string(e.Type())).Msg("Event delivered")
	return true
}

// deliver sends e unconditionally without touching the last delivered snapshot.
// Used for redelivery.
func (h *Hub) deliver(ch *roomChannel, e events.Event) {
	data, err := events.Encode(e, h.now())
	if err != nil {
		log.Error().Err(err).Str("roomID", ch.id).Msg("Failed to encode event")
		return
	}
	ch.mu.Lock()
	broken := ch.fanOutLocked(data)
	ch.mu.Unlock()
	h.dropBroken(ch, broken)
}

func (c *roomChannel) fanOutLocked(data []byte) []*Subscription {
	var broken []*Subscription
	for s := range c.observers {
		if !s.offer(data) {
			broken = append(broken, s)
		}
	}
	return broken
}

// dropBroken unregisters observers whose buffers were full. Their presence
// update runs on its own goroutine so the resulting push does not land on the
// remaining observers in the same burst.
func (h *Hub) dropBroken(ch *roomChannel, broken []*Subscription) {
	for _, s := range broken {
		log.Warn().Str("roomID", ch.id).Str("playerID", s.PlayerID).Msg("Observer not keeping up, dropping")
		if h.unregister(s) {
			go s.markDisconnected()
		}
	}
}

// scheduleRedelivery resends game-started at every non-zero delay of the policy.
func (h *Hub) scheduleRedelivery(ch *roomChannel, snap rooms.Room) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for i := 1; i < h.startedPolicy.Attempts(); i++ {
		e := events.GameStarted{Room: snap, Message: startedMessage, Retry: i}
		t := time.AfterFunc(h.startedPolicy.Delay(i), func() {
			select {
			case <-ch.stop:
				return
			default:
			}
			h.deliver(ch, e)
		})
		ch.timers = append(ch.timers, t)
	}
}

// recheckLoop re-diffs the room on a fixed interval until the channel stops.
func (h *Hub) recheckLoop(ch *roomChannel) {
	ticker := time.NewTicker(h.recheck)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !h.Recheck(ch.id) {
				return
			}
		case <-ch.stop:
			return
		}
	}
}

// Recheck diffs the room against the last delivered snapshot and pushes a
// game-state on difference. It reports false once the room no longer exists.
func (h *Hub) Recheck(roomID string) bool {
	ch := h.channel(roomID)
	if ch == nil {
		return false
	}
	snap, err := h.manager.Get(roomID)
	if errors.Is(err, rooms.ErrNotFound) {
		h.RoomDestroyed(roomID)
		return false
	}
	if err != nil {
		return true
	}
	if h.publish(ch, events.GameState{Room: snap}) {
		log.Debug().Str("roomID", roomID).Msg("Recheck found a missed change")
	}
	return true
}

// Observers counts observers per room.
func (h *Hub) Observers() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.channels))
	for id, ch := range h.channels {
		ch.mu.Lock()
		out[id] = len(ch.observers)
		ch.mu.Unlock()
	}
	return out
}

// Close force-closes every subscription and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	ids := make([]string, 0, len(h.channels))
	for id := range h.channels {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.RoomDestroyed(id)
	}
	log.Info().Msg("Event hub stopped")
}

// ServeWS upgrades GET {roomId}/events?playerId=... and streams the room's events
// until either side goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	playerID := r.URL.Query().Get("playerId")
	if roomID == "" || playerID == "" {
		http.Error(w, "roomId and playerId are required", http.StatusBadRequest)
		return
	}
	if snap, err := h.manager.Get(roomID); err != nil || snap.Seat(playerID) == game.Empty {
		http.Error(w, "Room or player not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("roomID", roomID).Msg("WebSocket upgrade error")
		return
	}

	sub, err := h.Subscribe(roomID, playerID)
	if err != nil {
		log.Warn().Err(err).Str("roomID", roomID).Str("playerID", playerID).Msg("Subscribe failed after upgrade")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	log.Info().Str("roomID", roomID).Str("playerID", playerID).Str("remote", conn.RemoteAddr().String()).Msg("WebSocket connection established")

	go writePump(conn, sub)
	readPump(conn, sub)
}

// readPump discards client frames and tears the subscription down when the peer goes quiet.
func readPump(conn *websocket.Conn, sub *Subscription) {
	defer func() {
		sub.Close()
		conn.Close()
	}()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("roomID", sub.RoomID).Str("playerID", sub.PlayerID).Msg("WebSocket closed unexpectedly")
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case data, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("roomID", sub.RoomID).Str("playerID", sub.PlayerID).Msg("Failed to write event")
				sub.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.Close()
				return
			}
		}
	}
}
