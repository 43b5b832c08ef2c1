// Package events defines what subscribers of a room receive.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cameroncuttingedge/cube_four/rooms"
)

type Type string

const (
	TypeGameState    Type = "game-state"
	TypePlayerJoined Type = "player-joined"
	TypeGameStarted  Type = "game-started"
	TypeGameReset    Type = "game-reset"
)

// Event is one of GameState, PlayerJoined, GameStarted or GameReset.
type Event interface {
	Type() Type
	Snapshot() rooms.Room
	envelope() Envelope
}

// GameState carries the full room after any change.
type GameState struct {
	Room rooms.Room
}

// PlayerJoined is sent when the second seat is filled.
type PlayerJoined struct {
	Room   rooms.Room
	Player rooms.Player
}

// GameStarted may be delivered more than once; Retry counts redeliveries.
type GameStarted struct {
	Room    rooms.Room
	Message string
	Retry   int
}

// GameReset is sent when both players agreed to a rematch.
type GameReset struct {
	Room rooms.Room
}

func (GameState) Type() Type    { return TypeGameState }
func (PlayerJoined) Type() Type { return TypePlayerJoined }
func (GameStarted) Type() Type  { return TypeGameStarted }
func (GameReset) Type() Type    { return TypeGameReset }

func (e GameState) Snapshot() rooms.Room    { return e.Room }
func (e PlayerJoined) Snapshot() rooms.Room { return e.Room }
func (e GameStarted) Snapshot() rooms.Room  { return e.Room }
func (e GameReset) Snapshot() rooms.Room    { return e.Room }

func (e GameState) envelope() Envelope {
	return Envelope{Type: TypeGameState, Room: e.Room}
}

func (e PlayerJoined) envelope() Envelope {
	p := e.Player
	return Envelope{Type: TypePlayerJoined, Room: e.Room, Player: &p}
}

func (e GameStarted) envelope() Envelope {
	return Envelope{Type: TypeGameStarted, Room: e.Room, Message: e.Message, RetryNumber: e.Retry}
}

func (e GameReset) envelope() Envelope {
	return Envelope{Type: TypeGameReset, Room: e.Room}
}

// Envelope is the wire form of every event.
type Envelope struct {
	Type        Type          `json:"type"`
	Room        rooms.Room    `json:"room"`
	Timestamp   time.Time     `json:"timestamp"`
	Player      *rooms.Player `json:"player,omitempty"`
	Message     string        `json:"message,omitempty"`
	RetryNumber int           `json:"retryNumber,omitempty"`
}

// Event rebuilds the typed event from a decoded envelope.
func (env Envelope) Event() (Event, error) {
	switch env.Type {
	case TypeGameState:
		return GameState{Room: env.Room}, nil
	case TypePlayerJoined:
		e := PlayerJoined{Room: env.Room}
		if env.Player != nil {
			e.Player = *env.Player
		}
		return e, nil
	case TypeGameStarted:
		return GameStarted{Room: env.Room, Message: env.Message, Retry: env.RetryNumber}, nil
	case TypeGameReset:
		return GameReset{Room: env.Room}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", env.Type)
}

func Encode(e Event, at time.Time) ([]byte, error) {
	env := e.envelope()
	env.Timestamp = at
	return json.Marshal(env)
}

func Decode(data []byte) (Event, time.Time, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, time.Time{}, err
	}
	e, err := env.Event()
	return e, env.Timestamp, err
}

// SnapshotKey is the serialized room used to decide whether observers need an update.
func SnapshotKey(r rooms.Room) ([]byte, error) {
	return json.Marshal(r)
}

// DeliveryPolicy lists the delays after which an event is sent again.
// A zero delay is the initial send.
type DeliveryPolicy struct {
	Delays []time.Duration
}

func DefaultStartedPolicy() DeliveryPolicy {
	return DeliveryPolicy{Delays: []time.Duration{0, 200 * time.Millisecond, 500 * time.Millisecond}}
}

// Attempts is how many sends the policy makes, never fewer than one.
func (p DeliveryPolicy) Attempts() int {
	if len(p.Delays) == 0 {
		return 1
	}
	return len(p.Delays)
}

// Delay returns the wait before attempt i (0-based).
func (p DeliveryPolicy) Delay(i int) time.Duration {
	if i < 0 || i >= len(p.Delays) {
		return 0
	}
	return p.Delays[i]
}
