// Package client subscribes to a room's event stream and reconnects on failure.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cameroncuttingedge/cube_four/events"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	// ErrConnectionLost is returned once every reconnect attempt has failed.
	ErrConnectionLost = errors.New("connection lost")
	// ErrRoomClosed is returned when the server ends the stream normally, e.g. the room expired.
	ErrRoomClosed = errors.New("room closed")
)

const (
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultMaxAttempts  = 5
)

// NewBackoff doubles from initial up to maxDelay and stops after attempts retries.
func NewBackoff(initial, maxDelay time.Duration, attempts uint64) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.MaxInterval = maxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, attempts)
}

// DefaultBackoff waits 1s, 2s, 4s, 8s and 16s before giving up.
func DefaultBackoff() backoff.BackOff {
	return NewBackoff(DefaultInitialDelay, DefaultMaxDelay, DefaultMaxAttempts)
}

type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateLost         State = "lost"
)

// Handler receives every decoded event. Returning an error stops Run with that error.
type Handler func(events.Event) error

// Subscriber follows one player's view of a room.
type Subscriber struct {
	BaseURL  string // ws://host:port
	RoomID   string
	PlayerID string

	Dialer *websocket.Dialer
	// Backoff paces reconnects. It is reset after every successful connect.
	Backoff backoff.BackOff
	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnState, if set, is told about connection state changes.
	OnState func(State)
}

func New(baseURL, roomID, playerID string) *Subscriber {
	return &Subscriber{
		BaseURL:  baseURL,
		RoomID:   roomID,
		PlayerID: playerID,
		Dialer:   websocket.DefaultDialer,
		Backoff:  DefaultBackoff(),
		Sleep:    sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Subscriber) url() (string, error) {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return "", err
	}
	u.Path = "/api/game/" + url.PathEscape(s.RoomID) + "/events"
	u.RawQuery = url.Values{"playerId": {s.PlayerID}}.Encode()
	return u.String(), nil
}

func (s *Subscriber) state(st State) {
	if s.OnState != nil {
		s.OnState(st)
	}
}

// Run streams events into handle until ctx is done, the handler fails, the room
// closes, or the backoff schedule is exhausted.
func (s *Subscriber) Run(ctx context.Context, handle Handler) error {
	target, err := s.url()
	if err != nil {
		return err
	}
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	wait := s.Sleep
	if wait == nil {
		wait = sleep
	}
	schedule := s.Backoff
	if schedule == nil {
		schedule = DefaultBackoff()
	}
	b := backoff.WithContext(schedule, ctx)
	b.Reset()

	s.state(StateConnecting)
	attempt := 0
	for {
		conn, _, err := dialer.DialContext(ctx, target, nil)
		if err == nil {
			attempt = 0
			b.Reset()
			s.state(StateConnected)
			log.Info().Str("roomID", s.RoomID).Str("playerID", s.PlayerID).Msg("Subscribed to room events")
			err = s.stream(ctx, conn, handle)
			var herr handlerError
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.As(err, &herr):
				return herr.err
			case websocket.IsCloseError(err, websocket.CloseNormalClosure):
				return ErrRoomClosed
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.state(StateLost)
			log.Error().Err(err).Str("roomID", s.RoomID).Int("attempts", attempt).Msg("Giving up on room events")
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		attempt++
		s.state(StateReconnecting)
		log.Warn().Err(err).Str("roomID", s.RoomID).Int("attempt", attempt).Dur("delay", delay).Msg("Event stream failed, reconnecting")
		if err := wait(ctx, delay); err != nil {
			return err
		}
	}
}

type handlerError struct{ err error }

func (e handlerError) Error() string { return e.err.Error() }

func (s *Subscriber) stream(ctx context.Context, conn *websocket.Conn, handle Handler) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		e, _, err := events.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("roomID", s.RoomID).Msg("Skipping undecodable event")
			continue
		}
		if err := handle(e); err != nil {
			return handlerError{err}
		}
	}
}
