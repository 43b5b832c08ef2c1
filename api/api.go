package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cameroncuttingedge/cube_four/config"
	"github.com/cameroncuttingedge/cube_four/game"
	"github.com/cameroncuttingedge/cube_four/rooms"
	"github.com/cameroncuttingedge/cube_four/websocket"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Server holds the handlers for the room API.
type Server struct {
	manager *rooms.Manager
	hub     *websocket.Hub
	now     func() time.Time
}

func NewServer(manager *rooms.Manager, hub *websocket.Hub) *Server {
	return &Server{manager: manager, hub: hub, now: time.Now}
}

// Routes registers every endpoint on a fresh router.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	g := r.PathPrefix("/api/game").Subrouter()

	g.HandleFunc("/create", s.createGameHandler).Methods(http.MethodPost)
	g.HandleFunc("/quick-match", s.quickMatchHandler).Methods(http.MethodPost)
	g.HandleFunc("/join/{roomId}", s.joinGameHandler).Methods(http.MethodPost)
	g.HandleFunc("/debug", s.debugHandler).Methods(http.MethodGet)
	g.HandleFunc("/{roomId}/start", s.startGameHandler).Methods(http.MethodPost)
	g.HandleFunc("/{roomId}/move", s.makeMoveHandler).Methods(http.MethodPost)
	g.HandleFunc("/{roomId}/rematch", s.rematchHandler).Methods(http.MethodPost)
	g.HandleFunc("/{roomId}/events", s.hub.ServeWS).Methods(http.MethodGet)
	g.HandleFunc("/{roomId}", s.getGameStateHandler).Methods(http.MethodGet)
	return r
}

// Handler is Routes wrapped in the middleware chain.
func (s *Server) Handler(cfg config.Config) http.Handler {
	return withMiddleware(s.Routes(), cfg)
}

// StartAPI serves h on addr until ctx is done, then drains in-flight requests.
func StartAPI(ctx context.Context, addr string, h http.Handler, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Msg("Server started")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info().Msg("Shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type playerRequest struct {
	PlayerName string `json:"playerName"`
}

type playerIDRequest struct {
	PlayerID string `json:"playerId"`
}

type moveRequest struct {
	PlayerID string `json:"playerId"`
	X        *int   `json:"x"`
	Z        *int   `json:"z"`
}

type seatResponse struct {
	Success  bool          `json:"success"`
	Room     rooms.Summary `json:"room"`
	PlayerID string        `json:"playerId"`
	Matched  *bool         `json:"matched,omitempty"`
}

type roomResponse struct {
	Success bool       `json:"success"`
	Room    rooms.Room `json:"room"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) createGameHandler(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !decode(w, r, &req) {
		return
	}
	host, err := rooms.NewPlayer(req.PlayerName, game.Player1)
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	room, err := s.manager.CreateRoom(host)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create room")
		writeError(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, seatResponse{Success: true, Room: room.Summary(), PlayerID: host.ID})
}

func (s *Server) joinGameHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	var req playerRequest
	if !decode(w, r, &req) {
		return
	}
	guest, err := rooms.NewPlayer(req.PlayerName, game.Player2)
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	room, err := s.manager.JoinRoom(roomID, guest)
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, rooms.ErrConflict) {
			status = http.StatusNotFound
		}
		log.Warn().Err(err).Str("roomID", roomID).Msg("Join rejected")
		writeError(w, err, status)
		return
	}
	writeJSON(w, http.StatusOK, seatResponse{Success: true, Room: room.Summary(), PlayerID: guest.ID})
}

func (s *Server) quickMatchHandler(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !decode(w, r, &req) {
		return
	}
	room, player, matched, err := s.manager.QuickMatch(req.PlayerName)
	if err != nil {
		log.Error().Err(err).Msg("Quick match failed")
		writeError(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, seatResponse{Success: true, Room: room.Summary(), PlayerID: player.ID, Matched: &matched})
}

func (s *Server) startGameHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	var req playerIDRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PlayerID == "" {
		writeError(w, errors.New("playerId is required"), http.StatusBadRequest)
		return
	}
	room, err := s.manager.StartGame(roomID, req.PlayerID)
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			if removed := s.manager.CleanupInactiveRooms(); len(removed) > 0 {
				log.Info().Strs("roomIDs", removed).Msg("Swept idle rooms")
			}
		}
		writeError(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{Success: true, Room: room})
}

func (s *Server) makeMoveHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	var req moveRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PlayerID == "" || req.X == nil || req.Z == nil {
		writeError(w, errors.New("playerId, x and z are required"), http.StatusBadRequest)
		return
	}
	room, err := s.manager.MakeMove(roomID, rooms.Move{
		PlayerID:  req.PlayerID,
		X:         *req.X,
		Z:         *req.Z,
		Timestamp: s.now(),
	})
	if err != nil {
		log.Info().Err(err).Str("roomID", roomID).Str("playerID", req.PlayerID).Msg("Move rejected")
		writeError(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{Success: true, Room: room})
}

func (s *Server) rematchHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	var req playerIDRequest
	if !decode(w, r, &req) {
		return
	}
	room, err := s.manager.RequestRematch(roomID, req.PlayerID)
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{Success: true, Room: room})
}

func (s *Server) getGameStateHandler(w http.ResponseWriter, r *http.Request) {
	room, err := s.manager.Get(mux.Vars(r)["roomId"])
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{Success: true, Room: room})
}

type debugPlayer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsHost    bool      `json:"isHost"`
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"lastSeen"`
}

type debugRoom struct {
	ID                       string        `json:"id"`
	Players                  []debugPlayer `json:"players"`
	Phase                    rooms.Phase   `json:"phase"`
	GameStarted              bool          `json:"gameStarted"`
	GameOver                 bool          `json:"gameOver"`
	Winner                   game.Cell     `json:"winner"`
	CreatedAt                time.Time     `json:"createdAt"`
	LastActivity             time.Time     `json:"lastActivity"`
	MinutesSinceLastActivity int           `json:"minutesSinceLastActivity"`
	Observers                int           `json:"observers"`
}

type debugResponse struct {
	Success    bool                `json:"success"`
	TotalRooms int                 `json:"totalRooms"`
	Rooms      []debugRoom         `json:"rooms"`
	Phases     map[rooms.Phase]int `json:"phases"`
	ServerTime time.Time           `json:"serverTime"`
}

func (s *Server) debugHandler(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	all := s.manager.List()
	observers := s.hub.Observers()
	out := make([]debugRoom, 0, len(all))
	phases := make(map[rooms.Phase]int)
	for _, room := range all {
		players := make([]debugPlayer, len(room.Players))
		for i, p := range room.Players {
			players[i] = debugPlayer{ID: p.ID, Name: p.Name, IsHost: p.IsHost, Connected: p.Connected, LastSeen: p.LastSeen}
		}
		phases[room.Phase]++
		out = append(out, debugRoom{
			ID:                       room.ID,
			Players:                  players,
			Phase:                    room.Phase,
			GameStarted:              room.GameStarted,
			GameOver:                 room.GameOver,
			Winner:                   room.Winner,
			CreatedAt:                room.CreatedAt,
			LastActivity:             room.LastActivity,
			MinutesSinceLastActivity: int(now.Sub(room.LastActivity) / time.Minute),
			Observers:                observers[room.ID],
		})
	}
	writeJSON(w, http.StatusOK, debugResponse{
		Success:    true,
		TotalRooms: len(out),
		Rooms:      out,
		Phases:     phases,
		ServerTime: now,
	})
}

// decode reads an optional JSON body into v. An empty body leaves v zero.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, errors.New("invalid JSON body"), http.StatusBadRequest)
	return false
}

func statusFor(err error) int {
	switch rooms.Kind(err) {
	case rooms.ErrValidation, rooms.ErrConflict:
		return http.StatusBadRequest
	case rooms.ErrNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error, status int) {
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Internal server error"
	}
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
