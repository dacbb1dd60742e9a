// Package httpapi exposes the player controller over HTTP and streams
// snapshots to websocket clients.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/ports"
	"github.com/tejashwikalptaru/encore/internal/service"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// Options carries the optional collaborators of the server.
type Options struct {
	// Playlists enables the /api/playlists routes
	Playlists ports.PlaylistRepository

	// Library enables POST /api/library/scan
	Library *service.LibraryService

	// AllowOrigin is sent as Access-Control-Allow-Origin when set
	AllowOrigin string
}

// Server routes HTTP requests to the controller.
//
// Thread-safety: handlers run concurrently; the controller is thread-safe and
// the websocket client set is guarded by its own mutex.
type Server struct {
	logger  *slog.Logger
	control *service.Controller
	opts    Options
	router  *mux.Router

	upgrader websocket.Upgrader
	stream   *snapshotStream
}

// NewServer creates the API server over control.
func NewServer(logger *slog.Logger, control *service.Controller, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "httpapi"))

	s := &Server{
		logger:  logger,
		control: control,
		opts:    opts,
		router:  mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		stream: newSnapshotStream(logger),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/play", s.handlePlay).Methods(http.MethodPost)
	api.HandleFunc("/pause", s.handlePause).Methods(http.MethodPost)
	api.HandleFunc("/toggle", s.handleToggle).Methods(http.MethodPost)
	api.HandleFunc("/next", s.handleNext).Methods(http.MethodPost)
	api.HandleFunc("/previous", s.handlePrevious).Methods(http.MethodPost)
	api.HandleFunc("/volume", s.handleVolume).Methods(http.MethodPut)
	api.HandleFunc("/seek", s.handleSeek).Methods(http.MethodPost)
	api.HandleFunc("/tracks/{index:[0-9]+}/jump", s.handleJump).Methods(http.MethodPost)
	api.HandleFunc("/playlist", s.handleSetPlaylist).Methods(http.MethodPut)
	api.HandleFunc("/load", s.handleLoad).Methods(http.MethodPost)
	api.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	if s.opts.Playlists != nil {
		api.HandleFunc("/playlists", s.handleListPlaylists).Methods(http.MethodGet)
		api.HandleFunc("/playlists/{name}", s.handleGetPlaylist).Methods(http.MethodGet)
		api.HandleFunc("/playlists/{name}", s.handleSavePlaylist).Methods(http.MethodPut)
		api.HandleFunc("/playlists/{name}", s.handleDeletePlaylist).Methods(http.MethodDelete)
		api.HandleFunc("/playlists/{name}/activate", s.handleActivatePlaylist).Methods(http.MethodPost)
	}
	if s.opts.Library != nil {
		api.HandleFunc("/library/scan", s.handleScan).Methods(http.MethodPost)
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.router)
}

// Close disconnects every websocket client and stops following snapshots.
func (s *Server) Close() error {
	s.stream.close(s.control)
	return nil
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AllowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.opts.AllowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Response bodies

type trackResponse = domain.TrackRecord

type stateResponse struct {
	Track        *trackResponse  `json:"track"`
	IsPlaying    bool            `json:"isPlaying"`
	IsPaused     bool            `json:"isPaused"`
	Volume       float64         `json:"volume"`
	CurrentTime  float64         `json:"currentTime"`
	Duration     float64         `json:"duration"`
	IsReady      bool            `json:"isReady"`
	HasVisited   bool            `json:"hasVisited"`
	Playlist     []trackResponse `json:"playlist"`
	CurrentIndex int             `json:"currentIndex"`
	Lifecycle    string          `json:"lifecycle"`
	Error        string          `json:"error,omitempty"`
	Version      uint64          `json:"version"`
}

func newStateResponse(state domain.PlayerState) stateResponse {
	resp := stateResponse{
		IsPlaying:    state.IsPlaying,
		IsPaused:     state.IsPaused,
		Volume:       state.Volume,
		CurrentTime:  state.CurrentTime,
		Duration:     state.Duration,
		IsReady:      state.IsReady,
		HasVisited:   state.HasVisited,
		Playlist:     make([]trackResponse, 0, len(state.Playlist)),
		CurrentIndex: state.CurrentIndex,
		Lifecycle:    state.Lifecycle.String(),
		Error:        state.Error,
		Version:      state.Version,
	}
	if state.Track != nil {
		record := state.Track.Record()
		resp.Track = &record
	}
	for _, track := range state.Playlist {
		resp.Playlist = append(resp.Playlist, track.Record())
	}
	return resp
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("failed to write response", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeState answers with the snapshot after a command.
func (s *Server) writeState(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, newStateResponse(s.control.State()))
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var validation *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrInvalidIndex), errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, ports.ErrPlaylistNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAutoplayBlocked), errors.Is(err, domain.ErrScanInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(v); err != nil {
		return domain.NewValidationError("body", "", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

// Playback handlers

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.writeState(w, nil)
}

func (s *Server) handlePlay(w http.ResponseWriter, _ *http.Request) {
	s.writeState(w, s.control.Play())
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.writeState(w, s.control.Pause())
}

func (s *Server) handleToggle(w http.ResponseWriter, _ *http.Request) {
	s.writeState(w, s.control.TogglePlayPause())
}

func (s *Server) handleNext(w http.ResponseWriter, _ *http.Request) {
	s.control.Next()
	s.writeState(w, nil)
}

func (s *Server) handlePrevious(w http.ResponseWriter, _ *http.Request) {
	s.control.Previous()
	s.writeState(w, nil)
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Volume *float64 `json:"volume"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Volume == nil {
		s.writeError(w, http.StatusBadRequest, domain.NewValidationError("volume", "", "is required"))
		return
	}
	s.writeState(w, s.control.SetVolume(*body.Volume))
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Seconds *float64 `json:"seconds"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Seconds == nil {
		s.writeError(w, http.StatusBadRequest, domain.NewValidationError("seconds", "", "is required"))
		return
	}
	s.writeState(w, s.control.SeekTo(*body.Seconds))
}

func (s *Server) handleJump(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, domain.NewValidationError("index", mux.Vars(r)["index"], "must be a number"))
		return
	}
	s.writeState(w, s.control.JumpToTrack(index))
}

type playlistResponse struct {
	Name    string               `json:"name,omitempty"`
	Tracks  []domain.TrackRecord `json:"tracks"`
	Dropped int                  `json:"dropped"`
	State   *stateResponse       `json:"state,omitempty"`
}

func (s *Server) handleSetPlaylist(w http.ResponseWriter, r *http.Request) {
	var records []domain.TrackRecord
	if err := decodeBody(w, r, &records); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	dropped := s.control.SetPlaylistRecords(records)
	state := newStateResponse(s.control.State())
	s.writeJSON(w, http.StatusOK, playlistResponse{Tracks: state.Playlist, Dropped: dropped, State: &state})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var record domain.TrackRecord
	if err := decodeBody(w, r, &record); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	track, err := domain.NewTrack(record)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.control.LoadTrack(track)
	s.writeState(w, nil)
}

// Saved playlists

func (s *Server) handleListPlaylists(w http.ResponseWriter, r *http.Request) {
	names, err := s.opts.Playlists.Names(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"names": names})
}

func (s *Server) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	records, err := s.opts.Playlists.Load(r.Context(), name)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, playlistResponse{Name: name, Tracks: records})
}

func (s *Server) handleSavePlaylist(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var records []domain.TrackRecord
	if err := decodeBody(w, r, &records); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.opts.Playlists.Save(r.Context(), name, records); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, playlistResponse{Name: name, Tracks: records})
}

func (s *Server) handleDeletePlaylist(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Playlists.Delete(r.Context(), mux.Vars(r)["name"]); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivatePlaylist(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	records, err := s.opts.Playlists.Load(r.Context(), name)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	dropped := s.control.SetPlaylistRecords(records)
	state := newStateResponse(s.control.State())
	s.writeJSON(w, http.StatusOK, playlistResponse{Name: name, Tracks: state.Playlist, Dropped: dropped, State: &state})
}

// Library

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Root     string `json:"root"`
		Activate bool   `json:"activate"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Root == "" {
		s.writeError(w, http.StatusBadRequest, domain.NewValidationError("root", "", "is required"))
		return
	}

	records, err := s.opts.Library.ScanFolder(r.Context(), body.Root)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	resp := playlistResponse{Tracks: records}
	if resp.Tracks == nil {
		resp.Tracks = []domain.TrackRecord{}
	}
	if body.Activate {
		resp.Dropped = s.control.SetPlaylistRecords(records)
		state := newStateResponse(s.control.State())
		resp.State = &state
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// Snapshot stream

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	s.stream.serve(conn, s.control)
}
