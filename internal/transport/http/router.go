package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

const (
	qrSize           = 320
	defaultListLimit = 20
	maxListLimit     = 100
)

// ResultReader reads persisted game results.
type ResultReader interface {
	GetGameResult(ctx context.Context, id string) (domain.GameResult, error)
	ListByQuiz(ctx context.Context, quizID string, limit int) ([]domain.GameResult, error)
}

// Handler serves the REST routes, the websocket endpoint and /metrics.
type Handler struct {
	service   *app.GameService
	results   ResultReader
	ws        *WSHandler
	publicURL string
}

// NewRouter wires every route. publicURL is the base of join links; when
// empty it is derived from the request.
func NewRouter(service *app.GameService, events EventSource, results ResultReader, publicURL string) http.Handler {
	h := &Handler{
		service:   service,
		results:   results,
		ws:        NewWSHandler(service, events),
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}

	mux := httprouter.New()
	mux.GET("/healthz", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	mux.POST("/rooms", h.openRoom)
	mux.GET("/rooms/:roomId/state", h.roomState)
	mux.GET("/rooms/:roomId/qr", h.roomQR)
	mux.POST("/rooms/:roomId/start", h.command("start"))
	mux.POST("/rooms/:roomId/next", h.command("next"))
	mux.POST("/rooms/:roomId/finish", h.command("finish"))
	mux.GET("/results/:resultId", h.result)
	mux.GET("/quizzes/:quizId/results", h.quizResults)
	mux.GET("/ws/:roomId", h.ws.ServeWS)
	return mux
}

type openRoomRequest struct {
	RoomID string `json:"roomId"`
	QuizID string `json:"quizId"`
	HostID string `json:"hostId"`
}

type openRoomResponse struct {
	State   domain.GameState `json:"state"`
	JoinURL string           `json:"joinUrl"`
}

func (h *Handler) openRoom(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req openRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuizID == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload{Code: "bad_request", Message: "quizId is required"})
		return
	}
	state, err := h.service.OpenRoom(r.Context(), req.RoomID, req.QuizID, req.HostID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, openRoomResponse{State: state, JoinURL: h.joinURL(r, state.RoomID)})
}

func (h *Handler) roomState(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	state, err := h.service.GameState(r.Context(), ps.ByName("roomId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// command handles host controls. The caller names itself with X-Host-ID.
func (h *Handler) command(name string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomId")
		host, err := h.service.RoomHost(roomID)
		if err != nil {
			writeError(w, err)
			return
		}
		if host != "" && r.Header.Get("X-Host-ID") != host {
			writeError(w, errNotHost)
			return
		}
		if err := control(r.Context(), h.service, roomID, name); err != nil {
			writeError(w, err)
			return
		}
		state, err := h.service.GameState(r.Context(), roomID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

// roomQR renders a PNG QR code of the room's join link.
func (h *Handler) roomQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomId")
	if _, err := h.service.GameState(r.Context(), roomID); err != nil {
		writeError(w, err)
		return
	}
	png, err := qrcode.Encode(h.joinURL(r, roomID), qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (h *Handler) result(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if h.results == nil {
		writeError(w, domain.ErrResultNotFound)
		return
	}
	result, err := h.results.GetGameResult(r.Context(), ps.ByName("resultId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// quizResults lists a quiz's finished games, newest first. ?limit caps the count.
func (h *Handler) quizResults(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorPayload{Code: "bad_request", Message: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}
	if h.results == nil {
		writeJSON(w, http.StatusOK, []domain.GameResult{})
		return
	}
	results, err := h.results.ListByQuiz(r.Context(), ps.ByName("quizId"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) joinURL(r *http.Request, roomID string) string {
	base := h.publicURL
	if base == "" {
		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/join/" + roomID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("http: %v", err)
	}
	writeJSON(w, status, errorPayload{Code: errorCode(err), Message: err.Error()})
}
