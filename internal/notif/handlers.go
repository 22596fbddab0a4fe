package notif

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"billingdesk/internal/common"
	"billingdesk/internal/config"
)

// NotificationService is what the HTTP layer needs from the service.
type NotificationService interface {
	Ingest(ctx context.Context, c Candidate, requestedBy string) (*UpsertResult, error)
	ActiveFeed(ctx context.Context, filter common.ListFilter) (*Feed, error)
	ListByKind(ctx context.Context, kind common.NotificationKind, limit int64) ([]*common.Notification, error)
	UnreadCount(ctx context.Context) (int64, error)
	MarkRead(ctx context.Context, id string) (*common.Notification, error)
	MarkAllRead(ctx context.Context) (int64, error)
	Resolve(ctx context.Context, id, note string) (*common.Notification, error)
	Delete(ctx context.Context, id string) error
	ClearResolved(ctx context.Context) (int64, error)
}

type Handler struct {
	service NotificationService
	tokens  *common.TokenManager
	auth    config.AuthConfig
	limiter *callerLimiter
	log     *zap.SugaredLogger
}

func NewHandler(cfg *config.Config, service *Service, tokens *common.TokenManager, log *zap.SugaredLogger) *Handler {
	return newHandler(cfg, service, tokens, log)
}

func newHandler(cfg *config.Config, service NotificationService, tokens *common.TokenManager, log *zap.SugaredLogger) *Handler {
	return &Handler{
		service: service,
		tokens:  tokens,
		auth:    cfg.Auth,
		limiter: newCallerLimiter(rate.Limit(cfg.Notification.IngestRate), cfg.Notification.IngestBurst),
		log:     log,
	}
}

// RegisterRoutes mounts the API under /api/v1. Reads are public, every
// mutation requires a bearer token.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", h.health).Methods(http.MethodGet)
	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)

	notifications := api.PathPrefix("/notifications").Subrouter()
	notifications.HandleFunc("", h.activeFeed).Methods(http.MethodGet)
	notifications.HandleFunc("/kind/{kind}", h.listByKind).Methods(http.MethodGet)
	notifications.HandleFunc("/unread-count", h.unreadCount).Methods(http.MethodGet)

	protected := api.PathPrefix("/notifications").Subrouter()
	protected.Use(common.AuthMiddleware(h.tokens))
	protected.HandleFunc("", h.ingest).Methods(http.MethodPost)
	protected.HandleFunc("/read-all", h.markAllRead).Methods(http.MethodPut)
	protected.HandleFunc("/{id}/read", h.markRead).Methods(http.MethodPut)
	protected.HandleFunc("/{id}/resolve", h.resolve).Methods(http.MethodPut)
	protected.HandleFunc("/resolved", h.clearResolved).Methods(http.MethodDelete)
	protected.HandleFunc("/{id}", h.delete).Methods(http.MethodDelete)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "billingdesk-notifications"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := common.ValidateUsername(req.Username); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := common.ValidatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.auth.AdminPasswordHash == "" ||
		!strings.EqualFold(strings.TrimSpace(req.Username), h.auth.AdminUsername) ||
		common.CheckPassword(req.Password, h.auth.AdminPasswordHash) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.tokens.GenerateToken(h.auth.AdminUsername, "admin")
	if err != nil {
		h.log.Errorw("failed to sign token", "error", err)
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) activeFeed(w http.ResponseWriter, r *http.Request) {
	filter := common.ListFilter{Limit: queryLimit(r)}
	if raw := r.URL.Query().Get("kind"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			kind, ok := common.ParseKind(part)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown kind "+strconv.Quote(part))
				return
			}
			filter.Kinds = append(filter.Kinds, kind)
		}
	}

	feed, err := h.service.ActiveFeed(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (h *Handler) listByKind(w http.ResponseWriter, r *http.Request) {
	kind, ok := common.ParseKind(mux.Vars(r)["kind"])
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown kind")
		return
	}
	list, err := h.service.ListByKind(r.Context(), kind, queryLimit(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.UnreadCount(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// ingestRequest is the wire shape of an externally submitted notification.
type ingestRequest struct {
	common.Notification
	IsRead         *bool  `json:"isRead"`
	IsResolved     *bool  `json:"isResolved"`
	ResetCreatedAt bool   `json:"resetCreatedAt"`
	RequestedBy    string `json:"requestedBy"`
}

func (req ingestRequest) candidate() Candidate {
	n := req.Notification
	// server owned fields
	n.ID = ""
	n.IdentityHash = ""
	n.IsRead = false
	n.IsResolved = false
	n.ResolvedAt = nil
	n.Source = ""
	return Candidate{
		Notification:   n,
		IsRead:         req.IsRead,
		IsResolved:     req.IsResolved,
		ResetCreatedAt: req.ResetCreatedAt,
	}
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	caller := callerKey(r)
	if !h.limiter.allow(caller) {
		h.log.Warnw("ingest rate limit exceeded", "caller", caller)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind != "" {
		if kind, ok := common.ParseKind(string(req.Kind)); ok {
			req.Kind = kind
		}
	}

	requestedBy := strings.TrimSpace(req.RequestedBy)
	if requestedBy == "" {
		requestedBy = caller
	}

	res, err := h.service.Ingest(r.Context(), req.candidate(), requestedBy)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if res.Action == ActionCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]interface{}{
		"action":       res.Action,
		"notification": res.Notification,
	})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.MarkRead(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *Handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.MarkAllRead(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": count})
}

type resolveRequest struct {
	ResolutionNote string `json:"resolutionNote"`
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	n, err := h.service.Resolve(r.Context(), mux.Vars(r)["id"], req.ResolutionNote)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearResolved(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.ClearResolved(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": count})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrNotFound):
		writeError(w, http.StatusNotFound, "notification not found")
	case errors.Is(err, common.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, common.ErrStoreUnavailable):
		h.log.Errorw("store unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		h.log.Errorw("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryLimit(r *http.Request) int64 {
	limit, err := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	if err != nil {
		return 0
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// callerKey prefers the token subject and falls back to the remote IP.
func callerKey(r *http.Request) string {
	if claims, ok := common.ClaimsFromContext(r.Context()); ok && claims.Username != "" {
		return claims.Username
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type callerLimiter struct {
	callers sync.Map
	rps     rate.Limit
	burst   int
}

func newCallerLimiter(rps rate.Limit, burst int) *callerLimiter {
	if rps <= 0 {
		rps = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &callerLimiter{rps: rps, burst: burst}
}

func (l *callerLimiter) allow(key string) bool {
	v, _ := l.callers.LoadOrStore(key, rate.NewLimiter(l.rps, l.burst))
	return v.(*rate.Limiter).Allow()
}
