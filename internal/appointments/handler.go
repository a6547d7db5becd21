package appointments

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"pepperbot/internal/auth"
	"pepperbot/internal/middleware"

	log "github.com/sirupsen/logrus"
)

// Handler serves the appointment API queried by the receptionist robot.
//
//	GET    /appointments?start=YYYY-MM-DD&end=YYYY-MM-DD
//	GET    /appointments/all
//	POST   /appointments          (token when auth is enabled)
//	PUT    /appointments/{id}     (token when auth is enabled)
//	DELETE /appointments/{id}     (token when auth is enabled)
//	POST   /auth/login
//	GET    /health
type Handler struct {
	store         *Store
	authenticator *auth.Authenticator
	logger        *log.Entry
	mux           *http.ServeMux
}

// NewHandler builds the routes. Reads are public.
func NewHandler(store *Store, authenticator *auth.Authenticator) *Handler {
	h := &Handler{
		store:         store,
		authenticator: authenticator,
		logger:        log.WithField("component", "appointments"),
		mux:           http.NewServeMux(),
	}
	protect := middleware.RequireToken(authenticator)

	h.mux.HandleFunc("GET /health", h.health)
	h.mux.HandleFunc("GET /appointments", h.listRange)
	h.mux.HandleFunc("GET /appointments/all", h.listAll)
	h.mux.Handle("POST /appointments", protect(http.HandlerFunc(h.create)))
	h.mux.Handle("PUT /appointments/{id}", protect(http.HandlerFunc(h.update)))
	h.mux.Handle("DELETE /appointments/{id}", protect(http.HandlerFunc(h.delete)))
	h.mux.HandleFunc("POST /auth/login", h.login)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "auth_enabled": h.authenticator.IsEnabled()})
}

func (h *Handler) listRange(w http.ResponseWriter, r *http.Request) {
	start, end := r.URL.Query().Get("start"), r.URL.Query().Get("end")
	if !validDate(start) || !validDate(end) {
		writeError(w, http.StatusBadRequest, "Provide ?start=YYYY-MM-DD&end=YYYY-MM-DD")
		return
	}

	appointments, err := h.store.Between(r.Context(), start, end)
	if err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointments)
}

func (h *Handler) listAll(w http.ResponseWriter, r *http.Request) {
	appointments, err := h.store.All(r.Context())
	if err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointments)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var a Appointment
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := h.store.Create(r.Context(), a)
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.audit(r, "created", id)
	writeJSON(w, http.StatusCreated, map[string]any{"status": "created", "id": id})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var a Appointment
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.store.Update(r.Context(), id, a); err != nil {
		h.storeError(w, err)
		return
	}
	h.audit(r, "updated", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.storeError(w, err)
		return
	}
	h.audit(r, "deleted", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	token, expiresAt, err := h.authenticator.Authenticate(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrAuthDisabled):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.logger.WithField("username", req.Username).Warn("Failed login")
		writeError(w, http.StatusUnauthorized, err.Error())
	case err != nil:
		h.internalError(w, err)
	default:
		writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
	}
}

func (h *Handler) audit(r *http.Request, action string, id int64) {
	entry := h.logger.WithField("id", id)
	if claims := middleware.UserFromContext(r.Context()); claims != nil {
		entry = entry.WithField("user", claims.Username)
	}
	entry.Infof("Appointment %s", action)
}

func (h *Handler) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.internalError(w, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	h.logger.WithError(err).Error("Request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return 0, false
	}
	return id, true
}

func validDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
