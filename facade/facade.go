// Package facade exposes the token-gated HTTP API over the gateway core.
//
// Public endpoints read session state only; protected endpoints run the
// token check first and translate a validated request into exactly one
// provider call or one session mutation. Handlers never hold the provider
// offline: when the session is not authenticated, actions fail fast without
// touching the provider.
package facade

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sintral/wagate/gateway"
	"github.com/sintral/wagate/provider"
	"github.com/sintral/wagate/safeio"
	"github.com/sintral/wagate/shield"
)

const defaultFetchTimeout = 30 * time.Second

// Server holds the facade's collaborators. All shared state is owned
// elsewhere (session, buffer, relay); the server only reads it or forwards
// actions. Handlers log through the per-request logger that shield.TraceID
// injects into the context.
type Server struct {
	session  *gateway.Session
	buffer   *gateway.Buffer
	relay    *gateway.Relay
	provider provider.Provider
	tokens   *TokenSet
	audit    gateway.Auditor

	fetch       *http.Client
	maxMedia    int64
	validateURL func(string) error
}

// Option configures a Server.
type Option func(*Server)

// WithAudit records send actions to an audit log.
func WithAudit(a gateway.Auditor) Option {
	return func(s *Server) { s.audit = a }
}

// WithMediaLimit caps the size of fetched media payloads.
func WithMediaLimit(maxBytes int64) Option {
	return func(s *Server) { s.maxMedia = maxBytes }
}

// WithFetchClient replaces the HTTP client used for media downloads.
func WithFetchClient(c *http.Client) Option {
	return func(s *Server) { s.fetch = c }
}

// WithURLValidator replaces the media URL safety check. Pass nil to disable
// it (tests fetch from loopback httptest servers).
func WithURLValidator(validate func(string) error) Option {
	return func(s *Server) { s.validateURL = validate }
}

// New creates the facade server.
func New(session *gateway.Session, buffer *gateway.Buffer, relay *gateway.Relay, prov provider.Provider, tokens *TokenSet, opts ...Option) *Server {
	s := &Server{
		session:     session,
		buffer:      buffer,
		relay:       relay,
		provider:    prov,
		tokens:      tokens,
		fetch:       &http.Client{Timeout: defaultFetchTimeout},
		maxMedia:    safeio.MaxFetchBody,
		validateURL: safeio.ValidateURL,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router returns the API routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Public: token validation and session state reads.
	r.Post("/api/validate-token", s.handleValidateToken)
	r.Get("/api/qr", s.handleQR)
	r.Get("/api/status", s.handleStatus)

	// Protected: actions and message reads.
	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)

		r.Post("/api/reconnect", s.handleReconnect)
		r.Post("/api/message", s.handleSendMessage)
		r.Post("/api/media", s.handleSendMedia)
		r.Post("/api/webhook", s.handleSetWebhook)
		r.Get("/api/messages", s.handleMessages)
	})

	return r
}

func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	// Any body without a usable token is simply an invalid token, never a
	// malformed request: the endpoint answers the yes/no question only.
	var req struct {
		Token string `json:"token"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": s.tokens.Valid(req.Token)})
}

func (s *Server) handleQR(w http.ResponseWriter, _ *http.Request) {
	if qr := s.session.PairingArtifact(); qr != "" {
		writeJSON(w, http.StatusOK, map[string]string{"qr": qr, "status": "scan"})
		return
	}
	if s.session.Status() == gateway.StatusAuthenticated {
		writeJSON(w, http.StatusOK, map[string]string{"status": "authenticated"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loading"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.session.Status()
	var qr any
	if a := s.session.PairingArtifact(); a != "" {
		qr = a
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"isReady": st == gateway.StatusAuthenticated,
		"qrCode":  qr,
		"status":  string(st),
	})
}

func (s *Server) handleReconnect(w http.ResponseWriter, _ *http.Request) {
	s.relay.RequestReinit()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reconnecting"})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Number  string `json:"number"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Number == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "number and message are required"})
		return
	}
	if !s.requireReady(w) {
		return
	}

	if err := s.provider.SendText(r.Context(), req.Number, req.Message); err != nil {
		shield.GetLogger(r.Context()).Error("send message failed", "error", err)
		s.record(r, "send_message", req.Number, err.Error(), false)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.record(r, "send_message", req.Number, "", true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "message sent"})
}

func (s *Server) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Number   string `json:"number"`
		Caption  string `json:"caption"`
		MediaURL string `json:"mediaUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Number == "" || req.MediaURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "number and mediaUrl are required"})
		return
	}
	if !s.requireReady(w) {
		return
	}

	if s.validateURL != nil {
		if err := s.validateURL(req.MediaURL); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	data, mimeType, err := s.fetchMedia(r, req.MediaURL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.provider.SendMedia(r.Context(), req.Number, data, mimeType, req.Caption); err != nil {
		shield.GetLogger(r.Context()).Error("send media failed", "error", err, "mime", mimeType)
		s.record(r, "send_media", req.Number, err.Error(), false)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.record(r, "send_media", req.Number, mimeType, true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "media sent"})
}

func (s *Server) handleSetWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}

	s.session.SetWebhookURL(req.URL)
	shield.GetLogger(r.Context()).Info("webhook registered", "url", req.URL)
	writeJSON(w, http.StatusOK, map[string]string{"status": "webhook registered"})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	writeJSON(w, http.StatusOK, s.buffer.Snapshot(limit))
}

// requireReady fails the request fast when the session is not authenticated,
// before any provider call is attempted.
func (s *Server) requireReady(w http.ResponseWriter) bool {
	if st := s.session.Status(); st != gateway.StatusAuthenticated {
		writeError(w, http.StatusBadRequest, &gateway.ErrNotReady{Status: st})
		return false
	}
	return true
}

// fetchMedia downloads the payload behind a media URL with a bounded read
// and returns it with its MIME type (sniffed when the server sends none).
func (s *Server) fetchMedia(r *http.Request, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	resp, err := s.fetch.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("media fetch returned %d", resp.StatusCode)
	}
	data, err := safeio.LimitedReadAll(resp.Body, s.maxMedia)
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// record writes an audit row for a send action, tagged with the request's
// trace ID so audit rows can be correlated with the request log.
func (s *Server) record(r *http.Request, eventType, entity, detail string, success bool) {
	if s.audit == nil {
		return
	}
	if tid := shield.GetTraceID(r.Context()); tid != "" {
		if detail == "" {
			detail = "trace " + tid
		} else {
			detail += " (trace " + tid + ")"
		}
	}
	s.audit.Record(r.Context(), eventType, entity, detail, success)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
