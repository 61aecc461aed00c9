package httpapp

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quibble-app/quibble/internal/attach"
	"github.com/quibble-app/quibble/internal/cache"
	"github.com/quibble-app/quibble/internal/captcha"
	"github.com/quibble-app/quibble/internal/config"
	"github.com/quibble-app/quibble/internal/hub"
	"github.com/quibble-app/quibble/internal/pipeline"
	"github.com/quibble-app/quibble/internal/rate"
	"github.com/quibble-app/quibble/internal/store"
	"github.com/quibble-app/quibble/internal/tree"
)

type Server struct {
	store    store.Store
	pipeline *pipeline.Pipeline
	captcha  *captcha.Service
	trees    *tree.Materializer
	hub      *hub.Hub
	cache    *cache.Cache
	limiter  rate.Limiter
	cfg      config.Config
	log      *log.Logger
}

func NewServer(st store.Store, pl *pipeline.Pipeline, cap *captcha.Service, trees *tree.Materializer, h *hub.Hub, c *cache.Cache, limiter rate.Limiter, cfg config.Config, logger *log.Logger) *Server {
	return &Server{
		store:    st,
		pipeline: pl,
		captcha:  cap,
		trees:    trees,
		hub:      h,
		cache:    c,
		limiter:  limiter,
		cfg:      cfg,
		log:      logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ws" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleWS(w, r)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/api/") {
		s.handleAPI(w, r)
		return
	}
	notFound(w)
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	segments := splitPath(path)

	switch {
	case len(segments) == 1 && segments[0] == "comments":
		if r.Method == http.MethodPost {
			s.handleCreateComment(w, r)
			return
		}
		if r.Method == http.MethodGet {
			s.handleListComments(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "comments":
		if r.Method == http.MethodGet {
			s.handleGetComment(w, r, segments[1])
			return
		}
	case len(segments) == 1 && segments[0] == "captcha":
		if r.Method == http.MethodPost {
			s.handleCaptcha(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "stats":
		if r.Method == http.MethodGet {
			s.handleGetStats(w, r)
			return
		}
	}

	notFound(w)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	order := store.OrderOrDefault(r.URL.Query().Get("order"))
	page := parseIntDefault(r.URL.Query().Get("page"), 1)
	if page < 1 {
		page = 1
	}

	key := cache.Key(page, order)
	if payload, ok := s.cache.Get(key); ok {
		writeRawJSON(w, http.StatusOK, payload)
		return
	}

	roots, total, err := s.store.ListRoots(r.Context(), store.RootListOpts{
		Order:   order,
		Page:    page,
		PerPage: s.cfg.PageSize,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	nodes, err := s.trees.MaterializeAll(r.Context(), roots, order, s.cfg.MaxDepth)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"comments": nodes,
		"page":     page,
		"per_page": s.cfg.PageSize,
		"total":    total,
		"order":    order,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.cache.Set(key, payload, s.cfg.CacheTTL)
	writeRawJSON(w, http.StatusOK, payload)
}

func (s *Server) handleGetComment(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid comment id"))
		return
	}
	comment, err := s.store.GetComment(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	order := store.OrderOrDefault(r.URL.Query().Get("order"))
	node, err := s.trees.Materialize(r.Context(), comment, order, s.cfg.MaxDepth)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "comment", s.cfg.RateLimits.CommentPerMinute) {
		return
	}

	var req struct {
		Author struct {
			Name     string `json:"name"`
			Email    string `json:"email"`
			Homepage string `json:"homepage"`
		} `json:"author"`
		Text            string `json:"text"`
		ParentID        *int64 `json:"parent_id"`
		CaptchaKey      string `json:"captcha_key"`
		CaptchaResponse string `json:"captcha_response"`
		Attachment      *struct {
			Name string `json:"name"`
			Data string `json:"data"`
		} `json:"attachment"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	preq := pipeline.Request{
		AuthorName:      strings.TrimSpace(req.Author.Name),
		AuthorEmail:     strings.TrimSpace(req.Author.Email),
		HomepageURL:     strings.TrimSpace(req.Author.Homepage),
		Text:            req.Text,
		ParentID:        req.ParentID,
		CaptchaKey:      req.CaptchaKey,
		CaptchaResponse: req.CaptchaResponse,
	}
	if req.Attachment != nil {
		data, err := base64.StdEncoding.DecodeString(req.Attachment.Data)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("attachment data must be base64"))
			return
		}
		preq.Attachment = &pipeline.Attachment{Name: req.Attachment.Name, Data: data}
	}

	result, err := s.pipeline.Submit(r.Context(), preq)
	if err != nil {
		writeError(w, submitStatus(err), err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"comment": result.Comment,
		"job_id":  result.JobID,
	})
}

// submitStatus maps pipeline failures onto HTTP statuses. Fanout failures
// never show up here: by the time the pipeline returns, the write already
// succeeded or nothing was persisted at all.
func submitStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrParentNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrValidation),
		errors.Is(err, attach.ErrRejected),
		errors.Is(err, captcha.ErrChallengeNotFound),
		errors.Is(err, captcha.ErrChallengeMismatch),
		errors.Is(err, captcha.ErrChallengeExpired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCaptcha(w http.ResponseWriter, r *http.Request) {
	c, err := s.captcha.Issue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":        c.Key,
		"question":   c.Question,
		"expires_at": c.ExpiresAt,
	})
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetSiteStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) allowRateLimit(w http.ResponseWriter, r *http.Request, action string, limit int) bool {
	if limit <= 0 {
		return true
	}
	ipKey := fmt.Sprintf("%s:ip:%s", action, s.clientIP(r))
	if ok, retry := s.limiter.Allow(ipKey, limit, time.Minute); !ok {
		writeRateLimit(w, retry)
		return false
	}
	return true
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func readJSON(body io.ReadCloser, dest any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRawJSON(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeRateLimit(w http.ResponseWriter, retry time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate limit exceeded",
		"retry_after": int(retry.Seconds()),
	})
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, errors.New("not found"))
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return def
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
