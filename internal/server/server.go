package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"flavorsnap/internal/actortoken"
	"flavorsnap/internal/app"
	"flavorsnap/internal/ratelimit"
	"flavorsnap/internal/util"
	"flavorsnap/pkg/domain"
	"flavorsnap/pkg/query"
)

const (
	// defaultMinVotesPopular applies when config leaves the popular
	// threshold unset.
	defaultMinVotesPopular = 10
	maxImagesPerSubmission = 10
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App               *app.App
	Tokens            *actortoken.Manager
	VoteLimiter       *ratelimit.FixedWindowLimiter
	PredictLimiter    *ratelimit.FixedWindowLimiter
	TrustedProxies    *util.TrustedProxies
	MinVotesPopular   int
	MaxUploadBytes    int64
	AllowedExtensions []string
}

// Server exposes the category pipeline and prediction history over HTTP.
type Server struct {
	app             *app.App
	tokens          *actortoken.Manager
	voteLimiter     *ratelimit.FixedWindowLimiter
	predictLimiter  *ratelimit.FixedWindowLimiter
	trusted         *util.TrustedProxies
	mux             *http.ServeMux
	minVotesPopular int
	maxUploadBytes  int64
	allowedExts     map[string]struct{}
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires an app")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	minVotesPopular := cfg.MinVotesPopular
	if minVotesPopular <= 0 {
		minVotesPopular = defaultMinVotesPopular
	}
	exts := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}
	if len(exts) == 0 {
		for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp"} {
			exts[ext] = struct{}{}
		}
	}
	s := &Server{
		app:             cfg.App,
		tokens:          cfg.Tokens,
		voteLimiter:     cfg.VoteLimiter,
		predictLimiter:  cfg.PredictLimiter,
		trusted:         cfg.TrustedProxies,
		mux:             http.NewServeMux(),
		minVotesPopular: minVotesPopular,
		maxUploadBytes:  maxUploadBytes,
		allowedExts:     exts,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("flavorsnap", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/categories", s.handleCategories)
	s.mux.HandleFunc("/categories/", s.handleCategoryPath)
	s.mux.HandleFunc("/predictions", s.handleListPredictions)
	s.mux.HandleFunc("/predict", s.handlePredict)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	classifierStatus := "ok"
	if !s.app.ClassifierHealthy(r.Context()) {
		status = "degraded"
		classifierStatus = "unreachable"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     status,
		"classifier": classifierStatus,
	})
}

// GET /categories
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	page, err := s.app.ListCategories(q.Get("status"), intParam(q.Get("limit"), 0), intParam(q.Get("offset"), 0))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Dispatches /categories/submit, /categories/popular, /categories/stats,
// /categories/training/..., /categories/{id} and /categories/{id}/{action}.
func (s *Server) handleCategoryPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/categories/")
	switch rest {
	case "submit":
		s.handleSubmit(w, r)
		return
	case "popular":
		s.handlePopular(w, r)
		return
	case "stats":
		s.handleStats(w, r)
		return
	case "training/queue":
		s.withRole(actortoken.RoleWorker, s.handleTrainingQueue)(w, r)
		return
	}
	if jobID, ok := trainingStatusPath(rest); ok {
		s.withRole(actortoken.RoleWorker, func(w http.ResponseWriter, r *http.Request) {
			s.handleTrainingStatus(w, r, jobID)
		})(w, r)
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w)
		return
	}
	if len(parts) == 1 {
		s.handleGetCategory(w, r, id)
		return
	}
	switch parts[1] {
	case "vote":
		s.handleVote(w, r, id)
	case "moderate":
		s.withRole(actortoken.RoleModerator, func(w http.ResponseWriter, r *http.Request) {
			s.handleModerate(w, r, id)
		})(w, r)
	default:
		notFound(w)
	}
}

// POST /categories/submit
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.KindValidation), "invalid form data")
		return
	}
	var files []io.Closer
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	var uploads []app.ImageUpload
	if r.MultipartForm != nil {
		headers := r.MultipartForm.File["images"]
		if len(headers) > maxImagesPerSubmission {
			writeError(w, http.StatusBadRequest, string(domain.KindValidation), "too many images")
			return
		}
		for _, header := range headers {
			ext := strings.ToLower(filepath.Ext(header.Filename))
			if _, ok := s.allowedExts[ext]; !ok {
				writeError(w, http.StatusBadRequest, string(domain.KindValidation), "unsupported image type "+ext)
				return
			}
			file, err := header.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, string(domain.KindValidation), "unreadable image upload")
				return
			}
			files = append(files, file)
			uploads = append(uploads, app.ImageUpload{
				Filename: header.Filename,
				Reader:   file,
				Size:     header.Size,
			})
		}
	}
	submission, err := s.app.SubmitCategory(
		r.Context(),
		r.FormValue("name"),
		r.FormValue("description"),
		r.FormValue("submitted_by"),
		uploads,
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, submission)
}

// categoryResponse is a submission plus pre-signed links for its stored
// image keys.
type categoryResponse struct {
	domain.CategorySubmission
	ImageURLs []string `json:"imageUrls"`
}

// GET /categories/{id}
func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	c, err := s.app.GetCategory(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	urls, err := s.app.ImageURLs(r.Context(), c.Images)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, categoryResponse{CategorySubmission: c, ImageURLs: urls})
}

type voteRequest struct {
	UserID   string `json:"user_id"`
	VoteType string `json:"vote_type"`
}

// POST /categories/{id}/vote
func (s *Server) handleVote(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.voteLimiter != nil && !s.voteLimiter.Allow("vote:"+util.ClientIP(r, s.trusted)) {
		tooManyRequests(w)
		return
	}
	var req voteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.KindValidation), "invalid JSON body")
		return
	}
	c, err := s.app.CastVote(id, req.UserID, req.VoteType)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type moderateRequest struct {
	ModeratorID string `json:"moderator_id"`
	Action      string `json:"action"`
	Notes       string `json:"notes"`
}

// POST /categories/{id}/moderate
func (s *Server) handleModerate(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req moderateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.KindValidation), "invalid JSON body")
		return
	}
	c, err := s.app.Moderate(id, req.ModeratorID, req.Action, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GET /categories/popular
func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	items, err := s.app.ListPopular(intParam(q.Get("min_votes"), s.minVotesPopular), intParam(q.Get("limit"), 0))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// GET /categories/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.Stats()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// queueItemResponse is a queue entry plus pre-signed links to the example
// images the training worker will fetch.
type queueItemResponse struct {
	domain.TrainingQueueItem
	ImageURLs []string `json:"imageUrls"`
}

// GET /categories/training/queue
func (s *Server) handleTrainingQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.ListTrainingQueue()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]queueItemResponse, 0, len(items))
	for _, item := range items {
		urls, err := s.app.ImageURLs(r.Context(), item.Images)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out = append(out, queueItemResponse{TrainingQueueItem: item, ImageURLs: urls})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": out,
		"count": len(out),
	})
}

type trainingStatusRequest struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// PUT /categories/training/{id}/status
func (s *Server) handleTrainingStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req trainingStatusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.KindValidation), "invalid JSON body")
		return
	}
	job, err := s.app.UpdateTrainingStatus(jobID, req.Status, req.ErrorMessage)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GET /predictions
func (s *Server) handleListPredictions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	page, err := s.app.ListPredictions(predictionParams(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// POST /predict
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.predictLimiter != nil && !s.predictLimiter.Allow("predict:"+util.ClientIP(r, s.trusted)) {
		tooManyRequests(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.KindValidation), "invalid form data")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, string(domain.KindValidation), "image is required (field: image)")
		return
	}
	defer file.Close()
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := s.allowedExts[ext]; !ok {
		writeError(w, http.StatusBadRequest, string(domain.KindValidation), "unsupported image type "+ext)
		return
	}
	prediction, err := s.app.Classify(r.Context(), header.Filename, file, header.Size, util.RequestIDFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prediction)
}

func (s *Server) withRole(role actortoken.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.tokens == nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "actor auth not configured")
			return
		}
		token, ok := actortoken.BearerToken(r)
		if !ok {
			unauthorized(w)
			return
		}
		if _, err := s.tokens.Verify(token, role); err != nil {
			unauthorized(w)
			return
		}
		next(w, r)
	}
}

// trainingStatusPath matches "training/{id}/status".
func trainingStatusPath(rest string) (string, bool) {
	parts := strings.Split(rest, "/")
	if len(parts) == 3 && parts[0] == "training" && parts[1] != "" && parts[2] == "status" {
		return parts[1], true
	}
	return "", false
}

func predictionParams(r *http.Request) query.Params {
	q := r.URL.Query()
	p := query.Params{
		SortBy: q.Get("sort_by"),
		Sort:   query.Direction(strings.ToLower(q.Get("sort"))),
		Page:   intParam(q.Get("page"), 0),
		Limit:  intParam(q.Get("limit"), 0),
		Cursor: q.Get("cursor"),
	}
	if labels := splitCSV(q.Get("label")); len(labels) > 0 {
		p.Filters = append(p.Filters, query.Filter{Field: "label", In: labels})
	}
	confidence := query.Filter{Field: "confidence"}
	if v, err := strconv.ParseFloat(q.Get("min_confidence"), 64); err == nil {
		confidence.Min = &v
	}
	if v, err := strconv.ParseFloat(q.Get("max_confidence"), 64); err == nil {
		confidence.Max = &v
	}
	if confidence.Min != nil || confidence.Max != nil {
		p.Filters = append(p.Filters, confidence)
	}
	if from, to := q.Get("from"), q.Get("to"); from != "" || to != "" {
		p.Filters = append(p.Filters, query.Filter{Field: "createdAt", From: from, To: to})
	}
	return p
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, string(domain.KindNotFound), "not found")
}

func unauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
}

func tooManyRequests(w http.ResponseWriter) {
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}

// writeDomainError maps an error kind to its HTTP status. Storage causes
// stay in logs; their text is never echoed to the client.
func writeDomainError(w http.ResponseWriter, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	status := http.StatusInternalServerError
	switch derr.Kind {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindVotingClosed, domain.KindInvalidTransition:
		status = http.StatusConflict
	case domain.KindStorage:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, string(derr.Kind), derr.Message)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}
