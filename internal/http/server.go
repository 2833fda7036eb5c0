package httpapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quillbox/quillbox/internal/config"
	"github.com/quillbox/quillbox/internal/gateway"
	"github.com/quillbox/quillbox/internal/ingest"
	"github.com/quillbox/quillbox/internal/model"
	"github.com/quillbox/quillbox/internal/rate"
	"github.com/quillbox/quillbox/internal/store"
	"github.com/quillbox/quillbox/internal/token"
	"github.com/quillbox/quillbox/internal/validate"

	_ "github.com/quillbox/quillbox/docs" // swagger docs

	"github.com/gosimple/slug"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// maxSubmissionBytes caps a whole multipart submission: six images of
// at most 1MB each plus text fields, with headroom for encoding.
const maxSubmissionBytes = 8 << 20

type Server struct {
	store    store.RecordStore
	pipeline *ingest.Pipeline
	issuer   *token.Issuer
	gateway  *gateway.Gateway
	limiter  rate.Limiter
	cfg      config.Config
}

func NewServer(recordStore store.RecordStore, pipeline *ingest.Pipeline, issuer *token.Issuer, gw *gateway.Gateway, limiter rate.Limiter, cfg config.Config) *Server {
	return &Server{
		store:    recordStore,
		pipeline: pipeline,
		issuer:   issuer,
		gateway:  gw,
		limiter:  limiter,
		cfg:      cfg,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		s.handleAPI(w, r)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/swagger/") {
		httpSwagger.WrapHandler.ServeHTTP(w, r)
		return
	}
	notFound(w)
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	segments := splitPath(path)

	switch {
	case len(segments) == 1 && segments[0] == "posts":
		if r.Method == http.MethodPost {
			s.handleSubmitPost(w, r)
			return
		}
		if r.Method == http.MethodGet {
			s.handleListPosts(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "posts":
		if r.Method == http.MethodGet {
			s.handleGetPost(w, r, segments[1])
			return
		}
	case len(segments) == 1 && segments[0] == "tokens":
		if r.Method == http.MethodPost {
			s.handleIssueToken(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "images":
		if r.Method == http.MethodGet {
			s.handleFetchImage(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "version":
		if r.Method == http.MethodGet {
			s.handleVersion(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "stats":
		if r.Method == http.MethodGet {
			s.handleGetStats(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "openapi.json":
		if r.Method == http.MethodGet {
			s.serveOpenAPIJSON(w, r)
			return
		}
	}

	notFound(w)
}

// postResponse is the wire form of a committed post. date_time is the
// caller's submission timestamp rendered as RFC3339 and title_slug is
// display formatting, both layered on top of the stored record.
type postResponse struct {
	ReferenceNumber  int64    `json:"reference_number"`
	Title            string   `json:"title"`
	TitleSlug        string   `json:"title_slug"`
	Description      string   `json:"description"`
	MainImage        string   `json:"main_image"`
	AdditionalImages []string `json:"additional_images"`
	DateTime         string   `json:"date_time"`
}

func toPostResponse(p model.Post) postResponse {
	extra := p.AdditionalImages
	if extra == nil {
		extra = []string{}
	}
	return postResponse{
		ReferenceNumber:  p.ReferenceNumber,
		Title:            p.Title,
		TitleSlug:        slug.Make(p.Title),
		Description:      p.Description,
		MainImage:        p.MainImage,
		AdditionalImages: extra,
		DateTime:         p.SubmittedAt.UTC().Format(time.RFC3339),
	}
}

// handleSubmitPost godoc
//
//	@Summary		Submit a post
//	@Description	Submit a new post with a main image and up to five additional images. The committed post carries its assigned reference number.
//	@Tags			Posts
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			title				formData	string	true	"Title, 5-50 alphanumeric/space characters"
//	@Param			description			formData	string	true	"Description, at most 500 characters"
//	@Param			date_time			formData	int		true	"Submission time, unix seconds, not before now"
//	@Param			main_image			formData	file	true	"Main image, at most 1MB"
//	@Param			additional_images	formData	file	false	"Up to five additional images, at most 1MB each"
//	@Success		200					{object}	postResponse
//	@Failure		400					{object}	map[string]string	"Validation error"
//	@Failure		429					{object}	map[string]string	"Rate limited"
//	@Failure		500					{object}	map[string]string	"Ingestion or store failure"
//	@Router			/api/posts [post]
func (s *Server) handleSubmitPost(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "submit", s.cfg.RateLimits.SubmitPerMinute) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSubmissionBytes)
	if err := r.ParseMultipartForm(maxSubmissionBytes); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid multipart form"))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	sub := ingest.Submission{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		SubmittedAt: parseUnixSeconds(r.FormValue("date_time")),
	}
	if files := r.MultipartForm.File["main_image"]; len(files) > 0 {
		up := uploadFromHeader(files[0])
		sub.MainImage = &up
	}
	for _, fh := range r.MultipartForm.File["additional_images"] {
		sub.AdditionalImages = append(sub.AdditionalImages, uploadFromHeader(fh))
	}

	post, err := s.pipeline.Ingest(r.Context(), sub)
	if err != nil {
		var verr *validate.Error
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr)
			return
		}
		if errors.Is(err, ingest.ErrStore) {
			writeError(w, http.StatusInternalServerError, errors.New("failed to store post"))
			return
		}
		// Staging failure: everything was rolled back; surface a
		// generic ingestion error.
		writeError(w, http.StatusInternalServerError, errors.New("failed to ingest post"))
		return
	}

	writeJSON(w, http.StatusOK, toPostResponse(post))
}

// handleListPosts godoc
//
//	@Summary		List posts
//	@Description	All committed posts in commit order, each with a formatted timestamp and a URL-safe title slug.
//	@Tags			Posts
//	@Produce		json
//	@Success		200	{object}	map[string][]postResponse
//	@Router			/api/posts [get]
func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.store.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]postResponse, 0, len(posts))
	for _, p := range posts {
		out = append(out, toPostResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": out})
}

// handleGetPost godoc
//
//	@Summary		Get a post
//	@Description	Fetch one committed post by its reference number.
//	@Tags			Posts
//	@Produce		json
//	@Param			ref	path		int	true	"Reference number"
//	@Success		200	{object}	postResponse
//	@Failure		404	{object}	map[string]string	"Unknown reference number"
//	@Router			/api/posts/{ref} [get]
func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request, refStr string) {
	ref, err := strconv.ParseInt(refStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid reference number"))
		return
	}
	post, err := s.store.GetByReference(r.Context(), ref)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(post))
}

// handleIssueToken godoc
//
//	@Summary		Request an image access token
//	@Description	Mint a short-lived token bound to exactly one image path. Present it to GET /api/images.
//	@Tags			Tokens
//	@Accept			json
//	@Produce		json
//	@Param			request	body		object{image_path=string}	true	"Image path to authorize"
//	@Success		200		{object}	map[string]string			"Token and expiry"
//	@Failure		400		{object}	map[string]string			"Missing image path"
//	@Failure		429		{object}	map[string]string			"Rate limited"
//	@Router			/api/tokens [post]
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "token", s.cfg.RateLimits.TokenPerMinute) {
		return
	}
	var req struct {
		ImagePath string `json:"image_path"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.ImagePath) == "" {
		writeError(w, http.StatusBadRequest, errors.New("image_path required"))
		return
	}

	serialized, claims := s.issuer.Issue(req.ImagePath, s.cfg.TokenTTL)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      serialized,
		"expires_at": claims.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// handleFetchImage godoc
//
//	@Summary		Fetch an image
//	@Description	Stream a stored image. Requires a token minted for exactly this path; any token failure is a uniform 401.
//	@Tags			Images
//	@Produce		octet-stream
//	@Param			path	query		string	true	"Image path"
//	@Param			token	query		string	true	"Capability token"
//	@Success		200		{file}		binary
//	@Failure		401		{object}	map[string]string	"Invalid token"
//	@Failure		404		{object}	map[string]string	"Unknown image"
//	@Router			/api/images [get]
func (s *Server) handleFetchImage(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "fetch", s.cfg.RateLimits.FetchPerMinute) {
		return
	}
	path := r.URL.Query().Get("path")
	tok := r.URL.Query().Get("token")
	if path == "" || tok == "" {
		writeError(w, http.StatusUnauthorized, gateway.ErrUnauthorized)
		return
	}

	rc, contentType, err := s.gateway.Fetch(path, tok)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		// Every token failure looks the same to the caller.
		writeError(w, http.StatusUnauthorized, gateway.ErrUnauthorized)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// handleVersion godoc
//
//	@Summary	Server version
//	@Tags		Meta
//	@Produce	json
//	@Success	200	{object}	map[string]string
//	@Router		/api/version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version": s.cfg.Version,
	})
}

// handleGetStats godoc
//
//	@Summary	Site statistics
//	@Tags		Meta
//	@Produce	json
//	@Success	200	{object}	map[string]int
//	@Router		/api/stats [get]
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetSiteStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"posts":  stats.Posts,
		"images": stats.Images,
	})
}

func (s *Server) serveOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write([]byte(doc))
}

func (s *Server) allowRateLimit(w http.ResponseWriter, r *http.Request, action string, limit int) bool {
	if limit <= 0 {
		return true
	}
	key := fmt.Sprintf("%s:ip:%s", action, s.clientIP(r))
	if ok, retry := s.limiter.Allow(key, limit, time.Minute); !ok {
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

func uploadFromHeader(fh *multipart.FileHeader) ingest.ImageUpload {
	contentType := fh.Header.Get("Content-Type")
	return ingest.ImageUpload{
		Filename:    fh.Filename,
		ContentType: contentType,
		SizeBytes:   fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// parseUnixSeconds returns the zero time for anything that is not an
// integer; the validator then rejects the submission.
func parseUnixSeconds(value string) time.Time {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0)
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

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
