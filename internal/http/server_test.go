package httpapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/quillbox/quillbox/internal/blob"
	"github.com/quillbox/quillbox/internal/config"
	"github.com/quillbox/quillbox/internal/gateway"
	"github.com/quillbox/quillbox/internal/ingest"
	"github.com/quillbox/quillbox/internal/store/sqlite"
	"github.com/quillbox/quillbox/internal/token"
	"github.com/quillbox/quillbox/internal/validate"
)

type allowAllLimiter struct{}

func (a allowAllLimiter) Allow(key string, limit int, window time.Duration) (bool, time.Duration) {
	return true, 0
}

type deny struct{}

func (d deny) Allow(key string, limit int, window time.Duration) (bool, time.Duration) {
	return false, 30 * time.Second
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	st, err := sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	blobs, err := blob.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}

	secret := []byte("test-secret")
	cfg := config.Config{
		TokenSecret: "test-secret",
		TokenTTL:    5 * time.Minute,
		Version:     "test",
		RateLimits:  config.RateLimits{SubmitPerMinute: 100, TokenPerMinute: 100, FetchPerMinute: 100},
	}

	pipeline := ingest.NewPipeline(validate.NewPolicy(nil), blobs, st)
	issuer := token.NewIssuer(secret, nil)
	gw := gateway.New(token.NewVerifier(secret, nil), blobs)

	return NewServer(st, pipeline, issuer, gw, allowAllLimiter{}, cfg)
}

func buildSubmission(t *testing.T, title, description string, dateTime time.Time, images int) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("title", title)
	mw.WriteField("description", description)
	mw.WriteField("date_time", fmt.Sprintf("%d", dateTime.Unix()))

	writeImage := func(field, name string) {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
		header.Set("Content-Type", "image/jpeg")
		part, err := mw.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		part.Write([]byte("jpeg bytes for " + name))
	}

	writeImage("main_image", "main.jpg")
	for i := 0; i < images; i++ {
		writeImage("additional_images", fmt.Sprintf("extra%d.jpg", i))
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func submitPost(t *testing.T, server *Server, title string) postResponse {
	t.Helper()

	body, contentType := buildSubmission(t, title, "a description", time.Now().Add(time.Minute), 2)
	req := httptest.NewRequest(http.MethodPost, "/api/posts", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var post postResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &post); err != nil {
		t.Fatalf("json parse: %v", err)
	}
	return post
}

func TestSubmitAndListPosts(t *testing.T) {
	server := newTestServer(t)

	first := submitPost(t, server, "First post title")
	if first.ReferenceNumber != 1 {
		t.Fatalf("expected reference number 1, got %d", first.ReferenceNumber)
	}
	if first.TitleSlug != "first-post-title" {
		t.Fatalf("unexpected slug %q", first.TitleSlug)
	}
	if !strings.HasPrefix(first.MainImage, "img-") {
		t.Fatalf("unexpected main image handle %q", first.MainImage)
	}
	if len(first.AdditionalImages) != 2 {
		t.Fatalf("expected 2 additional images, got %d", len(first.AdditionalImages))
	}
	if _, err := time.Parse(time.RFC3339, first.DateTime); err != nil {
		t.Fatalf("date_time not RFC3339: %v", err)
	}

	second := submitPost(t, server, "Second post title")
	if second.ReferenceNumber != 2 {
		t.Fatalf("expected reference number 2, got %d", second.ReferenceNumber)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.Code)
	}
	var listing struct {
		Posts []postResponse `json:"posts"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &listing); err != nil {
		t.Fatalf("json parse: %v", err)
	}
	if len(listing.Posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(listing.Posts))
	}
	if listing.Posts[0].ReferenceNumber != 1 || listing.Posts[1].ReferenceNumber != 2 {
		t.Fatalf("posts out of order: %+v", listing.Posts)
	}
}

func TestSubmitRejectsInvalidTitle(t *testing.T) {
	server := newTestServer(t)

	body, contentType := buildSubmission(t, "Bad!", "a description", time.Now().Add(time.Minute), 0)
	req := httptest.NewRequest(http.MethodPost, "/api/posts", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("json parse: %v", err)
	}
	if !strings.Contains(payload["error"], "Title is required") {
		t.Fatalf("unexpected error message %q", payload["error"])
	}
}

func TestSubmitRejectsPastTimestamp(t *testing.T) {
	server := newTestServer(t)

	body, contentType := buildSubmission(t, "A valid title", "a description", time.Now().Add(-time.Hour), 0)
	req := httptest.NewRequest(http.MethodPost, "/api/posts", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "Invalid date and time") {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestGetPostByReference(t *testing.T) {
	server := newTestServer(t)
	created := submitPost(t, server, "A lookup target")

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/posts/%d", created.ReferenceNumber), nil)
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var post postResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &post); err != nil {
		t.Fatalf("json parse: %v", err)
	}
	if post.Title != "A lookup target" {
		t.Fatalf("unexpected title %q", post.Title)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/posts/999", nil)
	resp = httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown reference, got %d", resp.Code)
	}
}

func TestTokenFlow(t *testing.T) {
	server := newTestServer(t)
	created := submitPost(t, server, "A post with image")

	tokenBody, _ := json.Marshal(map[string]string{"image_path": created.MainImage})
	req := httptest.NewRequest(http.MethodPost, "/api/tokens", bytes.NewReader(tokenBody))
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("token: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var minted struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &minted); err != nil {
		t.Fatalf("json parse: %v", err)
	}
	if minted.Token == "" {
		t.Fatal("expected a token")
	}
	if _, err := time.Parse(time.RFC3339, minted.ExpiresAt); err != nil {
		t.Fatalf("expires_at not RFC3339: %v", err)
	}

	// Valid token streams the image.
	req = httptest.NewRequest(http.MethodGet, "/api/images?path="+created.MainImage+"&token="+minted.Token, nil)
	resp = httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("fetch: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %q", got)
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "jpeg bytes") {
		t.Fatalf("unexpected image body %q", data)
	}
}

func TestFetchImageRejectsBadTokens(t *testing.T) {
	server := newTestServer(t)
	created := submitPost(t, server, "A guarded image")

	tokenBody, _ := json.Marshal(map[string]string{"image_path": created.MainImage})
	req := httptest.NewRequest(http.MethodPost, "/api/tokens", bytes.NewReader(tokenBody))
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	var minted struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &minted); err != nil {
		t.Fatalf("json parse: %v", err)
	}

	cases := []struct {
		name string
		url  string
	}{
		{"no token", "/api/images?path=" + created.MainImage},
		{"garbage token", "/api/images?path=" + created.MainImage + "&token=abc.def"},
		{"token for other path", "/api/images?path=" + created.AdditionalImages[0] + "&token=" + minted.Token},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.url, nil)
		resp := httptest.NewRecorder()
		server.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", tc.name, resp.Code)
		}
		var payload map[string]string
		if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
			t.Fatalf("%s: json parse: %v", tc.name, err)
		}
		if payload["error"] != "invalid token" {
			t.Fatalf("%s: expected uniform error, got %q", tc.name, payload["error"])
		}
	}
}

func TestVersionAndStats(t *testing.T) {
	server := newTestServer(t)
	submitPost(t, server, "Stats post title")

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("version: expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"version":"test"`) {
		t.Fatalf("unexpected version body %s", resp.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	resp = httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", resp.Code)
	}
	var stats map[string]int64
	if err := json.Unmarshal(resp.Body.Bytes(), &stats); err != nil {
		t.Fatalf("json parse: %v", err)
	}
	if stats["posts"] != 1 || stats["images"] != 3 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestRateLimitedSubmit(t *testing.T) {
	server := newTestServer(t)
	server.limiter = deny{}

	body, contentType := buildSubmission(t, "A valid title", "a description", time.Now().Add(time.Minute), 0)
	req := httptest.NewRequest(http.MethodPost, "/api/posts", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)

	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") != "30" {
		t.Fatalf("expected Retry-After 30, got %q", resp.Header().Get("Retry-After"))
	}
}

func TestUnknownRoutes(t *testing.T) {
	server := newTestServer(t)

	for _, path := range []string{"/nope", "/api/nope", "/api/posts/1/extra"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		server.ServeHTTP(resp, req)
		if resp.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.Code)
		}
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/posts", nil)
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unsupported method, got %d", resp.Code)
	}
}

func TestOpenAPIJSON(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/openapi.json", nil)
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &doc); err != nil {
		t.Fatalf("openapi doc not valid JSON: %v", err)
	}
	if doc["swagger"] != "2.0" {
		t.Fatalf("unexpected swagger version %v", doc["swagger"])
	}
}
