// Package client provides a Go client for the Quillbox API.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Client is a Quillbox API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Post mirrors the server's wire format for a committed post.
type Post struct {
	ReferenceNumber  int64    `json:"reference_number"`
	Title            string   `json:"title"`
	TitleSlug        string   `json:"title_slug"`
	Description      string   `json:"description"`
	MainImage        string   `json:"main_image"`
	AdditionalImages []string `json:"additional_images"`
	DateTime         string   `json:"date_time"`
}

// Submission describes a post to submit. Image fields are local file
// paths; content types are inferred from the extensions.
type Submission struct {
	Title            string
	Description      string
	DateTime         time.Time
	MainImage        string
	AdditionalImages []string
}

// New creates a new Quillbox client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SubmitPost uploads a new post and returns the committed record.
func (c *Client) SubmitPost(sub Submission) (*Post, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("title", sub.Title); err != nil {
		return nil, err
	}
	if err := mw.WriteField("description", sub.Description); err != nil {
		return nil, err
	}
	if err := mw.WriteField("date_time", strconv.FormatInt(sub.DateTime.Unix(), 10)); err != nil {
		return nil, err
	}
	if sub.MainImage != "" {
		if err := attachFile(mw, "main_image", sub.MainImage); err != nil {
			return nil, err
		}
	}
	for _, path := range sub.AdditionalImages {
		if err := attachFile(mw, "additional_images", path); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Post(c.BaseURL+"/api/posts", mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var post Post
	if err := decodeResponse(resp, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// ListPosts fetches all committed posts in commit order.
func (c *Client) ListPosts() ([]Post, error) {
	resp, err := c.HTTPClient.Get(c.BaseURL + "/api/posts")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Posts []Post `json:"posts"`
	}
	if err := decodeResponse(resp, &result); err != nil {
		return nil, err
	}
	return result.Posts, nil
}

// GetPost fetches one post by reference number.
func (c *Client) GetPost(ref int64) (*Post, error) {
	resp, err := c.HTTPClient.Get(fmt.Sprintf("%s/api/posts/%d", c.BaseURL, ref))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var post Post
	if err := decodeResponse(resp, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// RequestToken mints an access token for one image path.
func (c *Client) RequestToken(imagePath string) (token, expiresAt string, err error) {
	body, _ := json.Marshal(map[string]string{"image_path": imagePath})
	resp, err := c.HTTPClient.Post(c.BaseURL+"/api/tokens", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	var result struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	if err := decodeResponse(resp, &result); err != nil {
		return "", "", err
	}
	return result.Token, result.ExpiresAt, nil
}

// FetchImage downloads one image using a previously minted token.
// The caller owns the returned reader.
func (c *Client) FetchImage(imagePath, token string) (io.ReadCloser, string, error) {
	q := url.Values{}
	q.Set("path", imagePath)
	q.Set("token", token)

	resp, err := c.HTTPClient.Get(c.BaseURL + "/api/images?" + q.Encode())
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, "", apiError(resp)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// Version reports the server version.
func (c *Client) Version() (string, error) {
	resp, err := c.HTTPClient.Get(c.BaseURL + "/api/version")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Version string `json:"version"`
	}
	if err := decodeResponse(resp, &result); err != nil {
		return "", err
	}
	return result.Version, nil
}

func attachFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func decodeResponse(resp *http.Response, dest any) error {
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var result struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &result) == nil && result.Error != "" {
		return errors.New(result.Error)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
