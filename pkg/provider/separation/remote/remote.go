// Package remote provides an HTTP-backed vocal-isolation provider.
//
// It talks to a separation server (for example a Demucs wrapper) exposing
// POST /separate. The song mix is uploaded as multipart/form-data in the
// "file" field; the server answers with JSON of one of two shapes:
//
//	{"status": "ok", "vocals": "<base64 WAV>"}
//	{"status": "error", "reason": "..."}
//
// Usage:
//
//	p, err := remote.New("http://demucs:9000",
//	    remote.WithAPIKey(key),
//	    remote.WithModel("htdemucs"),
//	)
//	vocals, err := separation.Run(ctx, p, songID, mix)
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/singalong/pkg/provider/separation"
)

const (
	defaultTimeout = 10 * time.Minute

	// maxResponseBytes bounds the JSON body read from the server. A base64
	// vocal stem of a long song comfortably fits.
	maxResponseBytes = 1 << 30
)

// Compile-time assertion that Provider implements separation.Provider.
var _ separation.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithAPIKey sets a bearer token sent in the Authorization header.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithModel sets the separation model forwarded to the server (e.g.,
// "htdemucs"). When empty the server default is used.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithTimeout sets the HTTP client timeout. Defaults to 10 minutes since
// isolating a whole song is slow.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider is a [separation.Provider] backed by a remote HTTP server.
type Provider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// New creates a Provider for the server at baseURL (e.g.,
// "http://localhost:9000"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("remote: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// response is the wire shape of a /separate reply.
type response struct {
	Status string `json:"status"`
	Vocals string `json:"vocals"`
	Reason string `json:"reason"`
}

// Separate uploads audio and returns the server's tagged verdict.
func (p *Provider) Separate(ctx context.Context, songID string, audio []byte) (separation.Result, error) {
	if len(audio) == 0 {
		return nil, errors.New("remote: audio must not be empty")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", songID+".audio")
	if err != nil {
		return nil, fmt.Errorf("remote: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, fmt.Errorf("remote: write audio: %w", err)
	}
	if err := mw.WriteField("song_id", songID); err != nil {
		return nil, fmt.Errorf("remote: write song_id field: %w", err)
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return nil, fmt.Errorf("remote: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("remote: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/separate", &body)
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("remote: read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 256)}
	}

	return decode(data)
}

// decode maps a response body onto the tagged result.
func decode(data []byte) (separation.Result, error) {
	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("remote: parse JSON response: %w", err)
	}
	switch r.Status {
	case "ok":
		vocals, err := base64.StdEncoding.DecodeString(r.Vocals)
		if err != nil {
			return nil, fmt.Errorf("remote: decode vocals: %w", err)
		}
		return separation.Ok{Vocals: vocals}, nil
	case "error":
		return separation.Err{Reason: r.Reason}, nil
	default:
		return nil, fmt.Errorf("remote: unknown response status %q", r.Status)
	}
}

// StatusError is returned for non-2xx replies.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote: server returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("remote: server returned HTTP %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth another attempt: server
// errors, timeouts, and throttling.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
