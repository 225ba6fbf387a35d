// Package uploadclient talks to the recording upload API.
package uploadclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jagrut-bhole/podcast/internal/recording"
)

const defaultTimeout = 2 * time.Minute

const (
	pathInit     = "/api/upload-video/init"
	pathChunk    = "/api/upload-video/chunk"
	pathComplete = "/api/upload-video/complete"
	pathAbort    = "/api/upload-video/abort"
	pathRecover  = "/api/upload-video/recover"
	pathDownload = "/api/download-meeting"
)

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Client implements recording.Remote over HTTP with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// New returns a client for the server at baseURL.
func New(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger,
	}
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(h *http.Client) {
	if h != nil {
		c.http = h
	}
}

var _ recording.Remote = (*Client)(nil)

func (c *Client) InitUpload(ctx context.Context, meetingID string) (*recording.InitResult, error) {
	var out recording.InitResult
	if err := c.postJSON(ctx, pathInit, map[string]string{"meetingId": meetingID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UploadPart(ctx context.Context, uploadID, key string, partNumber int32, body []byte) (*recording.Receipt, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("uploadId", uploadID)
	_ = mw.WriteField("key", key)
	_ = mw.WriteField("partNumber", strconv.Itoa(int(partNumber)))
	fw, err := mw.CreateFormFile("chunk", fmt.Sprintf("part-%05d.webm", partNumber))
	if err != nil {
		return nil, fmt.Errorf("build chunk form: %w", err)
	}
	if _, err := fw.Write(body); err != nil {
		return nil, fmt.Errorf("build chunk form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build chunk form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, pathChunk, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out recording.Receipt
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out.PartNumber == 0 {
		out.PartNumber = partNumber
	}
	return &out, nil
}

func (c *Client) CompleteUpload(ctx context.Context, in recording.CompleteRequest) (*recording.CompleteResult, error) {
	var out recording.CompleteResult
	if err := c.postJSON(ctx, pathComplete, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AbortUpload(ctx context.Context, uploadID, key, meetingID string) error {
	body := map[string]string{"uploadId": uploadID, "key": key}
	if meetingID != "" {
		body["meetingId"] = meetingID
	}
	return c.postJSON(ctx, pathAbort, body, nil)
}

// DownloadURL returns a short-lived link to the finished recording of meetingID.
func (c *Client) DownloadURL(ctx context.Context, meetingID string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, pathDownload+"?meetingId="+url.QueryEscape(meetingID), nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Data struct {
			DownloadURL string `json:"downloadUrl"`
		} `json:"data"`
		DownloadURL string `json:"downloadUrl"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.DownloadURL != "" {
		return out.DownloadURL, nil
	}
	return out.Data.DownloadURL, nil
}

// RecoverResult is the answer to a recovery upload.
type RecoverResult struct {
	Key         string `json:"key"`
	DownloadURL string `json:"downloadUrl"`
}

// Recover streams a locally saved recording of meetingID to the server.
func (c *Client) Recover(ctx context.Context, meetingID, name string, r io.Reader) (*RecoverResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := mw.WriteField("meetingId", meetingID); err != nil {
				return err
			}
			fw, err := mw.CreateFormFile("file", name)
			if err != nil {
				return err
			}
			if _, err := io.Copy(fw, r); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, pathRecover, pr)
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	// Recovery files can be large; rely on ctx rather than the client timeout.
	h := *c.http
	h.Timeout = 0
	var out RecoverResult
	if err := c.doWith(&h, req, &out); err != nil {
		_ = pr.Close()
		return nil, err
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	return c.doWith(c.http, req, out)
}

func (c *Client) doWith(h *http.Client, req *http.Request, out interface{}) error {
	start := time.Now()
	resp, err := h.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("api call",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classify maps a failed response onto the recording error taxonomy: 401/403
// are authorization failures, other 4xx except 408 and 429 are rejections,
// and everything else stays a transient *StatusError.
func classify(code int, raw []byte) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(raw, &body)
	se := &StatusError{Code: code, Message: body.Error}

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &recording.AuthorizationError{Status: code, Err: se}
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return se
	case code >= 400 && code < 500:
		return &recording.RejectedError{Status: code, Err: se}
	default:
		return se
	}
}
