package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// Header names understood by the backend.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderRev            = "X-Entity-Rev"
)

// APIPrefix is the path prefix of every entity route.
const APIPrefix = "/api/v1"

// CollectionPath returns the route of an entity kind's collection, e.g.
// "/api/v1/calendar_events".
func CollectionPath(kind ir.EntityKind) string {
	return APIPrefix + "/" + string(kind) + "s"
}

// HTTPClient talks to the backend's REST API.
//
//	POST   /api/v1/{kind}s        create, 201 {"id", "synced_at"}
//	PUT    /api/v1/{kind}s/{id}   update, 200 {"id", "synced_at"}
//	DELETE /api/v1/{kind}s/{id}   delete, 204 (404 counts as deleted)
//
// Bodies are canonical JSON of the entity payload.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.httpClient = c }
}

// WithToken sends a bearer token with every request.
func WithToken(token string) HTTPOption {
	return func(h *HTTPClient) { h.token = token }
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the backend at baseURL.
//
// The engine bounds every call with its own timeout, so the default
// http.Client only carries a generous safety timeout.
func NewHTTPClient(baseURL string, opts ...HTTPOption) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote url %q: scheme must be http or https", baseURL)
	}
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *HTTPClient) Create(ctx context.Context, req Request) (Response, error) {
	return c.send(ctx, http.MethodPost, CollectionPath(req.Ref.Kind), req)
}

func (c *HTTPClient) Update(ctx context.Context, req Request) (Response, error) {
	return c.send(ctx, http.MethodPut, CollectionPath(req.Ref.Kind)+"/"+url.PathEscape(req.Ref.ID), req)
}

func (c *HTTPClient) Delete(ctx context.Context, req Request) error {
	_, err := c.send(ctx, http.MethodDelete, CollectionPath(req.Ref.Kind)+"/"+url.PathEscape(req.Ref.ID), req)
	return err
}

func (c *HTTPClient) send(ctx context.Context, method, path string, req Request) (Response, error) {
	var body io.Reader
	if req.Payload != nil {
		data, err := ir.MarshalCanonical(req.Payload)
		if err != nil {
			return Response{}, Rejected(req.Op, req.Ref, "encode payload: %v", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return Response{}, Rejected(req.Op, req.Ref, "build request: %v", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(HeaderIdempotencyKey, req.IdempotencyKey)
	}
	httpReq.Header.Set(HeaderRev, strconv.FormatInt(req.Rev, 10))
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, Classify(req.Op, req.Ref, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, Classify(req.Op, req.Ref, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && req.Op == OpDelete:
		return Response{ID: req.Ref.ID}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	default:
		return Response{}, statusError(req, resp.StatusCode, respBody)
	}

	var out Response
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			return Response{}, Rejected(req.Op, req.Ref, "decode response: %v", err)
		}
	}
	if out.ID == "" {
		if req.Op == OpCreate {
			return Response{}, Rejected(req.Op, req.Ref, "create returned no id")
		}
		out.ID = req.Ref.ID
	}
	return out, nil
}

// statusError classifies a non-2xx response. Request timeouts, throttling
// and server errors are transient; every other status is a rejection.
func statusError(req Request, status int, body []byte) *Error {
	kind := KindRejected
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500 {
		kind = KindTransient
	}
	return &Error{
		Kind:    kind,
		Op:      req.Op,
		Ref:     req.Ref,
		Status:  status,
		Message: errorMessage(status, body),
	}
}

// errorMessage extracts {"error": ...} or echo's {"message": ...}.
func errorMessage(status int, body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return http.StatusText(status)
}
