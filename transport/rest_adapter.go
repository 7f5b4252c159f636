package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-autoreply/core"
)

const defaultRESTClientTimeout = 30 * time.Second
const defaultRESTResponseBodyLimit int64 = 10 << 20 // 10 MiB
const maxErrorMessageLength = 256

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request is a single outbound platform call. Body is JSON encoded when set.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    any
	Timeout time.Duration
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Duration   time.Duration
}

func (r Response) DecodeJSON(target any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, target); err != nil {
		return transportWrapError(err, goerrors.CategoryExternal, "transport: decode response body", map[string]any{
			"status_code": r.StatusCode,
		})
	}
	return nil
}

// RESTAdapter sends JSON requests to platform APIs. Transport failures surface as
// *core.NetworkError and non-2xx answers as *core.HTTPStatusError so the resilience
// layer can classify them.
type RESTAdapter struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultRESTClientTimeout}
	}
	return &RESTAdapter{
		Client:               client,
		DefaultHeaders:       map[string]string{"Accept": "application/json"},
		MaxResponseBodyBytes: defaultRESTResponseBodyLimit,
	}
}

func (a *RESTAdapter) PostJSON(ctx context.Context, endpoint string, headers map[string]string, payload any) (Response, error) {
	return a.Do(ctx, Request{
		Method:  http.MethodPost,
		URL:     endpoint,
		Headers: headers,
		Body:    payload,
	})
}

func (a *RESTAdapter) Do(ctx context.Context, req Request) (Response, error) {
	if a == nil || a.Client == nil {
		return Response{}, transportError("transport: rest adapter requires an http client", goerrors.CategoryInternal, nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	parsedURL, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || parsedURL.Host == "" {
		if err == nil {
			err = fmt.Errorf("missing host")
		}
		return Response{}, transportWrapError(err, goerrors.CategoryBadInput, "transport: invalid request url", map[string]any{
			"url": strings.TrimSpace(req.URL),
		})
	}
	if len(req.Query) > 0 {
		query := parsedURL.Query()
		for key, value := range req.Query {
			if strings.TrimSpace(key) == "" {
				continue
			}
			query.Set(strings.TrimSpace(key), value)
		}
		parsedURL.RawQuery = query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		encoded, encodeErr := json.Marshal(req.Body)
		if encodeErr != nil {
			return Response{}, transportWrapError(encodeErr, goerrors.CategoryBadInput, "transport: encode request body", map[string]any{
				"url": parsedURL.String(),
			})
		}
		body = bytes.NewReader(encoded)
	}

	requestCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, parsedURL.String(), body)
	if err != nil {
		return Response{}, transportWrapError(err, goerrors.CategoryBadInput, "transport: create http request", map[string]any{
			"method": method,
			"url":    parsedURL.String(),
		})
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range a.DefaultHeaders {
		if strings.TrimSpace(key) != "" {
			httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
		}
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) != "" {
			httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
		}
	}

	startedAt := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return Response{}, &core.NetworkError{Op: method + " " + redactURL(parsedURL), Err: err}
	}
	defer httpRes.Body.Close()

	limit := a.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultRESTResponseBodyLimit
	}
	payload, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return Response{}, &core.NetworkError{Op: "read response body", Err: err}
	}
	if int64(len(payload)) > limit {
		return Response{}, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit),
			goerrors.CategoryExternal,
			map[string]any{"status_code": httpRes.StatusCode, "response_limit_b": limit},
		)
	}

	res := Response{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       payload,
		Duration:   time.Since(startedAt),
	}
	if httpRes.StatusCode < 200 || httpRes.StatusCode > 299 {
		return res, &core.HTTPStatusError{
			Status:  httpRes.StatusCode,
			Message: ErrorMessage(payload),
			Body:    payload,
		}
	}
	return res, nil
}

// ErrorMessage pulls the human readable message out of a platform error body.
// Graph API, OAuth, Telegram and Twitter shapes are recognised; anything else
// falls back to the trimmed raw text.
func ErrorMessage(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}
	var decoded map[string]any
	if err := json.Unmarshal(trimmed, &decoded); err == nil {
		if nested, ok := decoded["error"].(map[string]any); ok {
			if msg, ok := nested["message"].(string); ok && msg != "" {
				return msg
			}
		}
		for _, key := range []string{"error_description", "message", "description", "detail", "error"} {
			if msg, ok := decoded[key].(string); ok && msg != "" {
				return msg
			}
		}
	}
	text := string(trimmed)
	if len(text) > maxErrorMessageLength {
		text = text[:maxErrorMessageLength]
	}
	return text
}

// redactURL drops the path for hosts that embed credentials in it, such as the
// Telegram bot API.
func redactURL(u *url.URL) string {
	if strings.Contains(u.Path, "/bot") {
		return u.Scheme + "://" + u.Host
	}
	return u.Scheme + "://" + u.Host + u.Path
}

func flattenHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}
