package provider

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/kaptinlin/jsonrepair"
)

// Client is the HTTP plumbing shared by all adapters: response
// decompression, streaming-body framing, and prioritized endpoint
// failover with refresh-and-retry-once on auth expiry.
type Client struct {
	http *http.Client
}

func NewClient(hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}

	return &Client{http: hc}
}

// DecompressReader unwraps gzip/brotli encoded response bodies.
func DecompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// BuildRequest constructs an outbound request against one endpoint.
type BuildRequest func(ctx context.Context, baseURL string) (*http.Request, error)

// RefreshFunc renews the credential after a 401. Nil means the credential
// cannot be refreshed and a 401 is terminal.
type RefreshFunc func(ctx context.Context) error

// DoWithFailover tries each endpoint in priority order. 401 stops the
// scan, refreshes once, and retries the whole endpoint list; 429/404/5xx
// and network errors move on to the next endpoint; any other non-2xx is
// terminal. The last observed error surfaces when everything is exhausted.
// The caller owns the returned response body.
func (c *Client) DoWithFailover(ctx context.Context, providerName string, endpoints []string, build BuildRequest, refresh RefreshFunc) (*http.Response, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%s: no endpoints configured", providerName)
	}

	resp, err := c.tryEndpoints(ctx, providerName, endpoints, build)
	if err == nil {
		return resp, nil
	}

	if errors.Is(err, ErrAuthExpired) && refresh != nil {
		if rerr := refresh(ctx); rerr != nil {
			return nil, fmt.Errorf("refresh credential: %w", rerr)
		}

		return c.tryEndpoints(ctx, providerName, endpoints, build)
	}

	return nil, err
}

func (c *Client) tryEndpoints(ctx context.Context, providerName string, endpoints []string, build BuildRequest) (*http.Response, error) {
	var lastErr error

	for _, base := range endpoints {
		req, err := build(ctx, base)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// Network-level failures behave like a retryable status.
			lastErr = fmt.Errorf("%s request to %s: %w", providerName, base, errors.Join(ErrUnavailable, err))
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil
		case resp.StatusCode == http.StatusUnauthorized:
			msg := readErrorBody(resp)
			return nil, &UpstreamError{Provider: providerName, StatusCode: resp.StatusCode, Message: msg, Kind: ErrAuthExpired}
		case resp.StatusCode == http.StatusTooManyRequests:
			msg := readErrorBody(resp)
			lastErr = &UpstreamError{Provider: providerName, StatusCode: resp.StatusCode, Message: msg, Kind: ErrRateLimited}
		case resp.StatusCode == http.StatusNotFound, resp.StatusCode >= 500:
			msg := readErrorBody(resp)
			lastErr = &UpstreamError{Provider: providerName, StatusCode: resp.StatusCode, Message: msg, Kind: ErrUnavailable}
		default:
			msg := readErrorBody(resp)
			return nil, &UpstreamError{Provider: providerName, StatusCode: resp.StatusCode, Message: msg}
		}
	}

	return nil, lastErr
}

func readErrorBody(resp *http.Response) string {
	defer resp.Body.Close()

	reader, err := DecompressReader(resp)
	if err != nil {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(reader, 8192))
	if err != nil {
		return ""
	}

	// Prefer the upstream's message field when the body is JSON.
	var parsed struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		switch {
		case parsed.Message != "":
			return parsed.Message
		case parsed.Error.Message != "":
			return parsed.Error.Message
		case parsed.Msg != "":
			return parsed.Msg
		}
	}

	return strings.TrimSpace(string(body))
}

// ScanSSE reads an SSE body line by line and calls handle for every
// `data:` payload. A `data: [DONE]` marker stops the scan. The handler
// returns false to stop early (terminal event already emitted).
func ScanSSE(body io.Reader, handle func(data []byte) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			continue
		}

		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}

		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil
		}

		if !handle([]byte(data)) {
			return nil
		}
	}

	return scanner.Err()
}

// ScanNDJSON reads a newline-delimited JSON body and calls handle for
// every non-empty line. The handler returns false to stop early.
func ScanNDJSON(body io.Reader, handle func(data []byte) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !handle([]byte(line)) {
			return nil
		}
	}

	return scanner.Err()
}

// DecodeFrame unmarshals one streaming frame into v. Reverse-engineered
// upstreams occasionally emit frames that are not strictly valid JSON, so
// a failed decode is retried once through jsonrepair before giving up.
func DecodeFrame(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(string(data))
		if rerr != nil {
			return fmt.Errorf("decode frame: %w", errors.Join(ErrProtocol, err))
		}

		if err := json.Unmarshal([]byte(repaired), v); err != nil {
			return fmt.Errorf("decode repaired frame: %w", errors.Join(ErrProtocol, err))
		}
	}

	return nil
}
