package worker

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/me/gotune/internal/executor"
	"github.com/me/gotune/pkg/model"
)

// Client talks to the gotune server API on behalf of a worker. It
// implements executor.Tuner so a Runner can drive trials remotely.
type Client struct {
	baseURL    string
	httpClient *http.Client
	workerKey  string // optional shared secret
	retries    int
	backoff    time.Duration
}

var _ executor.Tuner = (*Client)(nil)

// NewClient creates a new worker API client with connection pooling.
// If tlsCfg is nil, the default system TLS configuration is used.
func NewClient(baseURL string, tlsCfg *tls.Config) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     tlsCfg,
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		retries: 3,
		backoff: 500 * time.Millisecond,
	}
}

// SetWorkerKey sets the shared secret for worker authentication.
func (c *Client) SetWorkerKey(key string) {
	c.workerKey = key
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]any
	if err := c.call(ctx, http.MethodGet, "/api/v1/health", nil, true, &out); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	return nil
}

// RequestTrial asks the server for the next trial. It is never retried: a
// lost answer would leave a trial running that no worker trains.
func (c *Client) RequestTrial(ctx context.Context) (*model.Assignment, error) {
	var a model.Assignment
	if err := c.call(ctx, http.MethodPost, "/api/v1/trials/request", nil, false, &a); err != nil {
		return nil, fmt.Errorf("request trial: %w", err)
	}
	return &a, nil
}

// Report sends one metric. Redelivering a report is safe since the server
// answers a repeated resource level with the stored decision.
func (c *Client) Report(ctx context.Context, trialID string, resource int, metric float64) (*model.ReportResult, error) {
	// JSON has no NaN or Inf; the server reads null as a diverged metric.
	var m any = metric
	if math.IsNaN(metric) || math.IsInf(metric, 0) {
		m = nil
	}
	body, err := json.Marshal(map[string]any{"resource": resource, "metric": m})
	if err != nil {
		return nil, err
	}
	var res model.ReportResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/trials/"+trialID+"/reports", body, true, &res); err != nil {
		return nil, fmt.Errorf("report %s: %w", trialID, err)
	}
	return &res, nil
}

// StopTrial cancels a trial on the server.
func (c *Client) StopTrial(ctx context.Context, trialID string) (*model.Trial, error) {
	var t model.Trial
	if err := c.call(ctx, http.MethodPut, "/api/v1/trials/"+trialID+"/stop", nil, true, &t); err != nil {
		return nil, fmt.Errorf("stop %s: %w", trialID, err)
	}
	return &t, nil
}

// IsFinished reads the run status.
func (c *Client) IsFinished(ctx context.Context) (bool, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.Finished, nil
}

// Status returns the run progress.
func (c *Client) Status(ctx context.Context) (*model.Status, error) {
	var st model.Status
	if err := c.call(ctx, http.MethodGet, "/api/v1/status", nil, true, &st); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return &st, nil
}

// call performs a request and decodes the envelope data into dest.
// Transport failures and gateway errors are retried when retry is set.
func (c *Client) call(ctx context.Context, method, path string, body []byte, retry bool, dest any) error {
	attempts := 1
	if retry {
		attempts += c.retries
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff * time.Duration(1<<(i-1))):
			}
		}
		resp, err := c.doRequest(ctx, method, path, body)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		if isTransient(resp.StatusCode) {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)
			continue
		}
		return decodeResponseData(resp, dest)
	}
	return lastErr
}

func isTransient(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

// doRequest executes an HTTP request and returns the response.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.workerKey != "" {
		req.Header.Set("X-Worker-Key", c.workerKey)
	}

	return c.httpClient.Do(req)
}

// decodeResponseData extracts the data field from the API response
// envelope. An error envelope is returned as its *model.APIError so callers
// can match on the code.
func decodeResponseData(resp *http.Response, dest any) error {
	defer resp.Body.Close()

	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *model.APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("HTTP %d: decode response: %w", resp.StatusCode, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if dest == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, dest)
}

// IsUnauthorized reports whether err is a rejected worker key.
func IsUnauthorized(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Code == model.ErrUnauthorized
}
