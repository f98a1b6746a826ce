// ABOUTME: HTTP client for the multi-engine analysis service (files, urls, analyses)
// ABOUTME: Authenticates with an API key header, rate limits, and trips a circuit breaker

package virustotal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/resilience"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

// API paths relative to the base URL.
const (
	filesPath    = "/files"
	urlsPath     = "/urls"
	analysesPath = "/analyses/"
)

// APIKeyHeader carries the static API key on every request.
const APIKeyHeader = "x-apikey"

// Default client configuration values.
const (
	DefaultBaseURL = "https://www.virustotal.com/api/v3"
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 64 << 10
)

// ClientConfig holds configuration for the analysis service client.
type ClientConfig struct {
	// BaseURL is the API root (e.g., "https://www.virustotal.com/api/v3").
	BaseURL string

	// APIKey is sent in the x-apikey header.
	APIKey string

	// Timeout for HTTP requests.
	Timeout time.Duration

	// RequestsPerMinute caps outbound calls. Zero disables limiting.
	RequestsPerMinute int

	// UserAgent is sent with every request.
	UserAgent string

	// HTTPClient is an optional custom HTTP client. If nil, a default client is created.
	HTTPClient *http.Client

	// Breaker guards submissions. If nil, one is created.
	Breaker *resilience.CircuitBreaker

	// PollBreaker guards analysis status queries. If nil, one is created.
	PollBreaker *resilience.CircuitBreaker

	// Clock stamps fetched snapshots. Defaults to the real clock.
	Clock clock.PassiveClock
}

// Client talks to the analysis service.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	limiter     *rate.Limiter
	breaker     *resilience.CircuitBreaker
	pollBreaker *resilience.CircuitBreaker
	clock       clock.PassiveClock
}

// NewClient creates a new client with the given configuration.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.RequestsPerMinute)
	}

	breaker := cfg.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:      "virustotal-submit",
			IsFailure: CountsAsFailure,
		})
	}
	pollBreaker := cfg.PollBreaker
	if pollBreaker == nil {
		pollBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:      "virustotal-poll",
			IsFailure: CountsAsFailure,
		})
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "hikmaai-sentinel"
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		userAgent:  userAgent,
		httpClient: httpClient,
		limiter:     limiter,
		breaker:     breaker,
		pollBreaker: pollBreaker,
		clock:       clk,
	}
}

// CountsAsFailure is the circuit breaker classifier for this client:
// cancellations and client errors other than 429 are ignored.
func CountsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return IsRetryable(err)
}

// UploadFile submits file content for analysis and returns the analysis handle.
func (c *Client) UploadFile(ctx context.Context, filename string, content io.Reader) (types.AnalysisHandle, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "virustotal.UploadFile")
	defer span.End()
	span.SetAttributes(attribute.String("file.name", filename))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("failed to read file content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish multipart body: %w", err)
	}

	handle, err := c.submit(ctx, filesPath, mw.FormDataContentType(), body.Bytes())
	recordSpanError(span, err)
	return handle, err
}

// SubmitURL submits an absolute URL for analysis and returns the analysis handle.
func (c *Client) SubmitURL(ctx context.Context, target string) (types.AnalysisHandle, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "virustotal.SubmitURL")
	defer span.End()

	form := url.Values{}
	form.Set("url", target)

	handle, err := c.submit(ctx, urlsPath, "application/x-www-form-urlencoded", []byte(form.Encode()))
	recordSpanError(span, err)
	return handle, err
}

// GetAnalysis fetches the current state of an analysis.
func (c *Client) GetAnalysis(ctx context.Context, handle types.AnalysisHandle) (*types.AnalysisSnapshot, error) {
	if err := handle.Validate(); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "virustotal.GetAnalysis")
	defer span.End()
	span.SetAttributes(attribute.String("analysis.id", handle.String()))

	respBody, err := c.doRequest(ctx, c.pollBreaker, http.MethodGet, analysesPath+url.PathEscape(handle.String()), "", nil)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	var resp AnalysisResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		err = &APIError{Code: CodeDecode, Message: "failed to decode analysis response", Cause: err}
		recordSpanError(span, err)
		return nil, err
	}
	if resp.Data.ID == "" {
		resp.Data.ID = handle.String()
	}

	snap := resp.Snapshot(c.clock.Now())
	span.SetAttributes(
		attribute.String("analysis.status", snap.Status.String()),
		attribute.Int("analysis.engines.total", snap.TotalEngines()),
		attribute.Int("analysis.engines.scanned", snap.ScannedEngines()),
	)
	return snap, nil
}

// Breaker returns the circuit breaker guarding submissions.
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// PollBreaker returns the circuit breaker guarding status queries. Its
// failures never reject submissions.
func (c *Client) PollBreaker() *resilience.CircuitBreaker {
	return c.pollBreaker
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) submit(ctx context.Context, path, contentType string, body []byte) (types.AnalysisHandle, error) {
	respBody, err := c.doRequest(ctx, c.breaker, http.MethodPost, path, contentType, body)
	if err != nil {
		return "", err
	}

	var resp submissionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", &APIError{Code: CodeDecode, Message: "failed to decode submission response", Cause: err}
	}
	if resp.Data.ID == "" {
		return "", ErrEmptyAnalysisID
	}
	return types.AnalysisHandle(resp.Data.ID), nil
}

// doRequest performs one rate-limited request through the circuit breaker.
func (c *Client) doRequest(ctx context.Context, breaker *resilience.CircuitBreaker, method, path, contentType string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &APIError{Code: CodeConnection, Message: "rate limiter wait aborted", Cause: err}
	}

	var respBody []byte
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set(APIKeyHeader, c.apiKey)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &APIError{Code: CodeConnection, Message: "failed to send request to " + path, Cause: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return newServiceError(resp)
		}

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return &APIError{Code: CodeConnection, Message: "failed to read response body", Cause: err}
		}
		return nil
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &APIError{Code: CodeConnection, Message: "analysis service unavailable", Cause: err}
	}
	return respBody, err
}

func newServiceError(resp *http.Response) *APIError {
	apiErr := &APIError{
		Code:       CodeService,
		StatusCode: resp.StatusCode,
		Message:    "server returned status " + resp.Status,
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var envelope ErrorResponse
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Code != "" {
		apiErr.RemoteCode = envelope.Error.Code
		if envelope.Error.Message != "" {
			apiErr.Message = envelope.Error.Message
		}
	}
	return apiErr
}

const tracerName = "hikmaai-sentinel/virustotal"

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
