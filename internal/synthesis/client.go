package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluentprep/speaking-gateway/internal/config"
	"github.com/fluentprep/speaking-gateway/internal/observability"
	"github.com/fluentprep/speaking-gateway/internal/resilience"
)

// Request is the synthesis API payload for one examiner utterance.
type Request struct {
	Key       string `json:"key"`
	Text      string `json:"text"`
	VoiceName string `json:"voiceName"`
}

// Response carries the synthesized clip: 16-bit LE PCM, base64-encoded.
type Response struct {
	Key         string `json:"key"`
	Text        string `json:"text"`
	AudioBase64 string `json:"audioBase64"`
	SampleRate  int    `json:"sampleRate"`
}

// Client calls the examiner speech synthesis endpoint. Transient failures are
// retried with backoff; sustained failure opens the circuit breaker. A 429
// response surfaces as a RateLimitError with the server's retry-after hint
// and is not retried here — the playback layer decides what to do with the
// failed clip.
type Client struct {
	apiKey      string
	apiURL      string
	voiceName   string
	httpClient  *http.Client
	breaker     *resilience.CircuitBreaker
	retryConfig *resilience.RetryConfig
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func NewClient(cfg *config.Config, metrics *observability.Metrics, logger zerolog.Logger) *Client {
	return &Client{
		apiKey:    cfg.SynthesisAPIKey,
		apiURL:    cfg.SynthesisURL,
		voiceName: cfg.ExaminerVoice,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.SynthesisTimeout) * time.Second,
		},
		breaker: resilience.NewCircuitBreaker(
			"synthesis",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
		},
		metrics: metrics,
		logger:  logger.With().Str("component", "synthesis").Logger(),
	}
}

// Synthesize requests one examiner utterance.
func (c *Client) Synthesize(ctx context.Context, key, text string) (*Response, error) {
	if c.metrics != nil {
		c.metrics.RecordSynthesisStart()
	}

	var resp *Response
	err := resilience.Retry(func() error {
		return c.breaker.Call(func() error {
			r, err := c.doRequest(ctx, key, text)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
	}, c.retryConfig, func(err error) bool {
		// Rate limits and client errors are not retried here
		if _, limited := resilience.IsRateLimited(err); limited {
			return false
		}
		return resilience.IsRetryable(err) || resilience.IsRetryableNetworkError(err)
	})

	if c.metrics != nil {
		c.metrics.RecordSynthesisEnd(err == nil)
	}

	if err != nil {
		return nil, fmt.Errorf("synthesis failed for clip %q: %w", key, err)
	}

	c.logger.Debug().Str("clip_key", key).Int("sample_rate", resp.SampleRate).Msg("Clip synthesized")
	return resp, nil
}

func (c *Client) doRequest(ctx context.Context, key, text string) (*Response, error) {
	payload, err := json.Marshal(Request{Key: key, Text: text, VoiceName: c.voiceName})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewRetryableError(fmt.Errorf("synthesis request failed: %w", err))
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, resilience.NewRateLimitError(parseRetryAfter(httpResp))
	case httpResp.StatusCode >= 500:
		return nil, resilience.NewRetryableError(fmt.Errorf("synthesis API returned status %d", httpResp.StatusCode))
	case httpResp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("synthesis API returned status %d", httpResp.StatusCode)
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, resilience.NewRetryableError(fmt.Errorf("failed to read response: %w", err))
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.AudioBase64 == "" {
		return nil, fmt.Errorf("synthesis API returned empty audio for clip %q", key)
	}

	return &resp, nil
}

func parseRetryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// HealthCheck probes the synthesis endpoint for readiness reporting.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.apiURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("synthesis endpoint unreachable: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("synthesis endpoint unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
