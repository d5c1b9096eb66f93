package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluentprep/speaking-gateway/internal/config"
	"github.com/fluentprep/speaking-gateway/internal/observability"
	"github.com/fluentprep/speaking-gateway/internal/resilience"
)

// PartAudio is one finalized part recording in a submission.
type PartAudio struct {
	PartNumber  int     `json:"partNumber"`
	AudioBase64 string  `json:"audioBase64"`
	Duration    float64 `json:"duration"`
}

// SubmissionRequest is the complete test attempt sent for evaluation.
type SubmissionRequest struct {
	TestID                string         `json:"testId"`
	PartAudios            []PartAudio    `json:"partAudios"`
	Transcripts           map[int]string `json:"transcripts"`
	Topic                 string         `json:"topic"`
	Difficulty            string         `json:"difficulty"`
	Part2SpeakingDuration float64        `json:"part2SpeakingDuration"`
	FluencyFlag           bool           `json:"fluencyFlag"`
}

// SubmissionResult identifies the stored evaluation.
type SubmissionResult struct {
	ResultID string `json:"resultId"`
}

// Client submits finished test attempts to the evaluation endpoint. A
// submission is sent at most once per call; failed submissions are retried
// only when the candidate explicitly resubmits.
type Client struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewClient(cfg *config.Config, metrics *observability.Metrics, logger zerolog.Logger) *Client {
	return &Client{
		apiKey: cfg.EvaluationAPIKey,
		apiURL: cfg.EvaluationURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.EvaluationTimeout) * time.Second,
		},
		breaker: resilience.NewCircuitBreaker(
			"evaluation",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		metrics: metrics,
		logger:  logger.With().Str("component", "evaluation").Logger(),
	}
}

// Submit sends one evaluation request and returns the result identifier.
func (c *Client) Submit(ctx context.Context, req *SubmissionRequest) (string, error) {
	if req.TestID == "" {
		return "", fmt.Errorf("submission requires a test id")
	}
	if len(req.PartAudios) == 0 {
		return "", fmt.Errorf("submission requires at least one part recording")
	}

	if c.metrics != nil {
		c.metrics.RecordSubmissionStart()
	}

	var resultID string
	err := c.breaker.Call(func() error {
		id, err := c.doSubmit(ctx, req)
		if err != nil {
			return err
		}
		resultID = id
		return nil
	})

	if c.metrics != nil {
		c.metrics.RecordSubmissionEnd(err == nil)
	}

	if err != nil {
		return "", err
	}

	c.logger.Info().
		Str("test_id", req.TestID).
		Str("result_id", resultID).
		Int("parts", len(req.PartAudios)).
		Bool("fluency_flag", req.FluencyFlag).
		Msg("Test attempt submitted")

	return resultID, nil
}

func (c *Client) doSubmit(ctx context.Context, req *SubmissionRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal submission: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("x-api-key", c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", resilience.NewRetryableError(fmt.Errorf("evaluation request failed: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		return "", resilience.NewRetryableError(fmt.Errorf("evaluation API returned status %d", httpResp.StatusCode))
	}
	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("evaluation API returned status %d", httpResp.StatusCode)
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", resilience.NewRetryableError(fmt.Errorf("failed to read response: %w", err))
	}

	var result SubmissionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if result.ResultID == "" {
		return "", fmt.Errorf("evaluation API returned no result id")
	}

	return result.ResultID, nil
}

// HealthCheck probes the evaluation endpoint for readiness reporting.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.apiURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("evaluation endpoint unreachable: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("evaluation endpoint unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
