// internal/inference/client.go
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// Client talks to an Ollama-compatible inference daemon over HTTP. It
// retries TransientError failures with exponential backoff and wraps
// RunInference in a circuit breaker so a wedged daemon fails fast instead
// of queuing up retries against a backend that is already down.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	breaker      *gobreaker.CircuitBreaker
	retryBase    time.Duration
	retryMax     int
}

// NewClient creates an inference Client. requestTimeout bounds each HTTP
// round trip; breakerMaxFailures/breakerOpenTimeout configure the circuit
// breaker that guards RunInference.
func NewClient(baseURL string, requestTimeout time.Duration, retryBaseDelay time.Duration, retryMaxAttempts int, breakerMaxFailures uint32, breakerOpenTimeout time.Duration) *Client {
	breakerSettings := gobreaker.Settings{
		Name:        "inference-client",
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[INFERENCE] circuit breaker %s: %s -> %s", name, from, to)
		},
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		breaker:    gobreaker.NewCircuitBreaker(breakerSettings),
		retryBase:  retryBaseDelay,
		retryMax:   retryMaxAttempts,
	}
}

// LivenessProbe checks that the daemon is reachable (GET /api/version).
func (c *Client) LivenessProbe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return newError(ErrorKindPermanent, fmt.Errorf("building liveness request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newError(ErrorKindTransient, fmt.Errorf("liveness probe returned status %d", resp.StatusCode))
	}
	return nil
}

// ListModels returns the models currently available to the daemon
// (GET /api/tags).
func (c *Client) ListModels(ctx context.Context) ([]ModelDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, newError(ErrorKindPermanent, fmt.Errorf("building list-models request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var payload struct {
		Models []struct {
			Name    string `json:"name"`
			Digest  string `json:"digest"`
			Size    int64  `json:"size"`
			Details struct {
				Family            string `json:"family"`
				ParameterSize     string `json:"parameter_size"`
				QuantizationLevel string `json:"quantization_level"`
			} `json:"details"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, newError(ErrorKindPermanent, fmt.Errorf("decoding list-models response: %w", err))
	}

	models := make([]ModelDescriptor, 0, len(payload.Models))
	for _, m := range payload.Models {
		models = append(models, ModelDescriptor{
			Name:          m.Name,
			Digest:        m.Digest,
			ByteSize:      m.Size,
			Family:        m.Details.Family,
			ParameterSize: m.Details.ParameterSize,
			Quantization:  m.Details.QuantizationLevel,
		})
	}
	return models, nil
}

// EstimateModelMemory returns an estimated memory footprint in MB for a
// named model (POST /api/show): the byte size the daemon reports for it,
// plus an overhead of 20% of that size (at least 512 MiB), times a fixed
// safety factor of 1.5.
func (c *Client) EstimateModelMemory(ctx context.Context, model string) (int64, error) {
	body, _ := json.Marshal(map[string]string{"name": model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/show", bytes.NewReader(body))
	if err != nil {
		return 0, newError(ErrorKindPermanent, fmt.Errorf("building show-model request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, c.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, newError(ErrorKindModelNotFound, fmt.Errorf("model %q not found", model))
	}
	if err := checkStatus(resp); err != nil {
		return 0, err
	}

	var payload struct {
		Size int64 `json:"size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, newError(ErrorKindPermanent, fmt.Errorf("decoding show-model response: %w", err))
	}

	const mb = 1024 * 1024
	overhead := payload.Size / 5
	if overhead < 512*mb {
		overhead = 512 * mb
	}
	return int64(float64(payload.Size+overhead)*1.5) / mb, nil
}

// RunInference runs a single prompt against model, retrying TransientError
// failures with exponential backoff (base delay, doubling), making at most
// retryMax attempts in total (at least one). Timeout, ModelNotFound, and
// PermanentError never retry. Calls
// go through the circuit breaker, which opens after repeated consecutive
// failures and fails fast until its cooldown elapses.
func (c *Client) RunInference(ctx context.Context, model, prompt string, opts RunOptions) (*RunResult, error) {
	var lastErr error

	attempts := c.retryMax
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := c.runOnce(ctx, model, prompt, opts)
		if err == nil {
			return result, nil
		}

		var infErr *Error
		if !asInferenceError(err, &infErr) || !infErr.Retryable() {
			return nil, err
		}

		lastErr = err
		if attempt == attempts-1 {
			break
		}

		delay := c.retryBase * time.Duration(1<<uint(attempt))
		log.Printf("[INFERENCE] transient failure on attempt %d/%d, retrying in %s: %v", attempt+1, attempts, delay, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

func (c *Client) runOnce(ctx context.Context, model, prompt string, opts RunOptions) (*RunResult, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doGenerate(ctx, model, prompt, opts)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, newError(ErrorKindTransient, fmt.Errorf("circuit breaker open: %w", err))
		}
		return nil, err
	}
	return result.(*RunResult), nil
}

func (c *Client) doGenerate(ctx context.Context, model, prompt string, opts RunOptions) (*RunResult, error) {
	start := time.Now()

	reqCtx := ctx
	var cancel context.CancelFunc
	if opts.TimeoutMs > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	payload := map[string]interface{}{
		"model":  model,
		"prompt": prompt,
		"stream": false,
	}
	if opts.Format == FormatJSON {
		payload["format"] = "json"
	}
	options := map[string]interface{}{}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if len(options) > 0 {
		payload["options"] = options
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, newError(ErrorKindPermanent, fmt.Errorf("building generate request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, newError(ErrorKindTimeout, fmt.Errorf("inference timed out: %w", err))
		}
		return nil, c.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, newError(ErrorKindModelNotFound, fmt.Errorf("model %q not found", model))
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var decoded struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, newError(ErrorKindPermanent, fmt.Errorf("decoding generate response: %w", err))
	}

	return &RunResult{
		Response:        decoded.Response,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// RunInferenceStream runs a prompt in streaming mode, delivering chunks to
// onChunk as they arrive. It does not retry: streaming responses may have
// partially executed side effects downstream, so retrying is the caller's
// decision to make, not the client's.
func (c *Client) RunInferenceStream(ctx context.Context, model, prompt string, opts RunOptions, onChunk func(StreamChunk) error) error {
	payload := map[string]interface{}{
		"model":  model,
		"prompt": prompt,
		"stream": true,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return newError(ErrorKindPermanent, fmt.Errorf("building stream request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	decoder := json.NewDecoder(resp.Body)
	for {
		var chunk struct {
			Response string `json:"response"`
			Done     bool   `json:"done"`
		}
		if err := decoder.Decode(&chunk); err != nil {
			if err == io.EOF {
				return nil
			}
			return newError(ErrorKindPermanent, fmt.Errorf("decoding stream chunk: %w", err))
		}
		if err := onChunk(StreamChunk{Response: chunk.Response, Done: chunk.Done}); err != nil {
			return err
		}
		if chunk.Done {
			return nil
		}
	}
}

func (c *Client) classifyTransportError(err error) error {
	if ctxErr := err; ctxErr != nil {
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			return newError(ErrorKindTimeout, err)
		}
	}
	return newError(ErrorKindTransient, fmt.Errorf("transport error: %w", err))
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return newError(ErrorKindPermanent, fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}
	return newError(ErrorKindTransient, fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
}

func asInferenceError(err error, target **Error) bool {
	if ie, ok := err.(*Error); ok {
		*target = ie
		return true
	}
	return false
}
