// internal/inference/client_test.go
package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, 2*time.Second, 10*time.Millisecond, 3, 5, time.Second)
}

func TestListModels(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"models": []map[string]interface{}{
				{"name": "llama3", "digest": "abc123", "size": 4_000_000_000},
			},
		})
	})

	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(models) != 1 || models[0].Name != "llama3" {
		t.Errorf("unexpected models: %+v", models)
	}
}

func TestEstimateModelMemoryNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.EstimateModelMemory(context.Background(), "nonexistent")
	var infErr *Error
	if !asInferenceError(err, &infErr) || infErr.Kind != ErrorKindModelNotFound {
		t.Errorf("expected ModelNotFound error, got %v", err)
	}
}

func TestRunInferenceRetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"response": "ok"})
	})

	result, err := client.RunInference(context.Background(), "llama3", "hello", RunOptions{})
	if err != nil {
		t.Fatalf("expected eventual success, got: %v", err)
	}
	if result.Response != "ok" {
		t.Errorf("unexpected response: %s", result.Response)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRunInferenceModelNotFoundDoesNotRetry(t *testing.T) {
	attempts := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.RunInference(context.Background(), "missing-model", "hello", RunOptions{})
	var infErr *Error
	if !asInferenceError(err, &infErr) || infErr.Kind != ErrorKindModelNotFound {
		t.Errorf("expected ModelNotFound error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt (no retry), got %d", attempts)
	}
}

func TestLivenessProbe(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/version" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := client.LivenessProbe(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
