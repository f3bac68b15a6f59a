package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"reflect"
	"testing"

	"github.com/apex-x/modelworker/internal/inference"
)

func TestParseBridgeCommand(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		parts, err := parseBridgeCommand("   ")
		if err != nil {
			t.Fatalf("parseBridgeCommand() error = %v", err)
		}
		if len(parts) != 0 {
			t.Fatalf("expected empty command, got %v", parts)
		}
	})

	t.Run("split", func(t *testing.T) {
		parts, err := parseBridgeCommand("python -m handler.bridge")
		if err != nil {
			t.Fatalf("parseBridgeCommand() error = %v", err)
		}
		want := []string{"python", "-m", "handler.bridge"}
		if !reflect.DeepEqual(parts, want) {
			t.Fatalf("unexpected command parts: got %v want %v", parts, want)
		}
	})
}

func TestDefaultRunBridgePredictBatchNoCommandIsUnavailable(t *testing.T) {
	_, err := defaultRunBridgePredictBatch(context.Background(), nil, bridgePredictRequest{})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestDefaultRunBridgePredictBatchProcess(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	tests := []struct {
		name    string
		command []string
		wantErr error
	}{
		{name: "missing binary", command: []string{"modelworker-no-such-bridge"}, wantErr: ErrBackendUnavailable},
		{name: "non zero exit", command: []string{"sh", "-c", "cat >/dev/null; echo broken >&2; exit 3"}, wantErr: ErrBackendInference},
		{name: "bad json", command: []string{"sh", "-c", "cat >/dev/null; echo not-json"}, wantErr: ErrBackendProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := defaultRunBridgePredictBatch(context.Background(), tt.command, bridgePredictRequest{})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("ok", func(t *testing.T) {
		command := []string{"sh", "-c", `cat >/dev/null; echo '{"predictions":["a",{"k":1}]}'`}
		decoded, err := defaultRunBridgePredictBatch(context.Background(), command, bridgePredictRequest{})
		if err != nil {
			t.Fatalf("defaultRunBridgePredictBatch() error = %v", err)
		}
		if len(decoded.Predictions) != 2 || string(decoded.Predictions[0]) != `"a"` {
			t.Fatalf("unexpected predictions: %s", decoded.Predictions)
		}
	})
}

func TestNewBridgeAdapterRequiresCommand(t *testing.T) {
	_, err := NewBridgeAdapter(t.TempDir(), "  ")
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if _, err := NewBridgeAdapter("/definitely/not/a/model/dir", "python bridge.py"); err == nil {
		t.Fatal("expected error for missing model dir")
	}
}

func stubBridge(t *testing.T, fn bridgePredictBatchFn) {
	t.Helper()
	original := runBridgePredictBatch
	runBridgePredictBatch = fn
	t.Cleanup(func() {
		runBridgePredictBatch = original
	})
}

func newBridgeDispatcher(t *testing.T) *inference.Dispatcher {
	t.Helper()
	rc := newTestContext(t, 4)
	adapter, err := NewBridgeAdapter(rc.ModelDir(), "python -m handler.bridge")
	if err != nil {
		t.Fatalf("NewBridgeAdapter() error = %v", err)
	}
	t.Cleanup(func() {
		_ = adapter.Close()
	})
	if adapter.Name() != "bridge:python" {
		t.Fatalf("Name() = %q", adapter.Name())
	}
	dispatcher, err := inference.NewDispatcher(rc, adapter.Handle)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return dispatcher
}

func TestBridgeAdapterUsesBridgeWhenConfigured(t *testing.T) {
	stubBridge(t, func(
		_ context.Context,
		command []string,
		request bridgePredictRequest,
	) (bridgePredictResponse, error) {
		if len(command) != 3 {
			t.Errorf("unexpected command: %v", command)
		}
		if request.Context.ModelName != "resnet" || request.Context.BatchSize != 4 {
			t.Errorf("unexpected context: %+v", request.Context)
		}
		if !reflect.DeepEqual(request.RequestIDs, []string{"r1", "r2"}) {
			t.Errorf("unexpected request ids: %v", request.RequestIDs)
		}
		if string(request.Payloads[0]) != "raw" || request.Payloads[1] != nil {
			t.Errorf("unexpected payloads: %q", request.Payloads)
		}
		if !request.Inputs[1]["tags"].Equal(inference.List("a", "b")) {
			t.Errorf("unexpected inputs: %v", request.Inputs)
		}
		out := bridgePredictResponse{ContentTypes: []string{"text/csv"}}
		for _, id := range request.RequestIDs {
			raw, _ := json.Marshal(map[string]string{"id": id})
			out.Predictions = append(out.Predictions, raw)
		}
		return out, nil
	})

	responses, err := newBridgeDispatcher(t).Predict(context.Background(), []inference.RawRequest{
		{RequestID: []byte("r1"), Data: []byte("raw")},
		{
			RequestID: []byte("r2"),
			Parameters: []inference.Parameter{
				{Name: "tags[]", Value: "a"},
				{Name: "tags[]", Value: "b"},
			},
		},
	})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if len(responses) != 2 {
		t.Fatalf("unexpected response length: %d", len(responses))
	}
	if string(responses[1].Body) != `{"id":"r2"}` {
		t.Fatalf("unexpected body: %s", responses[1].Body)
	}
	if responses[0].ContentType != "text/csv" || responses[1].ContentType != "application/json" {
		t.Fatalf("unexpected content types: %q %q", responses[0].ContentType, responses[1].ContentType)
	}
}

func TestBridgeAdapterFailures(t *testing.T) {
	tests := []struct {
		name     string
		response bridgePredictResponse
		err      error
		check    func(t *testing.T, err error)
	}{
		{
			name: "transport",
			err:  fmt.Errorf("%w: bridge unavailable", ErrBackendUnavailable),
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrBackendUnavailable) {
					t.Fatalf("expected ErrBackendUnavailable, got %v", err)
				}
			},
		},
		{
			name:     "runtime error with code",
			response: bridgePredictResponse{Error: "bad image", Code: http.StatusUnprocessableEntity},
			check: func(t *testing.T, err error) {
				var predictionErr *inference.PredictionError
				if !errors.As(err, &predictionErr) || predictionErr.Code != http.StatusUnprocessableEntity {
					t.Fatalf("expected PredictionError 422, got %v", err)
				}
			},
		},
		{
			name:     "runtime error",
			response: bridgePredictResponse{Error: "oom"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrBackendInference) {
					t.Fatalf("expected ErrBackendInference, got %v", err)
				}
			},
		},
		{
			name:     "count mismatch",
			response: bridgePredictResponse{Predictions: []json.RawMessage{json.RawMessage(`1`), json.RawMessage(`2`)}},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrBackendProtocol) {
					t.Fatalf("expected ErrBackendProtocol, got %v", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubBridge(t, func(
				_ context.Context,
				_ []string,
				_ bridgePredictRequest,
			) (bridgePredictResponse, error) {
				return tt.response, tt.err
			})
			_, err := newBridgeDispatcher(t).Predict(context.Background(), []inference.RawRequest{
				{RequestID: []byte("r1")},
			})
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)
		})
	}
}
