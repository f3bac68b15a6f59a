package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/apex-x/modelworker/internal/inference"
)

type bridgeContext struct {
	ModelName        string            `json:"model_name"`
	ModelDir         string            `json:"model_dir"`
	Manifest         string            `json:"manifest"`
	ModelVersion     string            `json:"model_version"`
	BatchSize        int               `json:"batch_size"`
	Device           int               `json:"device"`
	SystemProperties map[string]string `json:"system_properties"`
}

type bridgePredictRequest struct {
	Context    bridgeContext              `json:"context"`
	RequestIDs []string                   `json:"request_ids"`
	Inputs     []inference.Input          `json:"inputs"`
	Properties []*inference.PropertyTable `json:"properties"`
	Payloads   [][]byte                   `json:"payloads"`
}

type bridgePredictResponse struct {
	Predictions  []json.RawMessage `json:"predictions"`
	ContentTypes []string          `json:"content_types,omitempty"`
	Error        string            `json:"error,omitempty"`
	Code         int               `json:"code,omitempty"`
}

type bridgePredictBatchFn func(
	ctx context.Context,
	command []string,
	request bridgePredictRequest,
) (bridgePredictResponse, error)

var runBridgePredictBatch bridgePredictBatchFn = defaultRunBridgePredictBatch

func parseBridgeCommand(raw string) ([]string, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return nil, nil
	}
	parts := strings.Fields(clean)
	if len(parts) == 0 {
		return nil, fmt.Errorf("bridge command is empty")
	}
	return parts, nil
}

func newBridgePredictRequest(inputs []inference.Input, call *inference.CallContext) bridgePredictRequest {
	rc := call.Request
	payloads := make([][]byte, len(inputs))
	for idx := range inputs {
		payloads[idx] = call.Payload(idx)
	}
	return bridgePredictRequest{
		Context: bridgeContext{
			ModelName:        rc.ModelName(),
			ModelDir:         rc.ModelDir(),
			Manifest:         rc.Manifest(),
			ModelVersion:     rc.ModelVersion(),
			BatchSize:        rc.BatchSize(),
			Device:           rc.Device(),
			SystemProperties: rc.SystemProperties(),
		},
		RequestIDs: call.IDs,
		Inputs:     inputs,
		Properties: call.Properties,
		Payloads:   payloads,
	}
}

func defaultRunBridgePredictBatch(
	ctx context.Context,
	command []string,
	request bridgePredictRequest,
) (bridgePredictResponse, error) {
	if len(command) == 0 {
		return bridgePredictResponse{}, fmt.Errorf("%w: bridge command is not configured", ErrBackendUnavailable)
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return bridgePredictResponse{}, fmt.Errorf("%w: failed to encode bridge request: %w", ErrBackendProtocol, err)
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if runErr := cmd.Run(); runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return bridgePredictResponse{}, ctxErr
		}
		errText := strings.TrimSpace(stderr.String())
		var execErr *exec.Error
		var pathErr *os.PathError
		if errors.As(runErr, &execErr) || errors.As(runErr, &pathErr) {
			if errText == "" {
				return bridgePredictResponse{}, fmt.Errorf("%w: bridge command failed: %w", ErrBackendUnavailable, runErr)
			}
			return bridgePredictResponse{}, fmt.Errorf(
				"%w: bridge command failed: %w: %s",
				ErrBackendUnavailable,
				runErr,
				errText,
			)
		}
		if errText == "" {
			return bridgePredictResponse{}, fmt.Errorf("%w: bridge command failed: %w", ErrBackendInference, runErr)
		}
		return bridgePredictResponse{}, fmt.Errorf("%w: bridge command failed: %w: %s", ErrBackendInference, runErr, errText)
	}
	var decoded bridgePredictResponse
	if err := json.Unmarshal(stdout.Bytes(), &decoded); err != nil {
		return bridgePredictResponse{}, fmt.Errorf("%w: failed to decode bridge response: %w", ErrBackendProtocol, err)
	}
	return decoded, nil
}

// BridgeAdapter hands each batch to an external command speaking JSON over
// stdin/stdout, one process per batch.
type BridgeAdapter struct {
	modelDir      string
	bridgeCommand []string
}

func NewBridgeAdapter(modelDir string, command string) (*BridgeAdapter, error) {
	if strings.TrimSpace(modelDir) != "" {
		info, statErr := os.Stat(modelDir)
		if statErr != nil {
			return nil, fmt.Errorf("failed to stat model dir %q: %w", modelDir, statErr)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("model dir %q is not a directory", modelDir)
		}
	}
	bridgeCommand, err := parseBridgeCommand(command)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge command: %w", err)
	}
	if len(bridgeCommand) == 0 {
		return nil, fmt.Errorf("%w: bridge command is not configured", ErrBackendUnavailable)
	}
	return &BridgeAdapter{
		modelDir:      modelDir,
		bridgeCommand: bridgeCommand,
	}, nil
}

func (a *BridgeAdapter) Name() string {
	return "bridge:" + a.bridgeCommand[0]
}

func (a *BridgeAdapter) Handle(
	ctx context.Context,
	inputs []inference.Input,
	call *inference.CallContext,
) ([]inference.Prediction, error) {
	decoded, err := runBridgePredictBatch(ctx, a.bridgeCommand, newBridgePredictRequest(inputs, call))
	if err != nil {
		return nil, err
	}
	if msg := strings.TrimSpace(decoded.Error); msg != "" {
		if decoded.Code > 0 {
			return nil, inference.NewPredictionError(decoded.Code, msg)
		}
		return nil, fmt.Errorf("%w: bridge runtime error: %s", ErrBackendInference, msg)
	}
	if len(decoded.Predictions) != len(inputs) {
		return nil, fmt.Errorf(
			"%w: bridge returned %d predictions for %d requests",
			ErrBackendProtocol,
			len(decoded.Predictions),
			len(inputs),
		)
	}
	out := make([]inference.Prediction, len(decoded.Predictions))
	for idx, prediction := range decoded.Predictions {
		out[idx] = prediction
		if idx < len(decoded.ContentTypes) && decoded.ContentTypes[idx] != "" {
			if err := call.SetResponseContentType(idx, decoded.ContentTypes[idx]); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (a *BridgeAdapter) Close() error {
	if a == nil {
		return errors.New("adapter is nil")
	}
	return nil
}
