package service

import (
	"context"
	"errors"

	"github.com/apex-x/modelworker/internal/inference"
)

type echoPrediction struct {
	RequestID    string          `json:"requestId"`
	Model        string          `json:"model"`
	Inputs       inference.Input `json:"inputs"`
	PayloadBytes int             `json:"payloadBytes"`
}

// EchoAdapter answers every request with its own normalized inputs. It is
// the default handler for smoke tests and local runs.
type EchoAdapter struct{}

func NewEchoAdapter() *EchoAdapter { return &EchoAdapter{} }

func (a *EchoAdapter) Name() string { return "echo" }

func (a *EchoAdapter) Handle(
	_ context.Context,
	inputs []inference.Input,
	call *inference.CallContext,
) ([]inference.Prediction, error) {
	if call == nil {
		return nil, errors.New("call context is nil")
	}
	out := make([]inference.Prediction, len(inputs))
	for idx, input := range inputs {
		requestID, _ := call.IDs.Lookup(idx)
		out[idx] = echoPrediction{
			RequestID:    requestID,
			Model:        call.Request.ModelName(),
			Inputs:       input,
			PayloadBytes: len(call.Payload(idx)),
		}
	}
	call.Metrics.AddCounter("EchoRequests", int64(len(inputs)))
	return out, nil
}

func (a *EchoAdapter) Close() error { return nil }
