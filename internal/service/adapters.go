package service

import (
	"context"

	"github.com/apex-x/modelworker/internal/inference"
)

// InferenceAdapter owns a model backend. Handle is injected into the
// dispatcher as its entry point.
type InferenceAdapter interface {
	Name() string
	Handle(ctx context.Context, inputs []inference.Input, call *inference.CallContext) ([]inference.Prediction, error)
	Close() error
}
