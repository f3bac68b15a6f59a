package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

const (
	contentTypeJSON = "application/json"
	contentTypeText = "text/plain; charset=utf-8"
)

// Prediction is one entry point result: []byte is sent as is, string as
// UTF-8 text, json.RawMessage verbatim and anything else as JSON.
type Prediction = any

// EntryPoint is the inference callable. It receives one input per request
// and must return one prediction per input, in the same order.
type EntryPoint func(ctx context.Context, inputs []Input, call *CallContext) ([]Prediction, error)

type Response struct {
	RequestID   string            `json:"requestId"`
	StatusCode  int               `json:"code"`
	Phrase      string            `json:"phrase"`
	ContentType string            `json:"contentType,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"body"`
}

type Dispatcher struct {
	rc    *RequestContext
	entry EntryPoint
}

func NewDispatcher(rc *RequestContext, entry EntryPoint) (*Dispatcher, error) {
	if rc == nil {
		return nil, errors.New("request context must not be nil")
	}
	if entry == nil {
		return nil, errors.New("entry point must not be nil")
	}
	return &Dispatcher{rc: rc, entry: entry}, nil
}

func (d *Dispatcher) Context() *RequestContext { return d.rc }

// Predict normalizes raw, invokes the entry point once and pairs every
// prediction with its request. Entry point errors are returned unchanged.
func (d *Dispatcher) Predict(ctx context.Context, raw []RawRequest) ([]Response, error) {
	responses, _, err := d.PredictWithMetrics(ctx, raw)
	return responses, err
}

// PredictWithMetrics is Predict that also hands back the metrics the entry
// point recorded.
func (d *Dispatcher) PredictWithMetrics(ctx context.Context, raw []RawRequest) ([]Response, map[string]any, error) {
	batch, err := Normalize(raw)
	if err != nil {
		return nil, nil, err
	}
	call := newCallContext(d.rc, batch)
	predictions, err := d.entry(ctx, batch.Inputs, call)
	if err != nil {
		return nil, nil, err
	}
	if len(predictions) != batch.Len() {
		return nil, nil, fmt.Errorf(
			"%w: got %d predictions for %d requests",
			ErrPredictionCountMismatch,
			len(predictions),
			batch.Len(),
		)
	}
	responses, err := buildResponses(predictions, batch)
	if err != nil {
		return nil, nil, err
	}
	return responses, call.Metrics.Snapshot(), nil
}

func buildResponses(predictions []Prediction, batch *Batch) ([]Response, error) {
	out := make([]Response, len(predictions))
	for idx, prediction := range predictions {
		body, defaultContentType, err := encodePrediction(prediction)
		if err != nil {
			return nil, fmt.Errorf("encode prediction for %q: %w", batch.IDs[idx], err)
		}
		props := batch.Properties[idx].Response()
		contentType := props.ContentType
		if contentType == "" {
			contentType = defaultContentType
		}
		code := props.StatusCode
		phrase := props.Phrase
		if code == 0 {
			code = http.StatusOK
			phrase = http.StatusText(http.StatusOK)
		}
		out[idx] = Response{
			RequestID:   batch.IDs[idx],
			StatusCode:  code,
			Phrase:      phrase,
			ContentType: contentType,
			Headers:     props.Headers,
			Body:        body,
		}
	}
	return out, nil
}

func encodePrediction(prediction Prediction) ([]byte, string, error) {
	switch value := prediction.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return value, "", nil
	case string:
		return []byte(value), contentTypeText, nil
	case json.RawMessage:
		return value, contentTypeJSON, nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, "", err
		}
		return encoded, contentTypeJSON, nil
	}
}
