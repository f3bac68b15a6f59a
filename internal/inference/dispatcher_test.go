package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequestContext(t *testing.T) *RequestContext {
	t.Helper()
	rc, err := NewRequestContext(RequestContextConfig{
		ModelName:    "testmodel",
		ModelDir:     t.TempDir(),
		Manifest:     "testmanifest",
		BatchSize:    1,
		Device:       0,
		ModelVersion: "1.0",
	})
	require.NoError(t, err)
	return rc
}

type recordingEntryPoint struct {
	calls       int
	inputs      []Input
	call        *CallContext
	predictions []Prediction
	err         error
}

func (r *recordingEntryPoint) handle(_ context.Context, inputs []Input, call *CallContext) ([]Prediction, error) {
	r.calls++
	r.inputs = inputs
	r.call = call
	return r.predictions, r.err
}

func TestNewDispatcherRequiresDependencies(t *testing.T) {
	rc := testRequestContext(t)
	_, err := NewDispatcher(nil, (&recordingEntryPoint{}).handle)
	assert.Error(t, err)
	_, err = NewDispatcher(rc, nil)
	assert.Error(t, err)
}

func TestDispatcherPredict(t *testing.T) {
	entry := &recordingEntryPoint{predictions: []Prediction{"prediction"}}
	dispatcher, err := NewDispatcher(testRequestContext(t), entry.handle)
	require.NoError(t, err)

	responses, err := dispatcher.Predict(context.Background(), singleParamBatch())
	require.NoError(t, err)

	assert.Equal(t, 1, entry.calls)
	assert.Equal(t, []Input{{"xyz": Scalar("abc")}}, entry.inputs)
	assert.Equal(t, IDMap{"123"}, entry.call.IDs)
	assert.Equal(t, "testmodel", entry.call.Request.ModelName())
	require.Len(t, responses, 1)
	assert.Equal(t, Response{
		RequestID:   "123",
		StatusCode:  http.StatusOK,
		Phrase:      "OK",
		ContentType: contentTypeText,
		Body:        []byte("prediction"),
	}, responses[0])
}

func TestDispatcherNormalizationFailureSkipsEntryPoint(t *testing.T) {
	entry := &recordingEntryPoint{}
	dispatcher, err := NewDispatcher(testRequestContext(t), entry.handle)
	require.NoError(t, err)

	_, err = dispatcher.Predict(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidBatch)
	_, err = dispatcher.Predict(context.Background(), []RawRequest{
		{RequestID: []byte("a")},
		{RequestID: []byte("a")},
	})
	require.ErrorIs(t, err, ErrDuplicateRequestID)
	assert.Zero(t, entry.calls)
}

func TestDispatcherReturnsEntryPointErrorUnchanged(t *testing.T) {
	inferenceErr := errors.New("device lost")
	entry := &recordingEntryPoint{err: inferenceErr}
	dispatcher, err := NewDispatcher(testRequestContext(t), entry.handle)
	require.NoError(t, err)

	_, err = dispatcher.Predict(context.Background(), singleParamBatch())
	assert.Same(t, inferenceErr, err)
	assert.Equal(t, 1, entry.calls)
}

func TestDispatcherPredictionCountMismatch(t *testing.T) {
	entry := &recordingEntryPoint{predictions: []Prediction{"a", "b"}}
	dispatcher, err := NewDispatcher(testRequestContext(t), entry.handle)
	require.NoError(t, err)

	_, err = dispatcher.Predict(context.Background(), singleParamBatch())
	require.ErrorIs(t, err, ErrPredictionCountMismatch)
}

func TestDispatcherEmptyBatch(t *testing.T) {
	entry := &recordingEntryPoint{predictions: []Prediction{}}
	dispatcher, err := NewDispatcher(testRequestContext(t), entry.handle)
	require.NoError(t, err)

	responses, err := dispatcher.Predict(context.Background(), []RawRequest{})
	require.NoError(t, err)
	assert.Empty(t, responses)
	assert.Equal(t, 1, entry.calls)
}

func TestDispatcherResponseProperties(t *testing.T) {
	entry := func(_ context.Context, inputs []Input, call *CallContext) ([]Prediction, error) {
		out := make([]Prediction, len(inputs))
		for idx := range inputs {
			out[idx] = map[string]int{"idx": idx}
		}
		require.NoError(t, call.SetResponseContentType(1, "application/x-custom"))
		require.NoError(t, call.SetResponseStatus(1, http.StatusAccepted, ""))
		require.NoError(t, call.SetResponseHeader(1, "X-Model", "testmodel"))
		assert.Error(t, call.SetResponseStatus(5, http.StatusAccepted, ""))
		call.Metrics.AddTime("HandlerTime", 1.5)
		call.Metrics.AddCounter("Rows", 2)
		assert.Equal(t, []byte("payload-b"), call.Payload(1))
		return out, nil
	}
	dispatcher, err := NewDispatcher(testRequestContext(t), entry)
	require.NoError(t, err)

	responses, metrics, err := dispatcher.PredictWithMetrics(context.Background(), []RawRequest{
		{RequestID: []byte("a")},
		{RequestID: []byte("b"), Data: []byte("payload-b")},
	})
	require.NoError(t, err)
	require.Len(t, responses, 2)

	assert.Equal(t, "a", responses[0].RequestID)
	assert.Equal(t, http.StatusOK, responses[0].StatusCode)
	assert.Equal(t, contentTypeJSON, responses[0].ContentType)
	assert.JSONEq(t, `{"idx":0}`, string(responses[0].Body))

	assert.Equal(t, "b", responses[1].RequestID)
	assert.Equal(t, http.StatusAccepted, responses[1].StatusCode)
	assert.Equal(t, "Accepted", responses[1].Phrase)
	assert.Equal(t, "application/x-custom", responses[1].ContentType)
	assert.Equal(t, map[string]string{"X-Model": "testmodel"}, responses[1].Headers)

	assert.Equal(t, map[string]any{"HandlerTime": 1.5, "Rows": int64(2)}, metrics)
}

func TestEncodePrediction(t *testing.T) {
	tests := []struct {
		name        string
		prediction  Prediction
		body        string
		contentType string
	}{
		{name: "bytes", prediction: []byte{0x01, 0x02}, body: "\x01\x02"},
		{name: "string", prediction: "hello", body: "hello", contentType: contentTypeText},
		{name: "raw json", prediction: json.RawMessage(`{"a":1}`), body: `{"a":1}`, contentType: contentTypeJSON},
		{name: "struct", prediction: struct {
			Score float64 `json:"score"`
		}{Score: 0.5}, body: `{"score":0.5}`, contentType: contentTypeJSON},
		{name: "nil", prediction: nil, body: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType, err := encodePrediction(tt.prediction)
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(body))
			assert.Equal(t, tt.contentType, contentType)
		})
	}

	_, _, err := encodePrediction(make(chan int))
	assert.Error(t, err)
}
