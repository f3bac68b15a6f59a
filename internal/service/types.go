package service

import (
	"unicode/utf8"

	"github.com/apex-x/modelworker/internal/inference"
)

// PredictRequest is the JSON form of one inbound request.
type PredictRequest struct {
	RequestID  string                `json:"requestId,omitempty"`
	Parameters []inference.Parameter `json:"parameters,omitempty"`
	Data       []byte                `json:"data,omitempty"`
	Headers    []inference.Header    `json:"headers,omitempty"`
}

func (r PredictRequest) raw() inference.RawRequest {
	return inference.RawRequest{
		RequestID:  []byte(r.RequestID),
		Parameters: r.Parameters,
		Data:       r.Data,
		Headers:    r.Headers,
	}
}

// RawBatch converts reqs for the dispatcher. A nil batch stays nil so
// normalization can reject it.
func RawBatch(reqs []PredictRequest) []inference.RawRequest {
	if reqs == nil {
		return nil
	}
	out := make([]inference.RawRequest, len(reqs))
	for idx, req := range reqs {
		out[idx] = req.raw()
	}
	return out
}

// PredictResponse is one element of a /predict/batch reply. Body is set for
// UTF-8 payloads, BodyBase64 otherwise.
type PredictResponse struct {
	RequestID   string            `json:"requestId"`
	Code        int               `json:"code"`
	Phrase      string            `json:"phrase"`
	ContentType string            `json:"contentType,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        *string           `json:"body,omitempty"`
	BodyBase64  []byte            `json:"bodyBase64,omitempty"`
}

func newPredictResponse(resp inference.Response) PredictResponse {
	out := PredictResponse{
		RequestID:   resp.RequestID,
		Code:        resp.StatusCode,
		Phrase:      resp.Phrase,
		ContentType: resp.ContentType,
		Headers:     resp.Headers,
	}
	if utf8.Valid(resp.Body) {
		body := string(resp.Body)
		out.Body = &body
	} else {
		out.BodyBase64 = resp.Body
	}
	return out
}

type ModelDescription struct {
	ModelName        string            `json:"modelName"`
	ModelVersion     string            `json:"modelVersion"`
	Manifest         string            `json:"manifest"`
	BatchSize        int               `json:"batchSize"`
	Device           int               `json:"device"`
	Handler          string            `json:"handler"`
	SystemProperties map[string]string `json:"systemProperties"`
}

func describeModel(rc *inference.RequestContext, handler string) ModelDescription {
	return ModelDescription{
		ModelName:        rc.ModelName(),
		ModelVersion:     rc.ModelVersion(),
		Manifest:         rc.Manifest(),
		BatchSize:        rc.BatchSize(),
		Device:           rc.Device(),
		Handler:          handler,
		SystemProperties: rc.SystemProperties(),
	}
}
