package inference

type Parameter struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	ContentType string `json:"contentType,omitempty"`
}

type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RawRequest is one element of an inbound batch.
type RawRequest struct {
	RequestID  []byte      `json:"requestId"`
	Parameters []Parameter `json:"parameters,omitempty"`
	Data       []byte      `json:"data,omitempty"`
	Headers    []Header    `json:"headers,omitempty"`
}
