package inference

import (
	"encoding/json"
	"maps"
	"net/http"
	"strings"
)

// Property is the metadata recorded for one parameter name. ContentType has
// the same shape as the parameter's value in the input batch.
type Property struct {
	ContentType Value `json:"contentType"`
}

// PropertyTable holds one request's parameter metadata, its request-level
// headers and the response properties set by the entry point.
type PropertyTable struct {
	params   map[string]Property
	headers  map[string]string
	response ResponseProperties
}

type ResponseProperties struct {
	ContentType string
	StatusCode  int
	Phrase      string
	Headers     map[string]string
}

func NewPropertyTable() *PropertyTable {
	return &PropertyTable{
		params:  make(map[string]Property),
		headers: make(map[string]string),
	}
}

func (t *PropertyTable) Property(name string) (Property, bool) {
	p, ok := t.params[name]
	return p, ok
}

// ContentType returns the content type recorded for name, or the zero Value
// and false when the parameter was not sent.
func (t *PropertyTable) ContentType(name string) (Value, bool) {
	p, ok := t.params[name]
	if !ok {
		return Value{}, false
	}
	return p.ContentType, true
}

func (t *PropertyTable) Names() []string {
	names := make([]string, 0, len(t.params))
	for name := range t.params {
		names = append(names, name)
	}
	return names
}

func (t *PropertyTable) Len() int { return len(t.params) }

// Header looks up a request-level header case-insensitively.
func (t *PropertyTable) Header(name string) (string, bool) {
	value, ok := t.headers[strings.ToLower(name)]
	return value, ok
}

func (t *PropertyTable) Headers() map[string]string {
	return maps.Clone(t.headers)
}

func (t *PropertyTable) Response() ResponseProperties {
	out := t.response
	out.Headers = maps.Clone(t.response.Headers)
	return out
}

func (t *PropertyTable) setParam(name string, contentType Value) {
	t.params[name] = Property{ContentType: contentType}
}

func (t *PropertyTable) setHeader(name string, value string) {
	t.headers[strings.ToLower(name)] = value
}

func (t *PropertyTable) setResponseContentType(contentType string) {
	t.response.ContentType = contentType
}

func (t *PropertyTable) setResponseStatus(code int, phrase string) {
	t.response.StatusCode = code
	if phrase == "" {
		phrase = http.StatusText(code)
	}
	t.response.Phrase = phrase
}

func (t *PropertyTable) setResponseHeader(name string, value string) {
	if t.response.Headers == nil {
		t.response.Headers = make(map[string]string)
	}
	t.response.Headers[name] = value
}

func (t *PropertyTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Parameters map[string]Property `json:"parameters"`
		Headers    map[string]string   `json:"headers,omitempty"`
	}{
		Parameters: t.params,
		Headers:    t.headers,
	})
}
