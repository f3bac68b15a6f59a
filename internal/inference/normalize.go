package inference

import (
	"fmt"
	"strings"
)

// ArrayMarker is the parameter name suffix that marks a list-valued field.
const ArrayMarker = "[]"

// Input maps parameter names to their values for one request.
type Input map[string]Value

// IDMap maps batch position to request identifier.
type IDMap []string

func (m IDMap) Lookup(position int) (string, bool) {
	if position < 0 || position >= len(m) {
		return "", false
	}
	return m[position], true
}

func (m IDMap) Position(requestID string) (int, bool) {
	for idx, id := range m {
		if id == requestID {
			return idx, true
		}
	}
	return -1, false
}

// Batch is the normalized form of a raw batch. All slices have the length of
// the raw batch and are indexed by batch position.
type Batch struct {
	Properties []*PropertyTable
	Inputs     []Input
	IDs        IDMap
	Payloads   [][]byte
}

func (b *Batch) Len() int { return len(b.IDs) }

// Normalize turns a raw batch into per-request inputs and property tables.
// A nil batch is rejected; an empty one yields an empty Batch.
func Normalize(raw []RawRequest) (*Batch, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: batch is nil", ErrInvalidBatch)
	}
	out := &Batch{
		Properties: make([]*PropertyTable, len(raw)),
		Inputs:     make([]Input, len(raw)),
		IDs:        make(IDMap, len(raw)),
		Payloads:   make([][]byte, len(raw)),
	}
	seen := make(map[string]int, len(raw))
	for pos, req := range raw {
		requestID := string(req.RequestID)
		if requestID == "" {
			return nil, fmt.Errorf("%w: request at position %d has no identifier", ErrInvalidBatch, pos)
		}
		if prev, dup := seen[requestID]; dup {
			return nil, fmt.Errorf(
				"%w: %q at positions %d and %d",
				ErrDuplicateRequestID,
				requestID,
				prev,
				pos,
			)
		}
		seen[requestID] = pos

		input, props, err := normalizeRequest(req)
		if err != nil {
			return nil, fmt.Errorf("request %q: %w", requestID, err)
		}
		out.IDs[pos] = requestID
		out.Inputs[pos] = input
		out.Properties[pos] = props
		out.Payloads[pos] = req.Data
	}
	return out, nil
}

func normalizeRequest(req RawRequest) (Input, *PropertyTable, error) {
	input := make(Input, len(req.Parameters))
	props := NewPropertyTable()
	// true when the key was first sent with the array marker
	marked := make(map[string]bool, len(req.Parameters))

	for _, param := range req.Parameters {
		key, isMarked := parameterKey(param.Name)
		firstMarked, seen := marked[key]
		if !seen {
			marked[key] = isMarked
			input[key] = Scalar(param.Value)
			props.setParam(key, Scalar(param.ContentType))
			continue
		}
		if firstMarked != isMarked {
			return nil, nil, fmt.Errorf("%w: %q", ErrAmbiguousParameter, key)
		}
		input[key] = input[key].appendValue(param.Value)
		contentType, _ := props.ContentType(key)
		props.setParam(key, contentType.appendValue(param.ContentType))
	}
	for _, header := range req.Headers {
		props.setHeader(header.Name, header.Value)
	}
	return input, props, nil
}

func parameterKey(name string) (string, bool) {
	if key, ok := strings.CutSuffix(name, ArrayMarker); ok {
		return key, true
	}
	return name, false
}
