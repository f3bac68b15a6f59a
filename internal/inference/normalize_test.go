package inference

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func singleParamBatch() []RawRequest {
	return []RawRequest{
		{
			RequestID: []byte("123"),
			Parameters: []Parameter{
				{Name: "xyz", Value: "abc", ContentType: "text/csv"},
			},
			Data: []byte{},
		},
	}
}

func repeatedParamBatch(name string) []RawRequest {
	return []RawRequest{
		{
			RequestID: []byte("123"),
			Parameters: []Parameter{
				{Name: name, Value: "abc1", ContentType: "text/plain"},
				{Name: name, Value: "abc2", ContentType: "text/csv"},
			},
			Data: []byte{},
		},
	}
}

func TestNormalizeNilBatch(t *testing.T) {
	_, err := Normalize(nil)
	require.ErrorIs(t, err, ErrInvalidBatch)
	assert.Contains(t, err.Error(), "received invalid inputs")
}

func TestNormalizeEmptyBatch(t *testing.T) {
	batch, err := Normalize([]RawRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Len())
	assert.Empty(t, batch.Properties)
	assert.Empty(t, batch.Inputs)
	assert.Empty(t, batch.Payloads)
}

func TestNormalizeSingleParameter(t *testing.T) {
	batch, err := Normalize(singleParamBatch())
	require.NoError(t, err)

	contentType, ok := batch.Properties[0].ContentType("xyz")
	require.True(t, ok)
	assert.Equal(t, Scalar("text/csv"), contentType)
	assert.Equal(t, Input{"xyz": Scalar("abc")}, batch.Inputs[0])
	assert.Equal(t, IDMap{"123"}, batch.IDs)
}

func TestNormalizeRepeatedParameter(t *testing.T) {
	for _, name := range []string{"xyz", "xyz[]"} {
		t.Run(name, func(t *testing.T) {
			batch, err := Normalize(repeatedParamBatch(name))
			require.NoError(t, err)

			contentType, ok := batch.Properties[0].ContentType("xyz")
			require.True(t, ok)
			assert.Equal(t, List("text/plain", "text/csv"), contentType)
			assert.Equal(t, Input{"xyz": List("abc1", "abc2")}, batch.Inputs[0])
			assert.Equal(t, IDMap{"123"}, batch.IDs)
		})
	}
}

func TestNormalizeMarkedSingleOccurrenceStaysScalar(t *testing.T) {
	batch, err := Normalize([]RawRequest{{
		RequestID:  []byte("r1"),
		Parameters: []Parameter{{Name: "tags[]", Value: "a", ContentType: "text/plain"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, Input{"tags": Scalar("a")}, batch.Inputs[0])
}

func TestNormalizeThreeOccurrencesAppend(t *testing.T) {
	batch, err := Normalize([]RawRequest{{
		RequestID: []byte("r1"),
		Parameters: []Parameter{
			{Name: "img", Value: "1", ContentType: "image/png"},
			{Name: "other", Value: "x", ContentType: "text/plain"},
			{Name: "img", Value: "2", ContentType: "image/jpeg"},
			{Name: "img", Value: "3", ContentType: "image/gif"},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, List("1", "2", "3"), batch.Inputs[0]["img"])
	assert.Equal(t, Scalar("x"), batch.Inputs[0]["other"])
	contentType, _ := batch.Properties[0].ContentType("img")
	assert.Equal(t, List("image/png", "image/jpeg", "image/gif"), contentType)
}

func TestNormalizeRejectsMixedMarker(t *testing.T) {
	_, err := Normalize([]RawRequest{{
		RequestID: []byte("r1"),
		Parameters: []Parameter{
			{Name: "xyz", Value: "a"},
			{Name: "xyz[]", Value: "b"},
		},
	}})
	require.ErrorIs(t, err, ErrAmbiguousParameter)
}

func TestNormalizeRequestIdentifiers(t *testing.T) {
	tests := []struct {
		name    string
		batch   []RawRequest
		wantErr error
	}{
		{
			name:    "empty identifier",
			batch:   []RawRequest{{RequestID: nil}},
			wantErr: ErrInvalidBatch,
		},
		{
			name: "duplicate identifier",
			batch: []RawRequest{
				{RequestID: []byte("a")},
				{RequestID: []byte("b")},
				{RequestID: []byte("a")},
			},
			wantErr: ErrDuplicateRequestID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.batch)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNormalizeKeepsPayloadAndHeaders(t *testing.T) {
	batch, err := Normalize([]RawRequest{
		{RequestID: []byte("a"), Data: []byte("body-a"), Headers: []Header{{Name: "Accept", Value: "text/csv"}}},
		{RequestID: []byte("b")},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("body-a"), batch.Payloads[0])
	assert.Nil(t, batch.Payloads[1])
	accept, ok := batch.Properties[0].Header("accept")
	require.True(t, ok)
	assert.Equal(t, "text/csv", accept)
	assert.Equal(t, Input{}, batch.Inputs[1])
}

func TestNormalizeIsIdempotent(t *testing.T) {
	raw := repeatedParamBatch("xyz[]")
	first, err := Normalize(raw)
	require.NoError(t, err)
	second, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

type drawnParam struct {
	key         string
	value       string
	contentType string
}

func TestNormalizeProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.IntRange(0, 6).Draw(rt, "size")
		raw := make([]RawRequest, size)
		expected := make([][]drawnParam, size)
		for pos := range raw {
			params := rapid.SliceOfN(rapid.Custom(func(t *rapid.T) drawnParam {
				return drawnParam{
					key:         rapid.SampledFrom([]string{"a", "b", "c"}).Draw(t, "key"),
					value:       rapid.StringMatching(`[a-z0-9]{0,4}`).Draw(t, "value"),
					contentType: rapid.SampledFrom([]string{"text/plain", "text/csv", "application/json"}).Draw(t, "contentType"),
				}
			}), 0, 8).Draw(rt, fmt.Sprintf("params-%d", pos))
			marked := rapid.Bool().Draw(rt, fmt.Sprintf("marked-%d", pos))
			raw[pos].RequestID = []byte(fmt.Sprintf("req-%d", pos))
			for _, p := range params {
				name := p.key
				if marked {
					name += ArrayMarker
				}
				raw[pos].Parameters = append(raw[pos].Parameters, Parameter{
					Name:        name,
					Value:       p.value,
					ContentType: p.contentType,
				})
			}
			expected[pos] = params
		}

		batch, err := Normalize(raw)
		if err != nil {
			rt.Fatalf("Normalize() error = %v", err)
		}
		if len(batch.Properties) != size || len(batch.Inputs) != size || len(batch.IDs) != size {
			rt.Fatalf("output lengths %d/%d/%d for batch of %d",
				len(batch.Properties), len(batch.Inputs), len(batch.IDs), size)
		}

		for pos, params := range expected {
			values := map[string][]string{}
			types := map[string][]string{}
			for _, p := range params {
				values[p.key] = append(values[p.key], p.value)
				types[p.key] = append(types[p.key], p.contentType)
			}
			if len(batch.Inputs[pos]) != len(values) {
				rt.Fatalf("request %d has %d keys, want %d", pos, len(batch.Inputs[pos]), len(values))
			}
			for key, want := range values {
				got := batch.Inputs[pos][key]
				contentType, ok := batch.Properties[pos].ContentType(key)
				if !ok {
					rt.Fatalf("request %d missing property %q", pos, key)
				}
				if got.IsList() != contentType.IsList() {
					rt.Fatalf("request %d key %q shape mismatch", pos, key)
				}
				if len(want) == 1 {
					if scalar, isScalar := got.Scalar(); !isScalar || scalar != want[0] {
						rt.Fatalf("request %d key %q = %v, want scalar %q", pos, key, got, want[0])
					}
					continue
				}
				if !got.Equal(List(want...)) {
					rt.Fatalf("request %d key %q = %v, want %v", pos, key, got, want)
				}
				if !contentType.Equal(List(types[key]...)) {
					rt.Fatalf("request %d key %q content types = %v, want %v", pos, key, contentType, types[key])
				}
			}
		}
	})
}
