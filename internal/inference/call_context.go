package inference

import (
	"fmt"
	"maps"
	"sync"
)

// CallContext is what an entry point sees besides its inputs. It lives for a
// single dispatch.
type CallContext struct {
	Request    *RequestContext
	Properties []*PropertyTable
	IDs        IDMap
	Metrics    *MetricsStore

	payloads [][]byte
}

func newCallContext(rc *RequestContext, batch *Batch) *CallContext {
	return &CallContext{
		Request:    rc,
		Properties: batch.Properties,
		IDs:        batch.IDs,
		Metrics:    NewMetricsStore(),
		payloads:   batch.Payloads,
	}
}

// Payload returns the raw body sent with the request at position idx.
func (c *CallContext) Payload(idx int) []byte {
	if idx < 0 || idx >= len(c.payloads) {
		return nil
	}
	return c.payloads[idx]
}

func (c *CallContext) RequestProperty(idx int, name string) (Property, bool) {
	table := c.table(idx)
	if table == nil {
		return Property{}, false
	}
	return table.Property(name)
}

func (c *CallContext) SetResponseContentType(idx int, contentType string) error {
	table := c.table(idx)
	if table == nil {
		return fmt.Errorf("response index %d out of range [0,%d)", idx, len(c.Properties))
	}
	table.setResponseContentType(contentType)
	return nil
}

// SetResponseStatus overrides the status reported for one request. An empty
// phrase defaults to the standard HTTP status text.
func (c *CallContext) SetResponseStatus(idx int, code int, phrase string) error {
	table := c.table(idx)
	if table == nil {
		return fmt.Errorf("response index %d out of range [0,%d)", idx, len(c.Properties))
	}
	table.setResponseStatus(code, phrase)
	return nil
}

func (c *CallContext) SetResponseHeader(idx int, name string, value string) error {
	table := c.table(idx)
	if table == nil {
		return fmt.Errorf("response index %d out of range [0,%d)", idx, len(c.Properties))
	}
	table.setResponseHeader(name, value)
	return nil
}

func (c *CallContext) table(idx int) *PropertyTable {
	if idx < 0 || idx >= len(c.Properties) {
		return nil
	}
	return c.Properties[idx]
}

// MetricsStore collects metrics an entry point records during one dispatch.
type MetricsStore struct {
	mu     sync.Mutex
	values map[string]any
}

func NewMetricsStore() *MetricsStore {
	return &MetricsStore{values: make(map[string]any)}
}

func (s *MetricsStore) AddTime(name string, millis float64) {
	s.set(name, millis)
}

func (s *MetricsStore) AddCounter(name string, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, _ := s.values[name].(int64)
	s.values[name] = current + delta
}

func (s *MetricsStore) AddGauge(name string, value float64) {
	s.set(name, value)
}

func (s *MetricsStore) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}

func (s *MetricsStore) set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}
