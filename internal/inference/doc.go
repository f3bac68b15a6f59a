// Package inference normalizes batches of raw worker requests and dispatches
// them to a model entry point.
//
// A batch goes through Normalize, which produces one Input and one
// PropertyTable per request plus the position to request id mapping. The
// Dispatcher invokes the entry point once per batch and pairs each prediction
// with the request it answers. MetricsEmitter writes "[METRICS]" log records
// for log-scraping collectors.
package inference
