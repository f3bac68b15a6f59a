package inference

import (
	"fmt"
	"strconv"
	"strings"
)

// NoDevice is the device index of a worker that runs without an accelerator.
const NoDevice = -1

const ServerName = "modelworker"

// RequestContext describes the model loaded by a worker. It is built once at
// startup and shared read-only by every batch the worker processes.
type RequestContext struct {
	modelName     string
	modelDir      string
	manifest      string
	batchSize     int
	device        int
	modelVersion  string
	serverVersion string
}

type RequestContextConfig struct {
	ModelName     string
	ModelDir      string
	Manifest      string
	BatchSize     int
	Device        int
	ModelVersion  string
	ServerVersion string
}

func NewRequestContext(cfg RequestContextConfig) (*RequestContext, error) {
	name := strings.TrimSpace(cfg.ModelName)
	if name == "" {
		return nil, fmt.Errorf("%w: model name is required", ErrInvalidContext)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be > 0, got %d", ErrInvalidContext, cfg.BatchSize)
	}
	if cfg.Device < NoDevice {
		return nil, fmt.Errorf("%w: device index must be >= %d, got %d", ErrInvalidContext, NoDevice, cfg.Device)
	}
	return &RequestContext{
		modelName:     name,
		modelDir:      cfg.ModelDir,
		manifest:      cfg.Manifest,
		batchSize:     cfg.BatchSize,
		device:        cfg.Device,
		modelVersion:  cfg.ModelVersion,
		serverVersion: cfg.ServerVersion,
	}, nil
}

func (c *RequestContext) ModelName() string    { return c.modelName }
func (c *RequestContext) ModelDir() string     { return c.modelDir }
func (c *RequestContext) Manifest() string     { return c.manifest }
func (c *RequestContext) BatchSize() int       { return c.batchSize }
func (c *RequestContext) Device() int          { return c.device }
func (c *RequestContext) HasDevice() bool      { return c.device != NoDevice }
func (c *RequestContext) ModelVersion() string { return c.modelVersion }

// SystemProperties returns the worker properties exposed to entry points.
// gpu_id is empty when the worker has no device.
func (c *RequestContext) SystemProperties() map[string]string {
	gpuID := ""
	if c.HasDevice() {
		gpuID = strconv.Itoa(c.device)
	}
	return map[string]string{
		"model_dir":      c.modelDir,
		"gpu_id":         gpuID,
		"batch_size":     strconv.Itoa(c.batchSize),
		"server_name":    ServerName,
		"server_version": c.serverVersion,
	}
}
