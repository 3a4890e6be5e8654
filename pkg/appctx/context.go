// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"media-fetch-go/pkg/config"
	"media-fetch-go/pkg/download"
	"media-fetch-go/pkg/gpu"
	"media-fetch-go/pkg/interfaces"
	"media-fetch-go/pkg/jobs"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/media"
	"media-fetch-go/pkg/registry"
)

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config     *config.Config
	Log        *logging.Logger
	Downloads  *download.Service
	Jobs       *jobs.Manager
	Extractors *registry.ExtractorRegistry
	GPU        *gpu.Detector
	Generic    interfaces.GenericDownloader
	Media      *media.Tool
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	return &Context{
		Config: cfg,
		Log:    log,
	}
}

// WithDownloads sets the download service.
func (c *Context) WithDownloads(s *download.Service) *Context {
	c.Downloads = s
	return c
}

// WithJobs sets the background job manager.
func (c *Context) WithJobs(m *jobs.Manager) *Context {
	c.Jobs = m
	return c
}

// WithExtractors sets the extractor registry.
func (c *Context) WithExtractors(r *registry.ExtractorRegistry) *Context {
	c.Extractors = r
	return c
}

// WithGPU sets the GPU detector.
func (c *Context) WithGPU(d *gpu.Detector) *Context {
	c.GPU = d
	return c
}

// WithTools sets the external tools reported by the health check.
func (c *Context) WithTools(generic interfaces.GenericDownloader, tool *media.Tool) *Context {
	c.Generic = generic
	c.Media = tool
	return c
}
