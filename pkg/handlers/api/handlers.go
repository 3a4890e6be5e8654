// Package api provides HTTP handlers for the download API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"media-fetch-go/pkg/appctx"
	"media-fetch-go/pkg/gpu"
	"media-fetch-go/pkg/jobs"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/types"
)

const maxBodySize = 64 << 10

// Handlers contains all API handlers.
type Handlers struct {
	ctx *appctx.Context
	log *logging.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ctx *appctx.Context) *Handlers {
	return &Handlers{
		ctx: ctx,
		log: ctx.Log.WithComponent("api"),
	}
}

// RegisterRoutes registers all API routes.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)

	// URL import routes
	mux.HandleFunc("GET /import/url/defaults", h.handleDefaults)
	mux.HandleFunc("POST /import/url/start", h.handleStart)
	mux.HandleFunc("GET /import/url", h.handleList)
	mux.HandleFunc("GET /import/url/{id}", h.handleStatus)
	mux.HandleFunc("POST /import/url/{id}/cancel", h.handleCancel)

	// Introspection
	mux.HandleFunc("GET /api/extractors", h.handleExtractors)
	mux.HandleFunc("GET /api/gpu", h.handleGPU)
}

type healthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// handleHealth always answers 200; missing tools are reported per dependency.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Dependencies: map[string]string{}}
	if h.ctx.Generic != nil {
		resp.Dependencies["yt-dlp"] = dependencyState(h.ctx.Generic.Available(r.Context()))
	}
	if h.ctx.Media != nil {
		resp.Dependencies["ffmpeg"] = dependencyState(h.ctx.Media.Available())
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func dependencyState(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

func (h *Handlers) handleDefaults(w http.ResponseWriter, r *http.Request) {
	dir := h.ctx.Config.DownloadDir
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"download_dir": dir})
}

type startRequest struct {
	URL         string `json:"url"`
	DownloadDir string `json:"download_dir"`
}

func (h *Handlers) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil || json.Unmarshal(body, &req) != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.ctx.Jobs.Start(req.URL, req.DownloadDir)
	switch {
	case errors.Is(err, jobs.ErrInvalidURL):
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrClosed):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.Info("download started", "download_id", job.ID, "url", job.URL)
	h.writeJSON(w, http.StatusAccepted, job)
}

func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ctx.Jobs.List())
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.ctx.Jobs.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handlers) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.ctx.Jobs.Cancel(r.PathValue("id"))
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrNotActive):
		h.writeJSON(w, http.StatusConflict, job)
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.writeJSON(w, http.StatusOK, job)
	}
}

type extractorInfo struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

func (h *Handlers) handleExtractors(w http.ResponseWriter, r *http.Request) {
	names := h.ctx.Extractors.Names()
	result := make([]extractorInfo, len(names))
	for i, name := range names {
		result[i] = extractorInfo{Name: name, Priority: i}
	}
	h.writeJSON(w, http.StatusOK, result)
}

type gpuResponse struct {
	types.GPUInfo
	Flags []string `json:"flags"`
}

func (h *Handlers) handleGPU(w http.ResponseWriter, r *http.Request) {
	info := h.ctx.GPU.Detect(context.WithoutCancel(r.Context()))
	flags := gpu.Flags(info, h.ctx.Config.GPULayers)
	if flags == nil {
		flags = []string{}
	}
	h.writeJSON(w, http.StatusOK, gpuResponse{GPUInfo: info, Flags: flags})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Debug("failed to write response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
