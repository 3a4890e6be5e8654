// Package app provides the main application setup and dependency injection.
package app

import (
	"context"

	"media-fetch-go/pkg/appctx"
	"media-fetch-go/pkg/config"
	"media-fetch-go/pkg/download"
	"media-fetch-go/pkg/extractors"
	"media-fetch-go/pkg/flaresolverr"
	"media-fetch-go/pkg/gpu"
	"media-fetch-go/pkg/handlers/api"
	"media-fetch-go/pkg/hls"
	"media-fetch-go/pkg/httpclient"
	"media-fetch-go/pkg/jobs"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/media"
	"media-fetch-go/pkg/registry"
	"media-fetch-go/pkg/server"
	"media-fetch-go/pkg/transfer"
)

// App is the main application container.
type App struct {
	Ctx          *appctx.Context
	Server       *server.Server
	HTTPClient   *httpclient.Client
	ExtractorReg *registry.ExtractorRegistry
	TransferReg  *registry.TransferRegistry
	Generic      *transfer.Generic
	Media        *media.Tool
}

// New creates and initializes the application from cfg.
func New(cfg *config.Config, log *logging.Logger) *App {
	log.Info("initializing media fetcher", "download_dir", cfg.DownloadDir, "log_level", cfg.LogLevel)

	ctx := appctx.New(cfg, log)
	httpClient := httpclient.New(cfg, log)

	// Create FlareSolverr client if configured
	var flareClient *flaresolverr.Client
	if cfg.FlareSolverrURL != "" {
		flareClient = flaresolverr.NewClient(cfg.FlareSolverrURL, cfg.FlareSolverrTimeout, log)
		log.Info("FlareSolverr client enabled", "url", cfg.FlareSolverrURL)
	}

	extractorReg := registry.NewExtractorRegistry()
	registerExtractors(extractorReg, httpClient, hls.NewExpander(httpClient, log), log, flareClient)

	transferReg := registry.NewTransferRegistry()
	registerTransfers(transferReg, httpClient, cfg, log)

	generic := transfer.NewGeneric(cfg.YtDlpPath, cfg.FFmpegPath, log)
	tool := media.NewTool(cfg.FFmpegPath, log)

	ctx.WithExtractors(extractorReg).
		WithTools(generic, tool).
		WithDownloads(download.NewService(extractorReg, transferReg, generic, tool, log)).
		WithGPU(gpu.NewDetector(cfg.GPUForceCPU, cfg.EngineDirs, log))
	ctx.WithJobs(jobs.NewManager(cfg, ctx.Downloads, log))

	srv := server.New(cfg, log)
	api.NewHandlers(ctx).RegisterRoutes(srv.Router())

	return &App{
		Ctx:          ctx,
		Server:       srv,
		HTTPClient:   httpClient,
		ExtractorReg: extractorReg,
		TransferReg:  transferReg,
		Generic:      generic,
		Media:        tool,
	}
}

// Run serves the HTTP API until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.Ctx.Log.Info("starting media fetcher server", "port", a.Ctx.Config.Port)
	return a.Server.Start(ctx)
}

// Shutdown stops background jobs and releases extractors.
func (a *App) Shutdown() {
	a.Ctx.Log.Info("shutting down application")

	if a.Ctx.Jobs != nil {
		a.Ctx.Jobs.Close()
	}
	a.ExtractorReg.Close()
}

// registerTransfers registers the transfer engines. Formats no engine claims
// go through the plain HTTP engine.
func registerTransfers(reg *registry.TransferRegistry, client *httpclient.Client, cfg *config.Config, log *logging.Logger) {
	reg.Register(transfer.NewHLS(cfg.FFmpegPath, log))
	reg.SetFallback(transfer.NewHTTP(client, log))

	log.Info("registered transfer engines", "count", len(reg.All())+1) // +1 for fallback
}

// registerExtractors registers all site extractors. Registration order is
// dispatch priority.
// Add new extractors here by:
// 1. Creating a new extractor in pkg/extractors/
// 2. Registering it below
func registerExtractors(
	reg *registry.ExtractorRegistry,
	client *httpclient.Client,
	expander *hls.Expander,
	log *logging.Logger,
	flareClient *flaresolverr.Client,
) {
	reg.Register(extractors.NewDouyinExtractor(client, flareClient, log))
	reg.Register(extractors.NewThreadsExtractor(client, flareClient, log))
	reg.Register(extractors.NewKuaishouExtractor(client, flareClient, log))
	reg.Register(extractors.NewThisAVExtractor(client, expander, flareClient, log))
	reg.Register(extractors.NewMissAVExtractor(client, expander, flareClient, log))
	reg.Register(extractors.NewAVGLExtractor(client, expander, flareClient, log))

	log.Info("registered extractors", "count", len(reg.All()))
}
