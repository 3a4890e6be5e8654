// Package jobs runs downloads in the background and tracks their state for
// the HTTP API.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"media-fetch-go/pkg/config"
	"media-fetch-go/pkg/download"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/types"
)

var (
	ErrNotFound   = errors.New("download not found")
	ErrNotActive  = errors.New("download is not active")
	ErrInvalidURL = errors.New("a valid http(s) url is required")
	ErrClosed     = errors.New("job manager is closed")
)

const defaultCleanupInterval = time.Minute

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Finished reports whether s is terminal.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is a snapshot of one background download.
type Job struct {
	ID                 string               `json:"download_id"`
	URL                string               `json:"url"`
	Status             Status               `json:"status"`
	Progress           float64              `json:"progress"`
	Message            string               `json:"message"`
	Error              string               `json:"error,omitempty"`
	DownloadedBytes    int64                `json:"downloaded_bytes"`
	TotalBytes         int64                `json:"total_bytes,omitempty"`
	TotalBytesEstimate int64                `json:"total_bytes_estimate,omitempty"`
	FragmentIndex      int                  `json:"fragment_index,omitempty"`
	FragmentCount      int                  `json:"fragment_count,omitempty"`
	DownloadDir        string               `json:"download_dir"`
	File               *types.OutcomeFile   `json:"file,omitempty"`
	Source             *types.OutcomeSource `json:"source,omitempty"`
	DurationSec        *float64             `json:"duration_sec,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	FinishedAt         *time.Time           `json:"finished_at,omitempty"`
}

// Downloader runs one download. *download.Service satisfies it.
type Downloader interface {
	Download(ctx context.Context, req *types.DownloadRequest) (*types.DownloadOutcome, error)
}

type jobState struct {
	mu        sync.Mutex
	job       Job
	cancel    atomic.Bool
	cancelled chan struct{}
	once      sync.Once
	done      chan struct{}
}

func (s *jobState) requestCancel() {
	s.cancel.Store(true)
	s.once.Do(func() { close(s.cancelled) })
}

func (s *jobState) snapshot() Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

func (s *jobState) update(fn func(j *Job)) {
	s.mu.Lock()
	fn(&s.job)
	s.mu.Unlock()
}

// Manager schedules downloads with bounded concurrency.
type Manager struct {
	cfg        *config.Config
	downloader Downloader
	log        *logging.Logger

	sem             chan struct{}
	cleanupInterval time.Duration
	now             func() time.Time

	mu     sync.RWMutex
	jobs   map[string]*jobState
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a job manager and starts its cleanup loop.
func NewManager(cfg *config.Config, downloader Downloader, log *logging.Logger) *Manager {
	limit := cfg.MaxConcurrentDownloads
	if limit < 1 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:             cfg,
		downloader:      downloader,
		log:             log.WithComponent("jobs"),
		sem:             make(chan struct{}, limit),
		cleanupInterval: defaultCleanupInterval,
		now:             time.Now,
		jobs:            make(map[string]*jobState),
		ctx:             ctx,
		cancel:          cancel,
	}

	if cfg.JobRetention > 0 {
		m.wg.Add(1)
		go m.cleanupLoop()
	}
	return m
}

// Start queues a download of rawURL into dir (the configured download
// directory when empty) and returns its initial snapshot.
func (m *Manager) Start(rawURL, dir string) (*Job, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !validURL(rawURL) {
		return nil, ErrInvalidURL
	}
	if dir = strings.TrimSpace(dir); dir == "" {
		dir = m.cfg.DownloadDir
	}

	state := &jobState{
		job: Job{
			ID:          download.NewDownloadID(),
			URL:         rawURL,
			Status:      StatusQueued,
			Message:     "Queued",
			DownloadDir: dir,
			CreatedAt:   m.now(),
		},
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.jobs[state.job.ID] = state
	m.wg.Add(1)
	m.mu.Unlock()

	job := state.snapshot()
	m.log.Info("download queued", "download_id", job.ID, "url", rawURL, "dir", dir)
	go m.run(state)

	return &job, nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func (m *Manager) run(state *jobState) {
	defer m.wg.Done()
	defer close(state.done)

	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-state.cancelled:
		m.finish(state, nil, types.ErrCancelled)
		return
	case <-m.ctx.Done():
		m.finish(state, nil, types.ErrCancelled)
		return
	}

	job := state.snapshot()
	state.update(func(j *Job) {
		j.Status = StatusDownloading
		j.Message = "Starting download"
	})

	outcome, err := m.downloader.Download(m.ctx, &types.DownloadRequest{
		URL:               job.URL,
		Dir:               job.DownloadDir,
		AllowedExtensions: m.cfg.AllowedExtensions,
		DownloadID:        job.ID,
		Cancel:            &state.cancel,
		Progress:          func(p types.Progress) { state.update(func(j *Job) { applyProgress(j, p) }) },
		OnStage:           func(s types.Stage) { state.update(func(j *Job) { applyStage(j, s) }) },
	})
	m.finish(state, outcome, err)
}

func (m *Manager) finish(state *jobState, outcome *types.DownloadOutcome, err error) {
	now := m.now()
	state.update(func(j *Job) {
		j.FinishedAt = &now
		switch {
		case err == nil:
			j.Status = StatusCompleted
			j.Progress = 100
			j.Message = "Download complete"
			j.File = &outcome.File
			j.Source = &outcome.Source
			j.DurationSec = outcome.DurationSec
		case errors.Is(err, types.ErrCancelled):
			j.Status = StatusCancelled
			j.Message = "Download cancelled"
		default:
			j.Status = StatusFailed
			j.Message = "Download failed"
			j.Error = err.Error()
		}
	})

	job := state.snapshot()
	m.log.Info("download finished", "download_id", job.ID, "status", job.Status)
}

func applyProgress(j *Job, p types.Progress) {
	if j.Status.Finished() {
		return
	}
	j.DownloadedBytes = p.DownloadedBytes
	j.TotalBytes = p.TotalBytes
	j.TotalBytesEstimate = p.TotalBytesEstimate
	j.FragmentIndex = p.FragmentIndex
	j.FragmentCount = p.FragmentCount
	if pct := p.Percent(); pct >= 0 {
		j.Progress = min(pct, 100)
	}

	if p.Status == types.ProgressFinished {
		j.Status = StatusProcessing
		j.Message = "Processing"
		return
	}
	j.Status = StatusDownloading
	total := p.TotalBytes
	if total == 0 {
		total = p.TotalBytesEstimate
	}
	if total > 0 {
		j.Message = fmt.Sprintf("Downloading %s of %s", humanize.Bytes(uint64(p.DownloadedBytes)), humanize.Bytes(uint64(total)))
	} else {
		j.Message = fmt.Sprintf("Downloading %s", humanize.Bytes(uint64(p.DownloadedBytes)))
	}
}

func applyStage(j *Job, s types.Stage) {
	switch s {
	case types.StageDispatch, types.StageExtract:
		j.Status = StatusDownloading
		j.Message = "Resolving media"
	case types.StageTransfer:
		j.Status = StatusDownloading
		j.Message = "Downloading"
	case types.StageResolve, types.StageVerify:
		j.Status = StatusProcessing
		j.Message = "Verifying file"
	case types.StageTranscode:
		j.Status = StatusProcessing
		j.Message = "Converting to H.264/AAC"
	case types.StageRename:
		j.Status = StatusProcessing
		j.Message = "Finalizing"
	}
}

// Get returns a snapshot of the job with the given id.
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	state, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	job := state.snapshot()
	return &job, nil
}

// Cancel asks a queued or running job to stop. The job reaches the
// cancelled status asynchronously.
func (m *Manager) Cancel(id string) (*Job, error) {
	m.mu.RLock()
	state, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	state.mu.Lock()
	if state.job.Status.Finished() {
		job := state.job
		state.mu.Unlock()
		return &job, fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	state.job.Message = "Cancelling"
	job := state.job
	state.mu.Unlock()

	state.requestCancel()
	m.log.Info("cancel requested", "download_id", id)
	return &job, nil
}

// Wait blocks until the job finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (*Job, error) {
	m.mu.RLock()
	state, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	select {
	case <-state.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	job := state.snapshot()
	return &job, nil
}

// List returns all known jobs, newest first.
func (m *Manager) List() []Job {
	m.mu.RLock()
	result := make([]Job, 0, len(m.jobs))
	for _, state := range m.jobs {
		result = append(result, state.snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})
	return result
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup forgets finished jobs older than the retention period. Files on
// disk are left alone.
func (m *Manager) cleanup() int {
	cutoff := m.now().Add(-m.cfg.JobRetention)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, state := range m.jobs {
		job := state.snapshot()
		if job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		m.log.Debug("evicted finished jobs", "count", removed)
	}
	return removed
}

// Close cancels every active job and waits for them to stop.
func (m *Manager) Close() error {
	m.log.Info("shutting down job manager")

	m.mu.Lock()
	m.closed = true
	for _, state := range m.jobs {
		state.requestCancel()
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	return nil
}
