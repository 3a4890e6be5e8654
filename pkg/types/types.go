// Package types defines core domain types used throughout the application.
package types

import (
	"path/filepath"
	"sync/atomic"
)

// Protocol identifies how a format is transferred.
type Protocol string

const (
	ProtocolHTTPS Protocol = "https"
	ProtocolHLS   Protocol = "m3u8"
)

// Format is one concrete, directly fetchable media representation.
// Zero values mean the field is unknown.
type Format struct {
	URL         string            `json:"url"`
	Ext         string            `json:"ext"`
	Protocol    Protocol          `json:"protocol,omitempty"`
	Width       int               `json:"width,omitempty"`
	Height      int               `json:"height,omitempty"`
	TBR         float64           `json:"tbr,omitempty"` // kbps
	Filesize    int64             `json:"filesize,omitempty"`
	FormatID    string            `json:"format_id,omitempty"`
	HTTPHeaders map[string]string `json:"http_headers,omitempty"`
}

// IsHLS returns true if the format must be fetched as an HLS playlist.
func (f Format) IsHLS() bool {
	return f.Protocol == ProtocolHLS
}

// ExtractionResult is produced by exactly one extractor per resolution.
type ExtractionResult struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
	Formats     []Format `json:"formats"`
	AgeLimit    int      `json:"age_limit,omitempty"`
	Duration    float64  `json:"duration,omitempty"` // seconds
	Extractor   string   `json:"extractor,omitempty"`
	WebpageURL  string   `json:"webpage_url,omitempty"`
}

// ProgressStatus is the state reported by a transfer engine.
type ProgressStatus string

const (
	ProgressDownloading ProgressStatus = "downloading"
	ProgressFinished    ProgressStatus = "finished"
)

// Progress is a single transfer progress update.
type Progress struct {
	Status             ProgressStatus `json:"status"`
	DownloadedBytes    int64          `json:"downloaded_bytes"`
	TotalBytes         int64          `json:"total_bytes,omitempty"`
	TotalBytesEstimate int64          `json:"total_bytes_estimate,omitempty"`
	FragmentIndex      int            `json:"fragment_index,omitempty"`
	FragmentCount      int            `json:"fragment_count,omitempty"`
	Filename           string         `json:"filename,omitempty"`
	Speed              float64        `json:"speed,omitempty"` // bytes per second
}

// Percent returns completion in the range 0-100, or -1 when unknown.
func (p Progress) Percent() float64 {
	switch {
	case p.TotalBytes > 0:
		return float64(p.DownloadedBytes) / float64(p.TotalBytes) * 100
	case p.TotalBytesEstimate > 0:
		return float64(p.DownloadedBytes) / float64(p.TotalBytesEstimate) * 100
	case p.FragmentCount > 0:
		return float64(p.FragmentIndex) / float64(p.FragmentCount) * 100
	}
	return -1
}

// ProgressSink receives progress updates from the orchestrator.
type ProgressSink func(Progress)

// ProgressHook receives progress from a transfer engine. Returning a non-nil
// error aborts the transfer and the engine returns that error.
type ProgressHook func(Progress) error

// TransferTarget names where an engine writes: Dir/Stem.<ext>.
type TransferTarget struct {
	Dir  string
	Stem string
}

// Path returns the final file path for ext.
func (t TransferTarget) Path(ext string) string {
	return filepath.Join(t.Dir, t.Stem+"."+ext)
}

// GenericRequest is handed to the catch-all resolver.
type GenericRequest struct {
	URL            string
	Target         TransferTarget
	FormatSelector string
	Headers        map[string]string
}

// GenericResult is the metadata of the first playable entry.
type GenericResult struct {
	ID       string
	Title    string
	Duration float64
	Filename string
}

// DownloadRequest describes one download invocation. It is consumed once.
type DownloadRequest struct {
	URL               string
	Dir               string
	AllowedExtensions []string
	PreferredStem     string
	// DownloadID namespaces temporary files in Dir. Generated when empty.
	DownloadID string
	// Cancel is polled before every progress update.
	Cancel   *atomic.Bool
	Progress ProgressSink
	// OnStage, when set, is called on every state transition.
	OnStage func(Stage)
}

// Cancelled reports whether the caller asked to abort.
func (r *DownloadRequest) Cancelled() bool {
	return r.Cancel != nil && r.Cancel.Load()
}

// OutcomeFile describes the file left on disk.
type OutcomeFile struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Size *int64 `json:"size"`
	MIME string `json:"mime"`
}

// OutcomeSource describes where the media came from.
type OutcomeSource struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	ID    string `json:"id"`
}

// DownloadOutcome is the result of a successful download.
type DownloadOutcome struct {
	File        OutcomeFile   `json:"file"`
	Source      OutcomeSource `json:"source"`
	DurationSec *float64      `json:"duration_sec"`
}

// Stage is a step of the download state machine.
type Stage string

const (
	StageDispatch  Stage = "dispatch"
	StageExtract   Stage = "extract"
	StageTransfer  Stage = "transfer"
	StageResolve   Stage = "resolve"
	StageVerify    Stage = "verify"
	StageTranscode Stage = "transcode"
	StageRename    Stage = "rename"
	StageDone      Stage = "done"
	StageCancelled Stage = "cancelled"
	StageFailed    Stage = "failed"
)

// GPUInfo is the cached GPU capability report.
type GPUInfo struct {
	Vendor        string `json:"vendor"`
	Name          string `json:"name"`
	Backend       string `json:"backend"`
	Available     bool   `json:"available"`
	DeviceLabel   string `json:"device_label"`
	DriverVersion string `json:"driver_version,omitempty"`
	Memory        string `json:"memory,omitempty"`
}
