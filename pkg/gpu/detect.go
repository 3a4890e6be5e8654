// Package gpu reports which GPU backend, if any, the local machine can use
// for accelerated media work.
package gpu

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/types"
)

const (
	BackendCPU    = "cpu"
	BackendCUDA   = "cuda"
	BackendVulkan = "vulkan"
	BackendMetal  = "metal"

	probeTimeout = 5 * time.Second
)

// backendLibraries are the engine libraries that make a backend usable.
var backendLibraries = map[string][]string{
	BackendCUDA:   {"ggml-cuda-whisper.dll", "ggml-cuda.dll"},
	BackendVulkan: {"ggml-vulkan-whisper.dll", "ggml-vulkan.dll"},
	BackendMetal:  {"libggml-metal.dylib", "libggml-metal.0.dylib"},
}

var errNoOutput = errors.New("no output")

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Detector probes the machine once and caches the answer.
type Detector struct {
	forceCPU   bool
	engineDirs []string
	goos       string
	run        commandRunner
	log        *logging.Logger

	once sync.Once
	info types.GPUInfo
}

// NewDetector creates a detector. engineDirs are searched for backend
// libraries; missing directories are ignored.
func NewDetector(forceCPU bool, engineDirs []string, log *logging.Logger) *Detector {
	return &Detector{
		forceCPU:   forceCPU,
		engineDirs: engineDirs,
		goos:       runtime.GOOS,
		run:        execOutput,
		log:        log.WithComponent("gpu"),
	}
}

// Detect returns the cached GPU report, probing on first use.
func (d *Detector) Detect(ctx context.Context) types.GPUInfo {
	d.once.Do(func() {
		d.info = d.detect(ctx)
		d.log.Info("gpu detection finished", "backend", d.info.Backend, "device", d.info.DeviceLabel, "available", d.info.Available)
	})
	return d.info
}

func (d *Detector) detect(ctx context.Context) types.GPUInfo {
	if d.forceCPU {
		return types.GPUInfo{
			Name:        "CPU (forced)",
			Backend:     BackendCPU,
			DeviceLabel: "CPU (forced via GPU_FORCE_CPU)",
		}
	}

	if d.goos == "darwin" {
		info := types.GPUInfo{
			Vendor:    "Apple",
			Name:      "Apple GPU",
			Backend:   BackendMetal,
			Available: d.backendPresent(BackendMetal),
		}
		info.DeviceLabel = label("Apple GPU", "Metal", info.Available)
		return info
	}

	if info, ok := d.detectNVIDIA(ctx); ok {
		return info
	}
	if info, ok := d.detectAMD(ctx); ok {
		return info
	}

	return types.GPUInfo{
		Name:        "CPU",
		Backend:     BackendCPU,
		DeviceLabel: "CPU (no GPU detected)",
	}
}

func label(name, backend string, available bool) string {
	if available {
		return name + " (" + backend + ")"
	}
	return name + " (" + backend + " backend missing)"
}

func (d *Detector) output(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := d.run(ctx, name, args...)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(strings.ReplaceAll(string(out), "\r", ""))
	if text == "" {
		return "", errNoOutput
	}
	return text, nil
}

func (d *Detector) detectNVIDIA(ctx context.Context) (types.GPUInfo, bool) {
	out, err := d.output(ctx, "nvidia-smi", "--query-gpu=name,driver_version,memory.total", "--format=csv,noheader")
	if err != nil {
		d.log.Debug("nvidia detection failed", "error", err)
		return types.GPUInfo{}, false
	}

	first, _, _ := strings.Cut(out, "\n")
	parts := splitCSV(first)
	if len(parts) < 3 {
		return types.GPUInfo{}, false
	}

	info := types.GPUInfo{
		Vendor:        "NVIDIA",
		Name:          parts[0],
		DriverVersion: parts[1],
		Memory:        parts[2],
		Backend:       BackendCUDA,
		Available:     d.backendPresent(BackendCUDA),
	}
	info.DeviceLabel = label(info.Name, "CUDA", info.Available)
	return info, true
}

func (d *Detector) detectAMD(ctx context.Context) (types.GPUInfo, bool) {
	if d.goos != "windows" {
		return types.GPUInfo{}, false
	}

	out, err := d.output(ctx, "wmic", "path", "win32_VideoController", "get", "name,DriverVersion", "/format:csv")
	if err != nil {
		d.log.Debug("amd detection failed", "error", err)
		return types.GPUInfo{}, false
	}

	lines := strings.Split(out, "\n")
	for _, line := range lines[1:] {
		parts := splitCSV(line)
		if len(parts) < 3 {
			continue
		}
		// Node,DriverVersion,Name
		name, driver := parts[2], parts[1]
		upper := strings.ToUpper(name)
		if !strings.Contains(upper, "AMD") && !strings.Contains(upper, "ATI") && !strings.Contains(upper, "RADEON") {
			continue
		}
		info := types.GPUInfo{
			Vendor:        "AMD",
			Name:          name,
			DriverVersion: driver,
			Backend:       BackendVulkan,
			Available:     d.backendPresent(BackendVulkan),
		}
		info.DeviceLabel = label(name, "Vulkan", info.Available)
		return info, true
	}
	return types.GPUInfo{}, false
}

func splitCSV(line string) []string {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func (d *Detector) backendPresent(backend string) bool {
	for _, dir := range d.engineDirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		for _, name := range backendLibraries[backend] {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return true
			}
		}
	}
	return false
}

// Flags returns the engine arguments that offload layers to the GPU, or nil
// when info describes no usable GPU.
func Flags(info types.GPUInfo, layers int) []string {
	if info.Backend == BackendCPU || info.Backend == "" || !info.Available {
		return nil
	}
	return []string{"-ngl", strconv.Itoa(layers)}
}
