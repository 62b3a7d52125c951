// Package hardware inspects the host so the daemon can suggest model
// settings that fit the machine.
package hardware

import (
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Specs describes the host.
type Specs struct {
	OS           string   `json:"os"`
	Arch         string   `json:"arch"`
	CPUModel     string   `json:"cpu_model"`
	PhysicalCPUs int      `json:"physical_cpus"`
	LogicalCPUs  int      `json:"logical_cpus"`
	TotalRAMGB   float64  `json:"total_ram_gb"`
	GPU          *GPUInfo `json:"gpu,omitempty"`
}

// GPUInfo describes a detected NVIDIA GPU.
type GPUInfo struct {
	Name   string  `json:"name"`
	VRAMGB float64 `json:"vram_gb"`
}

// Detect gathers host specs. GPU detection is best effort: a machine
// without nvidia-smi simply reports no GPU.
func Detect(logger zerolog.Logger) Specs {
	s := Specs{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		s.CPUModel = infos[0].ModelName
	} else if err != nil {
		logger.Warn().Err(err).Msg("cpu info unavailable")
	}
	if n, err := cpu.Counts(false); err == nil {
		s.PhysicalCPUs = n
	}
	if n, err := cpu.Counts(true); err == nil {
		s.LogicalCPUs = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.TotalRAMGB = float64(vm.Total) / (1 << 30)
	} else {
		logger.Warn().Err(err).Msg("memory info unavailable")
	}

	if gpu, ok := DetectGPU(); ok {
		s.GPU = &gpu
	}
	return s
}

// DetectGPU queries nvidia-smi for the first GPU's name and memory. Returns
// false when no NVIDIA tooling is present or the query fails.
func DetectGPU() (GPUInfo, bool) {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return GPUInfo{}, false
	}

	out, err := exec.Command(path,
		"--query-gpu=name,memory.total",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return GPUInfo{}, false
	}

	line := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)[0]
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return GPUInfo{}, false
	}

	vramMB, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return GPUInfo{}, false
	}
	return GPUInfo{
		Name:   strings.TrimSpace(parts[0]),
		VRAMGB: vramMB / 1024,
	}, true
}

// ModelSuggestion is a settings tier derived from the host specs.
type ModelSuggestion struct {
	Tier        string `json:"tier"`
	ContextSize int    `json:"context_size"`
	GPULayers   int    `json:"gpu_layers"`
	Threads     int    `json:"threads"`
	Note        string `json:"note"`
}

// SuggestModelConfig maps host specs to a conservative settings tier.
func SuggestModelConfig(s Specs) ModelSuggestion {
	threads := s.PhysicalCPUs
	if threads < 1 {
		threads = 4
	}

	switch {
	case s.GPU != nil && s.GPU.VRAMGB >= 12:
		return ModelSuggestion{
			Tier:        "high",
			ContextSize: 8192,
			GPULayers:   99,
			Threads:     threads,
			Note:        fmt.Sprintf("%s with %.0f GB VRAM, full GPU offload", s.GPU.Name, s.GPU.VRAMGB),
		}
	case s.GPU != nil && s.GPU.VRAMGB >= 6:
		return ModelSuggestion{
			Tier:        "mid",
			ContextSize: 4096,
			GPULayers:   32,
			Threads:     threads,
			Note:        fmt.Sprintf("%s with %.0f GB VRAM, partial GPU offload", s.GPU.Name, s.GPU.VRAMGB),
		}
	case s.TotalRAMGB >= 16:
		return ModelSuggestion{
			Tier:        "mid-cpu",
			ContextSize: 4096,
			GPULayers:   0,
			Threads:     threads,
			Note:        "no usable GPU, CPU inference with generous context",
		}
	default:
		return ModelSuggestion{
			Tier:        "low",
			ContextSize: 2048,
			GPULayers:   0,
			Threads:     threads,
			Note:        "constrained host, small context recommended",
		}
	}
}
