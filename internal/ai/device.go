// device.go - Accelerator probing and host description

package ai

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/v3/mem"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
)

// AcceleratorProbe reports whether a CUDA accelerator is usable.
type AcceleratorProbe func() bool

// DetectCUDA looks for the NVIDIA driver nodes, then asks nvidia-smi.
func DetectCUDA() bool {
	for _, p := range []string{"/dev/nvidia0", "/proc/driver/nvidia/version"} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	smi, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, smi, "-L").Output()
	return err == nil && strings.Contains(string(out), "GPU")
}

// ResolveDevice turns the configured selector into a concrete device.
// "auto" silently falls back to cpu; an explicit cuda request without an
// accelerator is a load error.
func ResolveDevice(requested string, probe AcceleratorProbe) (string, error) {
	if probe == nil {
		probe = DetectCUDA
	}
	switch d := strings.ToLower(strings.TrimSpace(requested)); {
	case d == "" || d == "auto":
		if probe() {
			return "cuda", nil
		}
		return "cpu", nil
	case d == "cpu":
		return "cpu", nil
	case d == "cuda" || strings.HasPrefix(d, "cuda:"):
		if !probe() {
			return "", apperrors.NewModelLoadError("", fmt.Sprintf("device %q requested but no CUDA accelerator is available", requested), nil).
				WithHint("set model.device to auto or cpu")
		}
		return d, nil
	default:
		return "", apperrors.NewConfigError("resolve_device", fmt.Sprintf("unknown device %q", requested), nil)
	}
}

// EffectiveDType is the dtype actually requested from the runtime. Half
// precision on a CPU is promoted to float32.
func EffectiveDType(device, dtype string) string {
	if device == "cpu" && (dtype == "float16" || dtype == "bfloat16") {
		return "float32"
	}
	if dtype == "" {
		return "auto"
	}
	return dtype
}

// HostInfo describes the machine the model runs on.
type HostInfo struct {
	CPUBrand        string `json:"cpu_brand"`
	PhysicalCores   int    `json:"physical_cores"`
	LogicalCores    int    `json:"logical_cores"`
	TotalMemoryMB   uint64 `json:"total_memory_mb"`
	AvailableMemMB  uint64 `json:"available_memory_mb"`
	OS              string `json:"os"`
	Arch            string `json:"arch"`
	CUDAAccelerator bool   `json:"cuda_accelerator"`
}

// DescribeHost collects CPU and memory facts; memory is zero when unknown.
func DescribeHost(probe AcceleratorProbe) HostInfo {
	if probe == nil {
		probe = DetectCUDA
	}
	info := HostInfo{
		CPUBrand:        cpuid.CPU.BrandName,
		PhysicalCores:   cpuid.CPU.PhysicalCores,
		LogicalCores:    cpuid.CPU.LogicalCores,
		OS:              runtime.GOOS,
		Arch:            runtime.GOARCH,
		CUDAAccelerator: probe(),
	}
	if info.LogicalCores == 0 {
		info.LogicalCores = runtime.NumCPU()
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemoryMB = vm.Total / 1024 / 1024
		info.AvailableMemMB = vm.Available / 1024 / 1024
	}
	return info
}
