package detection

import (
	"os/exec"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
)

// NewGPUProvider returns a provider on the OpenCV CUDA backend.
func NewGPUProvider() InferenceProvider {
	return &netProvider{
		backend: gocv.NetBackendCUDA,
		target:  gocv.NetTargetCUDA,
		info:    ProviderInfo{Type: "GPU", Backend: "OpenCV CUDA", Device: "NVIDIA GPU"},
	}
}

// hasGPUCapability checks the hardware and driver. CUDA itself is only
// proven by the test inference after loading.
func hasGPUCapability() bool {
	return hasNVIDIAGPU() && hasNVIDIADriver()
}

func hasNVIDIAGPU() bool {
	output, err := exec.Command("lspci").Output()
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(output)), "nvidia")
}

func hasNVIDIADriver() bool {
	if err := exec.Command("nvidia-smi", "--query-gpu=name", "--format=csv,noheader").Run(); err != nil {
		return false
	}
	matches, _ := filepath.Glob("/dev/nvidia*")
	return len(matches) > 0
}
