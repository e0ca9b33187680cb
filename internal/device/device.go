// Package device picks the compute device used for model inference.
package device

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Kind identifies a class of compute hardware.
type Kind string

const (
	// CUDA is a dedicated NVIDIA accelerator.
	CUDA Kind = "cuda"
	// Metal is the integrated accelerator on Apple silicon.
	Metal Kind = "metal"
	// CPU is the general-purpose processor, always present.
	CPU Kind = "cpu"
)

// Preference is the configured device hint. "auto" probes for the best
// available accelerator and falls back to CPU.
type Preference string

const (
	PreferAuto  Preference = "auto"
	PreferCUDA  Preference = "cuda"
	PreferMetal Preference = "metal"
	PreferCPU   Preference = "cpu"
)

// Preferences lists the accepted preference values.
func Preferences() []Preference {
	return []Preference{PreferAuto, PreferCUDA, PreferMetal, PreferCPU}
}

// ParsePreference validates a configured preference string.
func ParsePreference(value string) (Preference, error) {
	pref := Preference(strings.ToLower(strings.TrimSpace(value)))
	if pref == "" {
		return PreferAuto, nil
	}

	for _, known := range Preferences() {
		if pref == known {
			return pref, nil
		}
	}

	names := make([]string, 0, len(Preferences()))
	for _, known := range Preferences() {
		names = append(names, string(known))
	}
	return "", fmt.Errorf("unknown device preference %q (supported: %s)", value, strings.Join(names, ", "))
}

// Prober reports which hardware classes are present on this machine.
type Prober interface {
	Present(kind Kind) bool
}

// probeOrder is the accelerator preference encoded explicitly: dedicated
// hardware first, integrated second. CPU is the terminal fallback.
var probeOrder = []Kind{CUDA, Metal}

// Select resolves a preference against probed hardware. It is a pure
// function of (pref, prober) and performs no caching itself.
func Select(pref Preference, prober Prober) Kind {
	switch pref {
	case PreferCPU:
		return CPU
	case PreferCUDA:
		if prober.Present(CUDA) {
			return CUDA
		}
	case PreferMetal:
		if prober.Present(Metal) {
			return Metal
		}
	}

	for _, kind := range probeOrder {
		if prober.Present(kind) {
			return kind
		}
	}
	return CPU
}

// HostProber probes the running machine. CUDA presence is inferred from
// the NVIDIA management tool being installed; Metal from Apple silicon.
type HostProber struct{}

func (HostProber) Present(kind Kind) bool {
	switch kind {
	case CUDA:
		return commandAvailable("nvidia-smi")
	case Metal:
		return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
	case CPU:
		return true
	default:
		return false
	}
}

func commandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
