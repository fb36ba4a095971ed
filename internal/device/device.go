// Package device reports the compute device used for training. The build is
// pure Go, so training always runs on the CPU; accelerator flags are recorded
// and reported but never select a GPU.
package device

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Info describes the host CPU.
type Info struct {
	Vendor        string
	Brand         string
	Family        int
	Model         int
	PhysicalCores int
	LogicalCores  int
	Features      []string
}

func (i Info) String() string {
	return fmt.Sprintf("vendor %s, brand %s, family %d, model %d, %d cores, %d threads, flags: %s",
		i.Vendor, i.Brand, i.Family, i.Model, i.PhysicalCores, i.LogicalCores, strings.Join(i.Features, ","))
}

// Has reports whether the CPU advertises feature (e.g. "AVX2").
func (i Info) Has(feature string) bool {
	idx := sort.SearchStrings(i.Features, feature)
	return idx < len(i.Features) && i.Features[idx] == feature
}

// Host returns information about the machine's cpu.
func Host() Info {
	cpu := cpuid.CPU
	features := cpu.FeatureSet()
	sort.Strings(features)
	return Info{
		Vendor:        cpu.VendorString,
		Brand:         cpu.BrandName,
		Family:        cpu.Family,
		Model:         cpu.Model,
		PhysicalCores: cpu.PhysicalCores,
		LogicalCores:  cpu.LogicalCores,
		Features:      features,
	}
}

// Selection is the outcome of device selection.
type Selection struct {
	Name string
	// Requested lists accelerators that were not disabled on the command line.
	Requested []string
	Workers   int
	CPU       Info
}

// Select picks the device. CUDA and MPS are reported as requested unless
// disabled, but only the CPU backend exists.
func Select(noCUDA, noMPS bool) Selection {
	var requested []string
	if !noCUDA {
		requested = append(requested, "cuda")
	}
	if !noMPS {
		requested = append(requested, "mps")
	}
	return Selection{
		Name:      "cpu",
		Requested: requested,
		Workers:   runtime.GOMAXPROCS(0),
		CPU:       Host(),
	}
}

// Fallback reports whether an accelerator was asked for but is unavailable.
func (s Selection) Fallback() bool {
	return len(s.Requested) > 0
}
