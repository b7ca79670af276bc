package embeddings

import (
	"os"
)

// Runtime defaults. The optimization level maps 0..3 onto
// disable-all, basic, extended and all.
const (
	DefaultIntraOpThreads    = 1
	DefaultOptimizationLevel = 3
	maxOptimizationLevel     = 3
)

// ResolvedRuntime is RuntimeOptions with every default applied.
type ResolvedRuntime struct {
	LibraryPath       string
	IntraOpThreads    int
	InterOpThreads    int
	ParallelExecution bool
	OptimizationLevel int
}

// Resolve applies defaults to r.
func (r RuntimeOptions) Resolve() ResolvedRuntime {
	out := ResolvedRuntime{
		LibraryPath:       r.LibraryPath(),
		IntraOpThreads:    r.IntraOpThreads,
		InterOpThreads:    max(r.InterOpThreads, 0),
		OptimizationLevel: DefaultOptimizationLevel,
	}
	if out.IntraOpThreads <= 0 {
		out.IntraOpThreads = DefaultIntraOpThreads
	}
	if out.InterOpThreads > 0 {
		out.ParallelExecution = r.ParallelExecution == nil || *r.ParallelExecution
	}
	if r.OptimizationLevel != nil {
		out.OptimizationLevel = min(max(*r.OptimizationLevel, 0), maxOptimizationLevel)
	}
	return out
}

// LibraryPath returns the configured onnxruntime shared library, falling back
// to ONNXRUNTIME_SHARED_LIB and then ORT_SHLIB.
func (r RuntimeOptions) LibraryPath() string {
	if r.SharedLibraryPath != "" {
		return r.SharedLibraryPath
	}
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		return shlib
	}
	return os.Getenv("ORT_SHLIB")
}
