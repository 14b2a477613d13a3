package source

import (
	"runtime"
	"sync"
	"time"
)

const bytesPerMB = 1000 * 1000

// Runtime samples the recorder's own process: Go heap and goroutine
// counts plus CPU time from getrusage where the platform supports it.
// UserCPU and SysCPU are milliseconds of CPU consumed since the previous
// sample; the first sample reports neither.
type Runtime struct {
	mu       sync.Mutex
	primed   bool
	lastUser time.Duration
	lastSys  time.Duration
}

var _ Source = (*Runtime)(nil)

// NewRuntime creates a Runtime source.
func NewRuntime() *Runtime {
	return &Runtime{}
}

func (r *Runtime) Name() string { return "runtime" }

func (r *Runtime) Sample() (Values, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	vals := Values{
		"HeapAlloc":  float64(ms.HeapAlloc) / bytesPerMB,
		"HeapSys":    float64(ms.HeapSys) / bytesPerMB,
		"Goroutines": float64(runtime.NumGoroutine()),
		"NumGC":      float64(ms.NumGC),
	}

	usage, ok, err := readRusage()
	if err != nil {
		return nil, err
	}

	if !ok {
		return vals, nil
	}

	vals["MaxRSS"] = float64(usage.maxRSSBytes) / bytesPerMB

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.primed {
		vals["UserCPU"] = float64(usage.user-r.lastUser) / float64(time.Millisecond)
		vals["SysCPU"] = float64(usage.sys-r.lastSys) / float64(time.Millisecond)
	}

	r.primed = true
	r.lastUser = usage.user
	r.lastSys = usage.sys

	return vals, nil
}

type rusage struct {
	user        time.Duration
	sys         time.Duration
	maxRSSBytes int64
}
