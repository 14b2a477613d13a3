package source

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// userHZ is the kernel's USER_HZ, the unit of utime/stime in
// /proc/<pid>/stat. It is 100 on every mainstream Linux architecture.
const userHZ = 100

const rediscoverInterval = time.Second

// ErrProcessNotFound is returned while the target process is absent.
var ErrProcessNotFound = errors.New("target process not found")

// ProcConfig selects an external process to observe through procfs.
type ProcConfig struct {
	// PID observes a fixed process. Takes precedence over ProcessName.
	PID int `yaml:"pid"`

	// ProcessName is matched against /proc/<pid>/comm. The first match is
	// observed and re-discovered if it exits.
	ProcessName string `yaml:"process_name"`

	// ProcRoot is the procfs mount point. Defaults to /proc.
	ProcRoot string `yaml:"proc_root"`
}

// Proc reports memory, CPU and thread counts of another process:
// Memory (VmRSS) and PeakMemory (VmHWM) in megabytes, CPUTime as
// milliseconds of user+system CPU since the previous sample, and Threads.
type Proc struct {
	log logrus.FieldLogger
	cfg ProcConfig

	mu            sync.Mutex
	pid           int
	lastDiscovery time.Time
	lastTicks     uint64
	primed        bool
}

var _ Source = (*Proc)(nil)

// NewProc creates a procfs source.
func NewProc(log logrus.FieldLogger, cfg ProcConfig) (*Proc, error) {
	if cfg.PID <= 0 && cfg.ProcessName == "" {
		return nil, errors.New("proc source needs pid or process_name")
	}

	if cfg.ProcRoot == "" {
		cfg.ProcRoot = "/proc"
	}

	return &Proc{
		log: log.WithField("source", "proc"),
		cfg: cfg,
		pid: cfg.PID,
	}, nil
}

func (p *Proc) Name() string { return "proc" }

func (p *Proc) Sample() (Values, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid <= 0 {
		if err := p.discoverLocked(); err != nil {
			return nil, err
		}
	}

	vals, ticks, err := p.readLocked(p.pid)
	if err != nil {
		if p.cfg.PID <= 0 && errors.Is(err, os.ErrNotExist) {
			p.log.WithField("pid", p.pid).Info("Target process exited")
			p.pid = 0
			p.primed = false

			return nil, ErrProcessNotFound
		}

		return nil, err
	}

	if p.primed && ticks >= p.lastTicks {
		vals["CPUTime"] = float64(ticks-p.lastTicks) * 1000 / userHZ
	}

	p.primed = true
	p.lastTicks = ticks

	return vals, nil
}

func (p *Proc) discoverLocked() error {
	now := time.Now()
	if !p.lastDiscovery.IsZero() && now.Sub(p.lastDiscovery) < rediscoverInterval {
		return ErrProcessNotFound
	}

	p.lastDiscovery = now

	entries, err := os.ReadDir(p.cfg.ProcRoot)
	if err != nil {
		return fmt.Errorf("reading %s: %w", p.cfg.ProcRoot, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pidVal, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue // Not a PID directory.
		}

		comm, err := os.ReadFile(filepath.Join(p.cfg.ProcRoot, entry.Name(), "comm"))
		if err != nil {
			continue
		}

		if strings.TrimSpace(string(comm)) == p.cfg.ProcessName {
			p.log.WithFields(logrus.Fields{
				"pid":  pidVal,
				"comm": p.cfg.ProcessName,
			}).Info("Found target process")

			p.pid = pidVal
			p.primed = false

			return nil
		}
	}

	return ErrProcessNotFound
}

func (p *Proc) readLocked(pid int) (Values, uint64, error) {
	dir := filepath.Join(p.cfg.ProcRoot, strconv.Itoa(pid))

	vals, err := readStatus(filepath.Join(dir, "status"))
	if err != nil {
		return nil, 0, err
	}

	ticks, threads, err := readStat(filepath.Join(dir, "stat"))
	if err != nil {
		return nil, 0, err
	}

	vals["Threads"] = float64(threads)

	return vals, ticks, nil
}

// readStatus extracts VmRSS and VmHWM (reported in kB).
func readStatus(path string) (Values, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	vals := make(Values, 4)
	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		key, rest, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}

		var name string

		switch key {
		case "VmRSS":
			name = "Memory"
		case "VmHWM":
			name = "PeakMemory"
		default:
			continue
		}

		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}

		kb, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}

		vals[name] = kb * 1024 / bytesPerMB
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return vals, nil
}

// readStat returns utime+stime in clock ticks and the thread count.
func readStat(path string) (uint64, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("reading %s: %w", path, err)
	}

	// comm may contain spaces; fields resume after the last ')'.
	s := string(data)

	idx := strings.LastIndexByte(s, ')')
	if idx < 0 {
		return 0, 0, fmt.Errorf("malformed %s", path)
	}

	fields := strings.Fields(s[idx+1:])
	// fields[0] is field 3 (state); utime=14, stime=15, num_threads=20.
	if len(fields) < 18 {
		return 0, 0, fmt.Errorf("malformed %s: %d fields", path, len(fields))
	}

	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing utime: %w", err)
	}

	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing stime: %w", err)
	}

	threads, err := strconv.Atoi(fields[17])
	if err != nil {
		return 0, 0, fmt.Errorf("parsing num_threads: %w", err)
	}

	return utime + stime, threads, nil
}
