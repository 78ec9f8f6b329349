// package scan aggregates wireless scan results into a bounded table of
// distinct networks.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/soypat/wwd/rtos"
	"github.com/soypat/wwd/whd"
)

var (
	ErrScanInProgress = errors.New("scan: scan already in progress")
	errBadCapacity    = errors.New("scan: capacity must be positive")
)

// State is the aggregator's scan state.
type State uint8

const (
	Idle State = iota
	Scanning
)

func (s State) String() string {
	if s == Scanning {
		return "scanning"
	}
	return "idle"
}

// Config configures an Aggregator.
type Config struct {
	// Capacity is the maximum number of distinct networks kept per scan.
	// Reaching it aborts the scan.
	Capacity int
	// RefreshDuplicates updates signal strength and data rate of an existing
	// entry when a duplicate arrives. When false duplicates are discarded untouched.
	RefreshDuplicates bool
	// Clock times scans. nil selects the system clock.
	Clock  rtos.Clock
	Logger *slog.Logger
}

// DefaultConfig returns a configuration holding whd.MaxScanResults networks.
func DefaultConfig() Config {
	return Config{Capacity: whd.MaxScanResults}
}

// Aggregator collects scan results. It is safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	cfg     Config
	results []whd.ScanResult
	state   State
	status  whd.ScanStatus
	aborted bool
	start   uint64
	elapsed time.Duration
	abort   func() error
	done    chan struct{}
}

// New returns an idle aggregator.
func New(cfg Config) (*Aggregator, error) {
	if cfg.Capacity <= 0 {
		return nil, errBadCapacity
	}
	if cfg.Clock == nil {
		cfg.Clock = rtos.DefaultClock()
	}
	done := make(chan struct{})
	close(done)
	return &Aggregator{
		cfg:     cfg,
		results: make([]whd.ScanResult, 0, cfg.Capacity),
		done:    done,
	}, nil
}

// Capacity returns the maximum number of results per scan.
func (ag *Aggregator) Capacity() int { return ag.cfg.Capacity }

// Start clears the table, records the start time and enters the scanning
// state. abort is called if the table fills before the scan completes.
// The caller issues the scan request to the driver after Start returns.
func (ag *Aggregator) Start(abort func() error) error {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	if ag.state == Scanning {
		return ErrScanInProgress
	}
	clear(ag.results[:cap(ag.results)])
	ag.results = ag.results[:0]
	ag.state = Scanning
	ag.aborted = false
	ag.status = whd.ScanIncomplete
	ag.elapsed = 0
	ag.abort = abort
	ag.done = make(chan struct{})
	ag.start = ag.cfg.Clock.Ticks()
	ag.debug("scan:start")
	return nil
}

// Add records a scan result. Results are ignored while idle and results
// describing a network already in the table are discarded. It reports whether
// r was appended. Filling the table aborts the scan and returns the
// aggregator to idle.
func (ag *Aggregator) Add(r *whd.ScanResult) (added bool) {
	ag.mu.Lock()
	if ag.state != Scanning {
		ag.mu.Unlock()
		return false
	}
	for i := range ag.results {
		if ag.results[i].SameNetwork(r) {
			if ag.cfg.RefreshDuplicates {
				ag.results[i].SignalStrength = r.SignalStrength
				ag.results[i].MaxDataRate = r.MaxDataRate
			}
			ag.mu.Unlock()
			return false
		}
	}
	ag.results = append(ag.results, *r)
	var abort func() error
	if len(ag.results) == ag.cfg.Capacity {
		abort = ag.abort
		ag.aborted = true
		ag.finish(whd.ScanAborted)
		ag.info("scan:aborting, table full", slog.Int("results", len(ag.results)))
	}
	ag.mu.Unlock()
	if abort != nil {
		if err := abort(); err != nil {
			ag.logerr("scan:abort failed", slog.String("err", err.Error()))
		}
	}
	return true
}

// Complete ends the scan with the driver reported status. Completion of a
// scan already ended by a full table or Stop is ignored.
func (ag *Aggregator) Complete(status whd.ScanStatus) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	if ag.state != Scanning {
		return
	}
	ag.finish(status)
}

// Stop ends an ongoing scan on request of the application. The abort hook
// given to Start is called to stop the driver's scan.
func (ag *Aggregator) Stop() error {
	ag.mu.Lock()
	if ag.state != Scanning {
		ag.mu.Unlock()
		return nil
	}
	abort := ag.abort
	ag.aborted = true
	ag.finish(whd.ScanAborted)
	ag.mu.Unlock()
	if abort != nil {
		return abort()
	}
	return nil
}

// finish transitions to idle and releases per-scan state. Must be called with mu held.
func (ag *Aggregator) finish(status whd.ScanStatus) {
	ag.state = Idle
	ag.status = status
	ag.abort = nil
	ticks := ag.cfg.Clock.Ticks() - ag.start
	ag.elapsed = time.Duration(rtos.TicksToMillis(ticks)) * time.Millisecond
	close(ag.done)
	ag.info("scan:done",
		slog.String("status", status.String()),
		slog.Int("results", len(ag.results)),
		slog.Duration("elapsed", ag.elapsed),
	)
}

// Done returns a channel closed once the current scan is over.
func (ag *Aggregator) Done() <-chan struct{} {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.done
}

// Wait blocks until the current scan is over or ctx is done.
func (ag *Aggregator) Wait(ctx context.Context) error {
	select {
	case <-ag.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current scan state.
func (ag *Aggregator) State() State {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.state
}

// Status returns the status the last scan finished with.
func (ag *Aggregator) Status() whd.ScanStatus {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.status
}

// Aborted reports whether the last scan ended early by a full table or Stop.
func (ag *Aggregator) Aborted() bool {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.aborted
}

// Elapsed returns the duration of the last finished scan.
func (ag *Aggregator) Elapsed() time.Duration {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.elapsed
}

// Len returns the number of networks in the table.
func (ag *Aggregator) Len() int {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return len(ag.results)
}

// Result returns the i'th network in scan callback order.
func (ag *Aggregator) Result(i int) (whd.ScanResult, bool) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	if i < 0 || i >= len(ag.results) {
		return whd.ScanResult{}, false
	}
	return ag.results[i], true
}

// Results returns a copy of the table.
func (ag *Aggregator) Results() []whd.ScanResult {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return append([]whd.ScanResult(nil), ag.results...)
}

// IndexByName returns the index of the first network whose SSID is exactly name.
func (ag *Aggregator) IndexByName(name string) (int, bool) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	for i := range ag.results {
		if ag.results[i].SSID.String() == name {
			return i, true
		}
	}
	return -1, false
}

func (ag *Aggregator) info(msg string, attrs ...slog.Attr) {
	ag.logattrs(slog.LevelInfo, msg, attrs...)
}

func (ag *Aggregator) debug(msg string, attrs ...slog.Attr) {
	ag.logattrs(slog.LevelDebug, msg, attrs...)
}

func (ag *Aggregator) logerr(msg string, attrs ...slog.Attr) {
	ag.logattrs(slog.LevelError, msg, attrs...)
}

func (ag *Aggregator) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if ag.cfg.Logger != nil {
		ag.cfg.Logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
