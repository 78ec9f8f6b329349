// Package wwd hosts a Wi-Fi chipset driver. The Host implements the
// concurrency primitives, bus access, packet buffers and platform services
// the driver requires and exposes the scan and join operations to the application.
package wwd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/soypat/wwd/netbuf"
	"github.com/soypat/wwd/rtos"
	"github.com/soypat/wwd/scan"
	"github.com/soypat/wwd/spi"
	"github.com/soypat/wwd/whd"
)

var (
	errNilDriver      = errors.New("wwd: nil driver")
	errNotRunning     = errors.New("wwd: driver not running")
	errNetworkIndex   = errors.New("wwd: network index out of range")
	errNetworkUnknown = errors.New("wwd: network not found in scan results")
	errKeyTooLong     = errors.New("wwd: key too long")
	errKeyTooShort    = errors.New("wwd: passphrase too short")
	errNoMAC          = errors.New("wwd: hardware address not acquired")
	errJoinFailed     = errors.New("wwd: join failed")
	errEmptyFrame     = errors.New("wwd: empty frame")
)

// Host link state.
type linkState uint8

const (
	linkStateDown linkState = iota
	linkStateUpWaitForSSID
	linkStateUp
	linkStateFailed
	linkStateAuthFailed
	linkStateWaitForReconnect
)

func (s linkState) String() string {
	switch s {
	case linkStateDown:
		return "down"
	case linkStateUpWaitForSSID:
		return "wait-ssid"
	case linkStateUp:
		return "up"
	case linkStateFailed:
		return "failed"
	case linkStateAuthFailed:
		return "auth-failed"
	case linkStateWaitForReconnect:
		return "wait-reconnect"
	}
	return "unknown"
}

// Config configures a Host.
type Config struct {
	// SPI binds the bus engine to the chipset lines. A nil Clock line
	// leaves the bus unconfigured and bus transfers fail.
	SPI  spi.PortConfig
	Pool netbuf.PoolConfig
	// MTU is the largest buffer handed to the driver. Zero selects whd.LinkMTU.
	MTU int
	// ScanCapacity bounds the scan table.
	ScanCapacity      int
	RefreshDuplicates bool
	// QueueSize is the number of slots of the notification queue.
	QueueSize int
	// APChannel is the channel access points are started on.
	APChannel uint8
	// Power drives the chipset power enable line.
	Power func(on bool)
	// Clock is the host tick source. nil selects the system clock.
	Clock rtos.Clock
	// ScanOutput receives the scan table after each scan when not nil.
	ScanOutput io.Writer
	Logger     *slog.Logger
}

// DefaultConfig returns the host configuration of a board with no bus lines bound.
func DefaultConfig() Config {
	return Config{
		Pool:         netbuf.DefaultPoolConfig(),
		MTU:          whd.LinkMTU,
		ScanCapacity: whd.MaxScanResults,
		QueueSize:    16,
		APChannel:    whd.DefaultAPChannel,
	}
}

// Host runs a Driver. Create with NewHost, then call Run on a dedicated
// goroutine and Start to bring the driver up.
type Host struct {
	cfg    Config
	driver Driver
	clock  rtos.Clock
	queue  *rtos.Queue
	bufs   *netbuf.Adapter
	scans  *scan.Aggregator

	spimu sync.Mutex
	spi   spi.Engine
	spiOK bool

	transport  atomic.Pointer[rtos.Semaphore]
	irqEnabled atomic.Bool

	// opmu serializes application requests to the driver.
	opmu sync.Mutex

	mu      sync.Mutex
	running bool
	state   linkState
	apUp    bool
	mac     [6]byte
	rcvEth  func([]byte) error
	// rxbuf is used only by the polling task to flatten received frames.
	rxbuf []byte

	logger        *slog.Logger
	_traceenabled bool
}

// NewHost returns a host for drv. The driver is not started.
func NewHost(drv Driver, cfg Config) (*Host, error) {
	if drv == nil {
		return nil, errNilDriver
	}
	if cfg.Clock == nil {
		cfg.Clock = rtos.DefaultClock()
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 16
	}
	if cfg.APChannel == 0 {
		cfg.APChannel = whd.DefaultAPChannel
	}
	if cfg.ScanCapacity == 0 {
		cfg.ScanCapacity = whd.MaxScanResults
	}
	if cfg.Pool.Count == 0 {
		cfg.Pool = netbuf.DefaultPoolConfig()
	}
	h := &Host{
		cfg:    cfg,
		driver: drv,
		clock:  cfg.Clock,
		queue:  rtos.NewQueue(cfg.QueueSize),
		logger: cfg.Logger,
	}
	h._traceenabled = h.logger != nil && h.logger.Handler().Enabled(context.Background(), levelTrace)
	pool, err := netbuf.NewPool(cfg.Pool)
	if err != nil {
		return nil, err
	}
	h.bufs = netbuf.NewAdapter(pool, cfg.MTU, cfg.Logger)
	h.rxbuf = make([]byte, h.bufs.MTU())
	h.scans, err = scan.New(scan.Config{
		Capacity:          cfg.ScanCapacity,
		RefreshDuplicates: cfg.RefreshDuplicates,
		Clock:             cfg.Clock,
		Logger:            cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	if cfg.SPI.Clock != nil {
		if cfg.SPI.Logger == nil {
			cfg.SPI.Logger = cfg.Logger
		}
		err = h.spi.Init(cfg.SPI)
		if err != nil {
			return nil, err
		}
		h.spiOK = true
	}
	return h, nil
}

// Start requests the polling task bring the driver up.
func (h *Host) Start() error { return h.post(rtos.SignalStart) }

// Stop requests the polling task tear the driver down.
func (h *Host) Stop() error { return h.post(rtos.SignalStopped) }

// Running reports whether the driver has been started.
func (h *Host) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Run is the polling task. It consumes notifications until ctx is done,
// starting and stopping the driver on request and letting it process work
// whenever the transport semaphore is set.
func (h *Host) Run(ctx context.Context) error {
	h.info("wwd:run")
	defer h.info("wwd:run-exit")
	for {
		sig, err := h.queue.Take(ctx)
		if err != nil {
			if h.Running() {
				h.stopDriver()
			}
			return err
		}
		h.trace("wwd:signal", slog.String("sig", sig.String()))
		switch sig {
		case rtos.SignalStart:
			h.startDriver()
		case rtos.SignalStopped:
			h.stopDriver()
		case rtos.SignalSemaphoreIncrement:
			if h.Running() {
				h.process()
			}
		}
	}
}

func (h *Host) startDriver() {
	if h.Running() {
		h.debug("wwd:already started")
		return
	}
	err := h.driver.Start(h)
	if err != nil {
		h.logerr("wwd:driver start failed", slog.String("err", err.Error()))
		return
	}
	h.mu.Lock()
	h.running = true
	h.state = linkStateDown
	h.mu.Unlock()
	h.info("wwd:driver started")
	h.process()
}

func (h *Host) stopDriver() {
	if !h.Running() {
		return
	}
	h.scans.Stop()
	err := h.driver.Stop()
	if err != nil {
		h.logerr("wwd:driver stop failed", slog.String("err", err.Error()))
	}
	h.mu.Lock()
	h.running = false
	h.state = linkStateDown
	h.apUp = false
	h.mu.Unlock()
	h.info("wwd:driver stopped")
}

func (h *Host) process() {
	for h.driver.Process() {
		runtime.Gosched()
	}
}

// Interrupt notifies the host of a chipset interrupt. It is ignored while
// bus interrupts are disabled.
func (h *Host) Interrupt() {
	if !h.irqEnabled.Load() {
		return
	}
	if s := h.transport.Load(); s != nil && !s.Increment(SemaphoreMax) {
		// Already saturated: the polling task has work pending.
		h.trace("wwd:interrupt on saturated semaphore")
	}
	h.post(rtos.SignalSemaphoreIncrement)
}

// QueueOverflows returns the number of notifications dropped on a full queue.
func (h *Host) QueueOverflows() uint32 { return h.queue.Overflows() }

// Buffers returns the host's packet buffer adapter.
func (h *Host) Buffers() *netbuf.Adapter { return h.bufs }

func (h *Host) post(sig rtos.Signal) error {
	err := h.queue.TryPut(sig)
	if err != nil {
		h.warn("wwd:notification dropped",
			slog.String("sig", sig.String()),
			slog.Uint64("overflows", uint64(h.queue.Overflows())),
		)
	}
	return err
}
