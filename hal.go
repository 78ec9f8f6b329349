package wwd

import (
	"log/slog"
	"time"

	"github.com/soypat/wwd/netbuf"
	"github.com/soypat/wwd/rtos"
	"github.com/soypat/wwd/spi"
	"github.com/soypat/wwd/whd"
)

// SemaphoreMax is the largest count a host semaphore holds.
const SemaphoreMax = 255

// HAL is the set of host services a Driver calls into.
type HAL interface {
	CreateThread(name string, entry func()) error
	CreateThreadWithArg(name string, entry func(arg uint32), arg uint32) error
	FinishThread()
	JoinThread(name string) error
	DeleteTerminatedThread(name string) error

	InitSemaphore(s *rtos.Semaphore) error
	GetSemaphore(s *rtos.Semaphore, timeoutMS uint32, willSetInISR bool) error
	SetSemaphore(s *rtos.Semaphore, fromISR bool) error
	DeinitSemaphore(s *rtos.Semaphore) error
	BindTransportSemaphore(s *rtos.Semaphore)

	Now() uint32
	DelayMilliseconds(ms uint32) error

	BusInit() error
	BusDeinit() error
	BusEnableInterrupt() error
	BusDisableInterrupt() error
	SPITransfer(dir whd.BusDir, buf []byte) error

	BufferGet(dir whd.BufferDir, size int, wait bool) (*netbuf.Packet, error)
	BufferRelease(p *netbuf.Packet, dir whd.BufferDir)
	BufferData(p *netbuf.Packet) []byte
	BufferSize(p *netbuf.Packet) int
	BufferNext(p *netbuf.Packet) *netbuf.Packet
	BufferSetSize(p *netbuf.Packet, size int) error
	BufferAddRemoveAtFront(p *netbuf.Packet, amount int) error
	BufferCheckLeaked() error

	PlatformInit() error
	PlatformDeinit() error
	ResetWifi(asserted bool)
	PowerWifi(on bool)
	IsInInterruptContext() bool
	CycleCount() uint32

	ProcessEthernetData(p *netbuf.Packet, itf whd.Interface)
	DispatchEvent(kind whd.HandlerKind, ev whd.AsyncEvent, data []byte)
	DispatchScanResult(kind whd.CallbackKind, r *whd.ScanResult, status whd.ScanStatus)
}

var _ HAL = (*Host)(nil)

// Threads. The driver runs on the host's polling task; it may not spawn its own.

func (h *Host) CreateThread(name string, entry func()) error {
	h.fatal("thread creation unsupported", slog.String("name", name))
	return nil
}

func (h *Host) CreateThreadWithArg(name string, entry func(uint32), arg uint32) error {
	h.fatal("thread creation unsupported", slog.String("name", name))
	return nil
}

func (h *Host) FinishThread() {
	h.fatal("thread finish unsupported")
}

func (h *Host) JoinThread(name string) error { return nil }

func (h *Host) DeleteTerminatedThread(name string) error { return nil }

// Semaphores.

// InitSemaphore sets the count of s to zero.
func (h *Host) InitSemaphore(s *rtos.Semaphore) error {
	s.Init()
	return nil
}

// GetSemaphore decrements s, waiting up to timeoutMS milliseconds for it to
// be set. A zero timeout fails at once if s is zero and rtos.NeverTimeout
// waits forever.
func (h *Host) GetSemaphore(s *rtos.Semaphore, timeoutMS uint32, willSetInISR bool) error {
	if !s.Decrement(h.clock, 0, timeoutMS) {
		return whd.ErrTimeout
	}
	return nil
}

// SetSemaphore increments s. Exceeding SemaphoreMax is fatal. Setting the
// transport semaphore wakes the polling task.
func (h *Host) SetSemaphore(s *rtos.Semaphore, fromISR bool) error {
	if !s.Increment(SemaphoreMax) {
		h.fatal("unable to set semaphore", slog.Uint64("count", uint64(s.Count())))
	}
	if s == h.transport.Load() {
		h.post(rtos.SignalSemaphoreIncrement)
	}
	return nil
}

func (h *Host) DeinitSemaphore(s *rtos.Semaphore) error { return nil }

// BindTransportSemaphore selects the semaphore whose increments notify the
// polling task. A nil s unbinds it.
func (h *Host) BindTransportSemaphore(s *rtos.Semaphore) {
	h.transport.Store(s)
}

// Time.

// Now returns the host time in milliseconds.
func (h *Host) Now() uint32 {
	return rtos.TicksToMillis(h.clock.Ticks())
}

func (h *Host) DelayMilliseconds(ms uint32) error {
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return nil
}

// Bus.

// BusInit reports whether the bus engine is ready. It is configured by NewHost.
func (h *Host) BusInit() error {
	if !h.spiOK {
		return spi.ErrNotInitialized
	}
	return nil
}

func (h *Host) BusDeinit() error {
	h.irqEnabled.Store(false)
	return nil
}

func (h *Host) BusEnableInterrupt() error {
	h.irqEnabled.Store(true)
	return nil
}

func (h *Host) BusDisableInterrupt() error {
	h.irqEnabled.Store(false)
	return nil
}

// SPITransfer performs one chip select framed transfer of buf.
func (h *Host) SPITransfer(dir whd.BusDir, buf []byte) error {
	if !h.spiOK {
		return spi.ErrNotInitialized
	}
	sdir := spi.Write
	if dir == whd.BusRead {
		sdir = spi.ReadWrite
	}
	h.spimu.Lock()
	defer h.spimu.Unlock()
	err := h.spi.Transaction(sdir, buf)
	if err != nil {
		h.logerr("wwd:spi transfer", slog.String("err", err.Error()))
	}
	return err
}

// Buffers.

func (h *Host) BufferGet(dir whd.BufferDir, size int, wait bool) (*netbuf.Packet, error) {
	return h.bufs.Get(dir, size, wait)
}

func (h *Host) BufferRelease(p *netbuf.Packet, dir whd.BufferDir) { h.bufs.Release(p, dir) }

func (h *Host) BufferData(p *netbuf.Packet) []byte { return h.bufs.Data(p) }

func (h *Host) BufferSize(p *netbuf.Packet) int { return h.bufs.Size(p) }

func (h *Host) BufferNext(p *netbuf.Packet) *netbuf.Packet { return h.bufs.Next(p) }

func (h *Host) BufferSetSize(p *netbuf.Packet, size int) error { return h.bufs.SetSize(p, size) }

func (h *Host) BufferAddRemoveAtFront(p *netbuf.Packet, amount int) error {
	return h.bufs.AddRemoveAtFront(p, amount)
}

func (h *Host) BufferCheckLeaked() error { return h.bufs.CheckLeaked() }

// Platform.

func (h *Host) PlatformInit() error   { return nil }
func (h *Host) PlatformDeinit() error { return nil }

// ResetWifi holds the chipset in reset by removing its power.
func (h *Host) ResetWifi(asserted bool) { h.PowerWifi(!asserted) }

func (h *Host) PowerWifi(on bool) {
	h.debug("wwd:power", slog.Bool("on", on))
	if h.cfg.Power != nil {
		h.cfg.Power(on)
	}
}

// Reset power cycles the chipset.
func (h *Host) Reset() {
	h.PowerWifi(false)
	time.Sleep(20 * time.Millisecond)
	h.PowerWifi(true)
	time.Sleep(250 * time.Millisecond)
}

// IsInInterruptContext reports false: driver code always runs on a goroutine.
func (h *Host) IsInInterruptContext() bool { return false }

// CycleCount returns the low bits of the host tick counter.
func (h *Host) CycleCount() uint32 { return uint32(h.clock.Ticks()) }

// Network.

// ProcessEthernetData hands a received frame to the network stack. It is
// called from Driver.Process. The stack takes its own reference to p and the
// driver releases its reference after the call returns.
func (h *Host) ProcessEthernetData(p *netbuf.Packet, itf whd.Interface) {
	h.bufs.Ref(p)
	defer h.bufs.Pool().Free(p)
	h.mu.Lock()
	handler := h.rcvEth
	h.mu.Unlock()
	if handler == nil {
		h.debug("wwd:RecvEthHandle not set, dropping rx frame")
		return
	}
	n := netbuf.Flatten(h.rxbuf, p)
	h.trace("wwd:rx", slog.Int("plen", n), slog.String("itf", itf.String()))
	err := handler(h.rxbuf[:n])
	if err != nil {
		h.debug("wwd:rx handler", slog.String("err", err.Error()))
	}
}
