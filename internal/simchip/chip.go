// Package simchip implements a simulated Wi-Fi chipset driver. It exercises
// every host service a real driver relies on: the bus is probed over SPI,
// work is signaled through the transport semaphore, scan results travel as
// encoded escan events and frames move through host packet buffers.
package simchip

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"

	"github.com/soypat/wwd"
	"github.com/soypat/wwd/netbuf"
	"github.com/soypat/wwd/rtos"
	"github.com/soypat/wwd/spi"
	"github.com/soypat/wwd/whd"
)

var (
	errNotStarted = errors.New("simchip: not started")
	errBusy       = errors.New("simchip: operation in progress")
	errBusTest    = errors.New("simchip: spi test failed")
	errNoNetwork  = errors.New("simchip: network not found")
	errAuth       = errors.New("simchip: authentication failed")
	errNotJoined  = errors.New("simchip: station not joined")
	errNoAP       = errors.New("simchip: access point down")
	errNoMAC      = errors.New("simchip: no hardware address")
	errEmptyFrame = errors.New("simchip: empty frame")
	errCallback   = errors.New("simchip: unsupported scan callback")
)

// Network is a network visible to the simulated radio.
type Network struct {
	Result whd.ScanResult
	// Key is the passphrase the network accepts. Ignored for open networks.
	Key string
}

// Config configures a Chip.
type Config struct {
	Networks []Network
	MAC      [6]byte
	// ScanBatch is the number of results delivered per processing step.
	ScanBatch int
	// OperationTimeoutMS bounds how long Join and access point requests wait.
	OperationTimeoutMS uint32
	// ClockDivide and CSDelayNS configure the bus returned by PortConfig.
	ClockDivide uint32
	CSDelayNS   uint32
	// OnSend receives every transmitted frame. The slice is only valid during the call.
	OnSend func(itf whd.Interface, frame []byte)
	Logger *slog.Logger
}

// DefaultConfig returns a chip with no visible networks.
func DefaultConfig() Config {
	return Config{
		MAC:                [6]byte{0x02, 0x57, 0x57, 0x44, 0x00, 0x01},
		ScanBatch:          4,
		OperationTimeoutMS: 2000,
		ClockDivide:        1,
		CSDelayNS:          50,
	}
}

type scanState struct {
	active   bool
	callback whd.CallbackKind
	next     int
}

type opKind uint8

const (
	opNone opKind = iota
	opJoin
	opStartAP
	opStopAP
)

type operation struct {
	seq      uint32
	kind     opKind
	ssid     whd.SSID
	security whd.Security
	key      []byte
	channel  uint8
	err      error
}

// Chip is a simulated chipset implementing wwd.Driver.
type Chip struct {
	cfg   Config
	timer *spi.VirtualTimer
	bus   spi.VirtualBus
	regs  registers

	mu         sync.Mutex
	hal        wwd.HAL
	started    bool
	transceive rtos.Semaphore
	opDone     rtos.Semaphore
	scan       scanState
	op         operation
	joined     int
	apUp       bool
	mac        [6]byte
	inbox      [][]byte
	escan      []byte

	txmu    sync.Mutex
	txframe []byte
}

var _ wwd.Driver = (*Chip)(nil)

// New returns a powered down chip.
func New(cfg Config) *Chip {
	if cfg.ScanBatch <= 0 {
		cfg.ScanBatch = 1
	}
	if cfg.OperationTimeoutMS == 0 {
		cfg.OperationTimeoutMS = rtos.NeverTimeout
	}
	c := &Chip{
		cfg:    cfg,
		timer:  spi.NewVirtualTimer(rtos.TickRate, 0),
		joined: -1,
		mac:    cfg.MAC,
	}
	c.bus.Timer = c.timer
	c.bus.Dev = &c.regs
	return c
}

// PortConfig returns the bus lines of the chip for the host's SPI engine.
func (c *Chip) PortConfig() spi.PortConfig {
	cfg := c.bus.Config(c.cfg.ClockDivide, c.cfg.CSDelayNS)
	cfg.Logger = c.cfg.Logger
	return cfg
}

// Bus returns the virtual bus the chip is attached to.
func (c *Chip) Bus() *spi.VirtualBus { return &c.bus }

// BusTransactions returns the number of bus command words received.
func (c *Chip) BusTransactions() int { return c.regs.Transactions() }

// Start powers the chip, probes the bus and binds the transport semaphore.
func (c *Chip) Start(hal wwd.HAL) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errBusy
	}
	c.hal = hal
	c.mu.Unlock()
	err := hal.PlatformInit()
	if err != nil {
		return err
	}
	hal.ResetWifi(true)
	hal.DelayMilliseconds(1)
	hal.ResetWifi(false)
	err = hal.BusInit()
	if err != nil {
		return err
	}
	err = c.busCheck(hal)
	if err != nil {
		return err
	}
	hal.InitSemaphore(&c.transceive)
	hal.InitSemaphore(&c.opDone)
	hal.BindTransportSemaphore(&c.transceive)
	hal.BusEnableInterrupt()
	c.mu.Lock()
	c.started = true
	c.joined = -1
	c.apUp = false
	c.scan = scanState{}
	c.mu.Unlock()
	c.info("simchip:started", slog.Uint64("at_ms", uint64(hal.Now())))
	return nil
}

// busCheck reads the test register until the bus is up, then verifies a
// read-write register and configures the bus.
// reference: initBus
func (c *Chip) busCheck(hal wwd.HAL) error {
	var buf [whd.CMD_LEN + 4]byte
	read := func(addr uint32) (uint32, error) {
		binary.LittleEndian.PutUint32(buf[:], whd.CmdWord(false, true, whd.FuncBus, addr, 4))
		clear(buf[whd.CMD_LEN:])
		err := hal.SPITransfer(whd.BusRead, buf[:])
		return binary.LittleEndian.Uint32(buf[whd.CMD_LEN:]), err
	}
	write := func(addr, v uint32) error {
		binary.LittleEndian.PutUint32(buf[:], whd.CmdWord(true, true, whd.FuncBus, addr, 4))
		binary.LittleEndian.PutUint32(buf[whd.CMD_LEN:], v)
		return hal.SPITransfer(whd.BusWrite, buf[:])
	}
	retries := 128
	for {
		got, err := read(whd.SPI_READ_TEST_REGISTER)
		if err != nil {
			return err
		} else if got == whd.TEST_PATTERN {
			break
		} else if retries <= 0 {
			return errBusTest
		}
		retries--
	}
	const (
		WordLengthPos   = 0
		HiSpeedModePos  = 4
		InterruptPolPos = 5
		WakeUpPos       = 7
		setupValue      = 1<<WordLengthPos | 1<<HiSpeedModePos | 1<<InterruptPolPos | 1<<WakeUpPos
	)
	for _, w := range [...]struct{ addr, v uint32 }{
		{whd.SPI_WRITE_TEST_REGISTER, ^uint32(whd.TEST_PATTERN)},
		{whd.SPI_BUS_CONTROL, setupValue},
	} {
		err := write(w.addr, w.v)
		if err != nil {
			return err
		}
		got, err := read(w.addr)
		if err != nil {
			return err
		} else if got != w.v {
			return errBusTest
		}
	}
	c.debug("simchip:bus up", slog.Int("transactions", c.regs.Transactions()))
	return nil
}

// Stop releases host resources and powers the chip down.
func (c *Chip) Stop() error {
	c.mu.Lock()
	hal := c.hal
	started := c.started
	c.started = false
	c.scan = scanState{}
	c.joined = -1
	c.apUp = false
	c.inbox = c.inbox[:0]
	c.mu.Unlock()
	if !started {
		return errNotStarted
	}
	hal.BusDisableInterrupt()
	hal.BindTransportSemaphore(nil)
	hal.DeinitSemaphore(&c.transceive)
	hal.DeinitSemaphore(&c.opDone)
	hal.BusDeinit()
	hal.ResetWifi(true)
	err := hal.PlatformDeinit()
	if leak := hal.BufferCheckLeaked(); leak != nil {
		c.logerr("simchip:stop", slog.String("err", leak.Error()))
	}
	return err
}

// Process consumes the transport semaphore and performs one step of
// pending work: a queued operation, a batch of scan results and one
// received frame.
func (c *Chip) Process() bool {
	c.mu.Lock()
	hal := c.hal
	started := c.started
	c.mu.Unlock()
	if !started {
		return false
	}
	for hal.GetSemaphore(&c.transceive, 0, false) == nil {
	}
	c.processOperation(hal)
	c.processScan(hal)
	c.processRx(hal)
	return c.pending()
}

func (c *Chip) pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && (c.scan.active || c.op.kind != opNone || len(c.inbox) > 0)
}

// kick sets the transport semaphore so the host processes pending work.
func (c *Chip) kick() {
	c.mu.Lock()
	hal := c.hal
	c.mu.Unlock()
	if c.transceive.Count() < wwd.SemaphoreMax {
		hal.SetSemaphore(&c.transceive, false)
	}
}

// Inject queues frame for reception on the station interface.
func (c *Chip) Inject(frame []byte) error {
	if len(frame) == 0 {
		return errEmptyFrame
	}
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return errNotStarted
	}
	c.inbox = append(c.inbox, bytes.Clone(frame))
	c.mu.Unlock()
	c.kick()
	return nil
}

func (c *Chip) processRx(hal wwd.HAL) {
	c.mu.Lock()
	if len(c.inbox) == 0 {
		c.mu.Unlock()
		return
	}
	frame := c.inbox[0]
	c.inbox = c.inbox[1:]
	c.mu.Unlock()
	p, err := hal.BufferGet(whd.BufferRx, len(frame), false)
	if err != nil {
		c.debug("simchip:rx dropped", slog.String("err", err.Error()))
		return
	}
	n := 0
	for pc := p; pc != nil; pc = hal.BufferNext(pc) {
		n += copy(hal.BufferData(pc), frame[n:])
	}
	hal.ProcessEthernetData(p, whd.InterfaceSTA)
	hal.BufferRelease(p, whd.BufferRx)
}

func (c *Chip) MAC() ([6]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mac == ([6]byte{}) {
		return c.mac, errNoMAC
	}
	return c.mac, nil
}

func (c *Chip) SetMAC(mac [6]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return errNotStarted
	}
	c.mac = mac
	return nil
}

func (c *Chip) ReadyToTransceive(itf whd.Interface) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.started:
		return errNotStarted
	case itf == whd.InterfaceAP && !c.apUp:
		return errNoAP
	case itf == whd.InterfaceSTA && c.joined < 0:
		return errNotJoined
	}
	return nil
}

// SendEthernet prepends the link header space, hands the frame to OnSend
// and releases p.
func (c *Chip) SendEthernet(p *netbuf.Packet, itf whd.Interface) error {
	c.mu.Lock()
	hal := c.hal
	c.mu.Unlock()
	if hal == nil {
		return errNotStarted
	}
	defer hal.BufferRelease(p, whd.BufferTx)
	err := c.ReadyToTransceive(itf)
	if err != nil {
		return err
	}
	err = hal.BufferAddRemoveAtFront(p, -whd.LINK_HEADER_LEN)
	if err != nil {
		return err
	}
	hdr := hal.BufferData(p)[:whd.LINK_HEADER_LEN]
	clear(hdr)
	binary.LittleEndian.PutUint16(hdr, uint16(hal.BufferSize(p)))
	binary.LittleEndian.PutUint16(hdr[2:], ^uint16(hal.BufferSize(p)))
	hal.BufferAddRemoveAtFront(p, whd.LINK_HEADER_LEN)

	c.txmu.Lock()
	defer c.txmu.Unlock()
	c.txframe = c.txframe[:0]
	for pc := p; pc != nil; pc = hal.BufferNext(pc) {
		c.txframe = append(c.txframe, hal.BufferData(pc)...)
	}
	c.trace("simchip:tx", slog.Int("plen", len(c.txframe)), slog.String("itf", itf.String()))
	if c.cfg.OnSend != nil {
		c.cfg.OnSend(itf, c.txframe)
	}
	return nil
}

func (c *Chip) info(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelInfo, msg, attrs...)
}

func (c *Chip) debug(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelDebug, msg, attrs...)
}

func (c *Chip) trace(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelDebug-1, msg, attrs...)
}

func (c *Chip) logerr(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelError, msg, attrs...)
}

func (c *Chip) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
