// Package spi implements a bit-banged SPI mode 0 transfer engine with
// chip-select timing expressed in device clock ticks.
package spi

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"golang.org/x/exp/constraints"
)

var (
	ErrNotInitialized   = errors.New("spi: engine not initialized")
	ErrInvalidConfig    = errors.New("spi: invalid port configuration")
	ErrShortBuffer      = errors.New("spi: buffer shorter than transfer length")
	ErrInvalidDirection = errors.New("spi: invalid transfer direction")
	ErrInvalidTimeMode  = errors.New("spi: invalid chip select time mode")
)

// Direction selects which way data moves during a transfer.
type Direction uint8

const (
	// Read clocks out zeros and samples the data-in line.
	Read Direction = iota
	// Write drives the data-out line and discards the data-in line.
	Write
	// ReadWrite drives and samples each byte slot simultaneously.
	ReadWrite
)

func (d Direction) String() string {
	switch d {
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "read-write"
	}
	return "Direction(" + strconv.Itoa(int(d)) + ")"
}

// TimeMode selects how a chip select change is scheduled.
type TimeMode uint8

const (
	// DriveNow drives the chip select line immediately.
	DriveNow TimeMode = iota
	// DriveAtTime drives the chip select line at a given port time.
	DriveAtTime
	// GetTimestamp captures the current port time without driving.
	GetTimestamp
)

// OutputFunc drives a single output line.
type OutputFunc func(level bool)

// InputFunc samples a single input line.
type InputFunc func() bool

// PortFunc drives every bit of a multi-bit output port at once.
type PortFunc func(value uint32)

// Timer is the clock the port lines are timed against.
// Times are in ticks and wrap around.
type Timer interface {
	// Now returns the current port time.
	Now() uint32
	// WaitUntil returns once the port time reaches t.
	WaitUntil(t uint32)
	// Rate returns the tick rate in Hz.
	Rate() uint32
}

// PortConfig binds the engine to hardware lines. It is read only after Init.
type PortConfig struct {
	Clock OutputFunc
	MOSI  OutputFunc
	MISO  InputFunc
	// CS drives the port holding the active-low chip select line at bit CSBit.
	CS    PortFunc
	CSBit uint8
	Timer Timer
	// ClockDivide is the number of timer ticks in each half SPI clock period.
	ClockDivide uint32
	// CSToDataDelayNS is the minimum delay between chip select assertion and
	// the first clock edge. When set it determines CSToDataDelayTicks.
	CSToDataDelayNS    uint32
	CSToDataDelayTicks uint32
	Logger             *slog.Logger
}

// Engine performs SPI transfers over a PortConfig.
type Engine struct {
	cfg      PortConfig
	half     uint32
	portval  uint32
	init     bool
	traceOn  bool
	selected bool
}

// Init validates cfg, precomputes the chip select delay in ticks and deasserts chip select.
func (e *Engine) Init(cfg PortConfig) error {
	switch {
	case cfg.Clock == nil || cfg.MOSI == nil || cfg.MISO == nil || cfg.CS == nil:
		return errors.Join(ErrInvalidConfig, errors.New("nil line"))
	case cfg.Timer == nil || cfg.Timer.Rate() == 0:
		return errors.Join(ErrInvalidConfig, errors.New("missing timer"))
	case cfg.CSBit >= 32:
		return errors.Join(ErrInvalidConfig, errors.New("chip select bit out of range"))
	}
	if cfg.CSToDataDelayNS != 0 {
		ticks := ceilDiv(uint64(cfg.CSToDataDelayNS)*uint64(cfg.Timer.Rate()), 1_000_000_000)
		cfg.CSToDataDelayTicks = uint32(ticks)
	}
	e.cfg = cfg
	e.half = max(cfg.ClockDivide, 1)
	e.traceOn = cfg.Logger != nil && cfg.Logger.Handler().Enabled(context.Background(), levelTrace)
	e.init = true
	e.cfg.Clock(false)
	e.cfg.MOSI(false)
	e.DriveCSNow(true)
	e.trace("spi:init",
		slog.Uint64("halfperiod", uint64(e.half)),
		slog.Uint64("csdelay_ticks", uint64(cfg.CSToDataDelayTicks)),
	)
	return nil
}

// Config returns the configuration the engine was initialized with,
// including the computed chip select delay.
func (e *Engine) Config() PortConfig { return e.cfg }

// Transfer clocks n bytes of buf MSB first in direction dir.
// Read results are stored in buf.
func (e *Engine) Transfer(n int, buf []byte, dir Direction) error {
	if !e.init {
		return ErrNotInitialized
	} else if dir > ReadWrite {
		return ErrInvalidDirection
	} else if n < 0 || len(buf) < n {
		return ErrShortBuffer
	}
	t := e.cfg.Timer.Now()
	for i := range buf[:n] {
		var out byte
		if dir != Read {
			out = buf[i]
		}
		in := e.transfer(&t, out)
		if dir != Write {
			buf[i] = in
		}
	}
	return nil
}

func (e *Engine) transfer(t *uint32, b byte) (in byte) {
	for bit := 7; bit >= 0; bit-- {
		in |= b2u8(e.bitTransfer(t, b&(1<<bit) != 0)) << bit
	}
	return in
}

// bitTransfer puts b on the data-out line during the low clock phase and
// samples data-in on the rising edge.
func (e *Engine) bitTransfer(t *uint32, b bool) bool {
	e.cfg.MOSI(b)
	*t += e.half
	e.cfg.Timer.WaitUntil(*t)
	e.cfg.Clock(true)
	inputBit := e.cfg.MISO()
	*t += e.half
	e.cfg.Timer.WaitUntil(*t)
	e.cfg.Clock(false)
	return inputBit
}

// DriveCSNow drives the chip select line to level immediately.
func (e *Engine) DriveCSNow(level bool) {
	bit := uint32(1) << e.cfg.CSBit
	if level {
		e.portval |= bit
	} else {
		e.portval &^= bit
	}
	e.selected = !level
	e.cfg.CS(e.portval)
}

// DriveCSAtTime drives the chip select line to level once the port time
// reaches t. If t has already passed the line is driven immediately.
func (e *Engine) DriveCSAtTime(level bool, t uint32) {
	if int32(t-e.cfg.Timer.Now()) > 0 {
		e.cfg.Timer.WaitUntil(t)
	}
	e.DriveCSNow(level)
}

// Timestamp returns the current port time without driving any line.
func (e *Engine) Timestamp() uint32 { return e.cfg.Timer.Now() }

// DriveCS drives the chip select line according to mode. For DriveAtTime t
// holds the time to drive at; for GetTimestamp t receives the current time.
func (e *Engine) DriveCS(mode TimeMode, level bool, t *uint32) error {
	if !e.init {
		return ErrNotInitialized
	}
	switch mode {
	case DriveNow:
		e.DriveCSNow(level)
	case DriveAtTime:
		if t == nil {
			return ErrInvalidTimeMode
		}
		e.DriveCSAtTime(level, *t)
	case GetTimestamp:
		if t == nil {
			return ErrInvalidTimeMode
		}
		*t = e.Timestamp()
	default:
		return ErrInvalidTimeMode
	}
	return nil
}

// Selected reports whether chip select is asserted.
func (e *Engine) Selected() bool { return e.selected }

// Transaction asserts chip select, waits the configured select-to-data delay,
// transfers all of buf and deasserts chip select no earlier than the same delay
// after the last clock edge.
func (e *Engine) Transaction(dir Direction, buf []byte) error {
	if !e.init {
		return ErrNotInitialized
	}
	delay := e.cfg.CSToDataDelayTicks
	var ts uint32
	e.DriveCS(DriveNow, false, nil)
	e.DriveCS(GetTimestamp, false, &ts)
	e.cfg.Timer.WaitUntil(ts + delay)
	err := e.Transfer(len(buf), buf, dir)
	e.DriveCS(GetTimestamp, false, &ts)
	ts += delay
	e.DriveCS(DriveAtTime, true, &ts)
	if e.traceOn {
		e.trace("spi:transaction", slog.String("dir", dir.String()), slog.Int("len", len(buf)))
	}
	return err
}

func ceilDiv[T constraints.Unsigned](a, b T) T {
	return (a + b - 1) / b
}

//go:inline
func b2u8(b bool) byte {
	if b {
		return 1
	}
	return 0
}

const levelTrace = slog.LevelDebug - 1

func (e *Engine) trace(msg string, attrs ...slog.Attr) {
	if e.traceOn {
		e.cfg.Logger.LogAttrs(context.Background(), levelTrace, msg, attrs...)
	}
}
