package spi

import (
	"bytes"
	"errors"
	"testing"
)

type scriptDevice struct {
	out      []byte
	got      []byte
	selects  int
	selected bool
}

func (d *scriptDevice) Select(selected bool) {
	d.selected = selected
	if selected {
		d.selects++
	}
}

func (d *scriptDevice) NextOut() byte {
	if len(d.out) == 0 {
		return 0xff
	}
	b := d.out[0]
	d.out = d.out[1:]
	return b
}

func (d *scriptDevice) Receive(b byte) { d.got = append(d.got, b) }

func newTestEngine(t *testing.T, dev Device, divide, delayNS uint32) (*Engine, *VirtualBus, *VirtualTimer) {
	t.Helper()
	timer := NewVirtualTimer(100_000_000, 1000)
	bus := &VirtualBus{Timer: timer, Dev: dev, CSBit: 3}
	var e Engine
	err := e.Init(bus.Config(divide, delayNS))
	if err != nil {
		t.Fatal(err)
	}
	return &e, bus, timer
}

func TestInitDelayTicks(t *testing.T) {
	e, _, _ := newTestEngine(t, nil, 2, 15)
	// 15ns at 100MHz is 1.5 ticks, rounded up.
	if got := e.Config().CSToDataDelayTicks; got != 2 {
		t.Errorf("delay ticks=%d, want 2", got)
	}
	var bad Engine
	err := bad.Init(PortConfig{})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Error("expected invalid config error, got", err)
	}
	if err := bad.Transfer(1, make([]byte, 1), Write); err != ErrNotInitialized {
		t.Error("expected not initialized, got", err)
	}
}

func TestTransferDirections(t *testing.T) {
	dev := &scriptDevice{out: []byte{0xde, 0xad, 0xbe, 0xef, 0x12, 0x34}}
	e, _, _ := newTestEngine(t, dev, 1, 0)
	e.DriveCSNow(false)

	buf := []byte{0xa5, 0x0f}
	if err := e.Transfer(2, buf, ReadWrite); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, []byte{0xde, 0xad}) {
		t.Errorf("read-write got %x", buf)
	}
	if !bytes.Equal(dev.got, []byte{0xa5, 0x0f}) {
		t.Errorf("device got %x", dev.got)
	}

	buf = []byte{0x55, 0x66}
	if err := e.Transfer(2, buf, Write); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, []byte{0x55, 0x66}) {
		t.Error("write modified buffer")
	}

	buf = []byte{0x77, 0x88}
	if err := e.Transfer(2, buf, Read); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, []byte{0x12, 0x34}) {
		t.Errorf("read got %x", buf)
	}
	if !bytes.Equal(dev.got[4:], []byte{0, 0}) {
		t.Errorf("read must clock out zeros, device got %x", dev.got[4:])
	}
	e.DriveCSNow(true)

	if err := e.Transfer(3, buf, Write); err != ErrShortBuffer {
		t.Error("expected short buffer, got", err)
	}
	if err := e.Transfer(1, buf, Direction(9)); err != ErrInvalidDirection {
		t.Error("expected invalid direction, got", err)
	}
}

func TestTransferTiming(t *testing.T) {
	const divide = 5
	e, _, timer := newTestEngine(t, nil, divide, 0)
	start := timer.Now()
	e.Transfer(3, make([]byte, 3), Write)
	if got := timer.Now() - start; got != 3*8*2*divide {
		t.Errorf("transfer took %d ticks, want %d", got, 3*8*2*divide)
	}
}

func TestDriveAtTimePast(t *testing.T) {
	e, bus, timer := newTestEngine(t, nil, 1, 0)
	bus.ResetEdges()
	past := timer.Now() - 500
	before := timer.Now()
	if err := e.DriveCS(DriveAtTime, false, &past); err != nil {
		t.Fatal(err)
	}
	if !e.Selected() {
		t.Fatal("chip select not asserted for past timestamp")
	}
	if timer.Now() != before {
		t.Error("time moved driving at a past timestamp")
	}
	edges := bus.Edges()
	if len(edges) != 1 || edges[0].Level {
		t.Fatalf("unexpected edges %+v", edges)
	}
}

func TestDriveAtTimeFuture(t *testing.T) {
	e, bus, timer := newTestEngine(t, nil, 1, 0)
	bus.ResetEdges()
	at := timer.Now() + 300
	e.DriveCS(DriveAtTime, false, &at)
	edges := bus.Edges()
	if len(edges) != 1 || edges[0].Time != at {
		t.Fatalf("edge %+v not at scheduled time %d", edges, at)
	}
}

func TestDriveAtTimeWraparound(t *testing.T) {
	timer := NewVirtualTimer(100_000_000, 0xffff_fff0)
	bus := &VirtualBus{Timer: timer}
	var e Engine
	if err := e.Init(bus.Config(1, 0)); err != nil {
		t.Fatal(err)
	}
	at := uint32(0x20) // After the wrap.
	e.DriveCSAtTime(false, at)
	if timer.Now() != at {
		t.Errorf("wrapped timestamp not waited for, now=%#x", timer.Now())
	}
}

func TestGetTimestamp(t *testing.T) {
	e, bus, timer := newTestEngine(t, nil, 1, 0)
	bus.ResetEdges()
	timer.Advance(77)
	var ts uint32
	if err := e.DriveCS(GetTimestamp, false, &ts); err != nil {
		t.Fatal(err)
	}
	if ts != timer.Now() {
		t.Error("bad timestamp")
	}
	if len(bus.Edges()) != 0 || e.Selected() {
		t.Error("get timestamp must not drive chip select")
	}
	if err := e.DriveCS(GetTimestamp, false, nil); err != ErrInvalidTimeMode {
		t.Error("expected invalid time mode, got", err)
	}
}

func TestTransactionSelectDelay(t *testing.T) {
	dev := &scriptDevice{out: []byte{1, 2, 3, 4}}
	// 1µs at 100MHz is 100 ticks.
	e, bus, _ := newTestEngine(t, dev, 2, 1000)
	bus.ResetEdges()
	buf := []byte{9, 8, 7, 6}
	if err := e.Transaction(ReadWrite, buf); err != nil {
		t.Fatal(err)
	}
	edges := bus.Edges()
	if len(edges) != 2 {
		t.Fatalf("want assert and deassert edges, got %+v", edges)
	}
	assert, deassert := edges[0], edges[1]
	if assert.Level || !deassert.Level {
		t.Fatal("bad edge levels")
	}
	if !assert.Clocked || assert.FirstClock-assert.Time < 100 {
		t.Errorf("select to data delay %d ticks, want at least 100", assert.FirstClock-assert.Time)
	}
	if !bytes.Equal(buf, []byte{1, 2, 3, 4}) || !bytes.Equal(dev.got, []byte{9, 8, 7, 6}) {
		t.Errorf("exchange mismatch buf=%x dev=%x", buf, dev.got)
	}
	if dev.selects != 1 || dev.selected {
		t.Error("device select bookkeeping wrong")
	}
}
