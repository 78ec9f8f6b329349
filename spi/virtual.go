package spi

import "sync"

// VirtualTimer is a software port timer. Waiting jumps the time forward
// instead of sleeping, so transfers over it are deterministic.
type VirtualTimer struct {
	mu   sync.Mutex
	now  uint32
	rate uint32
}

// NewVirtualTimer returns a timer ticking at rate Hz starting at start.
func NewVirtualTimer(rate, start uint32) *VirtualTimer {
	return &VirtualTimer{rate: rate, now: start}
}

func (vt *VirtualTimer) Now() uint32 {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	return vt.now
}

func (vt *VirtualTimer) WaitUntil(t uint32) {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	if int32(t-vt.now) > 0 {
		vt.now = t
	}
}

func (vt *VirtualTimer) Rate() uint32 { return vt.rate }

// Advance moves the timer forward by n ticks.
func (vt *VirtualTimer) Advance(n uint32) {
	vt.mu.Lock()
	vt.now += n
	vt.mu.Unlock()
}

// Device is a peripheral attached to a VirtualBus.
type Device interface {
	// Select is called on every chip select edge.
	Select(selected bool)
	// NextOut returns the byte the device shifts out during the next byte slot.
	NextOut() byte
	// Receive is called with each byte the host shifted in.
	Receive(b byte)
}

// Edge is a recorded chip select transition.
type Edge struct {
	Time  uint32
	Level bool
	// FirstClock is the time of the first rising clock edge after a falling
	// chip select edge. Zero when no clock edge followed.
	FirstClock uint32
	Clocked    bool
}

// VirtualBus wires an Engine's lines to a Device. It records chip select edges.
type VirtualBus struct {
	Timer Timer
	Dev   Device
	CSBit uint8

	mu       sync.Mutex
	selected bool
	clk      bool
	mosi     bool
	bitIdx   uint8
	inShift  byte
	outByte  byte
	needOut  bool
	edges    []Edge
}

// Config returns a PortConfig whose lines drive the bus.
func (vb *VirtualBus) Config(clockDivide, csDelayNS uint32) PortConfig {
	return PortConfig{
		Clock:           vb.setClock,
		MOSI:            vb.setMOSI,
		MISO:            vb.getMISO,
		CS:              vb.setCS,
		CSBit:           vb.CSBit,
		Timer:           vb.Timer,
		ClockDivide:     clockDivide,
		CSToDataDelayNS: csDelayNS,
	}
}

// Edges returns the recorded chip select transitions.
func (vb *VirtualBus) Edges() []Edge {
	vb.mu.Lock()
	defer vb.mu.Unlock()
	return append([]Edge(nil), vb.edges...)
}

// ResetEdges discards recorded chip select transitions.
func (vb *VirtualBus) ResetEdges() {
	vb.mu.Lock()
	vb.edges = vb.edges[:0]
	vb.mu.Unlock()
}

func (vb *VirtualBus) setCS(value uint32) {
	vb.mu.Lock()
	level := value&(1<<vb.CSBit) != 0
	selected := !level
	if selected == vb.selected {
		vb.mu.Unlock()
		return
	}
	vb.selected = selected
	vb.bitIdx = 0
	vb.inShift = 0
	vb.needOut = true
	vb.edges = append(vb.edges, Edge{Time: vb.Timer.Now(), Level: level})
	vb.mu.Unlock()
	if vb.Dev != nil {
		vb.Dev.Select(selected)
	}
}

func (vb *VirtualBus) setMOSI(level bool) {
	vb.mu.Lock()
	vb.mosi = level
	vb.mu.Unlock()
}

func (vb *VirtualBus) setClock(level bool) {
	vb.mu.Lock()
	rising := level && !vb.clk
	falling := !level && vb.clk
	vb.clk = level
	if !vb.selected {
		vb.mu.Unlock()
		return
	}
	if rising {
		if n := len(vb.edges); n > 0 && !vb.edges[n-1].Clocked {
			vb.edges[n-1].Clocked = true
			vb.edges[n-1].FirstClock = vb.Timer.Now()
		}
		vb.inShift = vb.inShift<<1 | b2u8(vb.mosi)
	}
	var received bool
	var b byte
	if falling {
		vb.bitIdx++
		if vb.bitIdx == 8 {
			b, received = vb.inShift, true
			vb.bitIdx = 0
			vb.inShift = 0
			vb.needOut = true
		}
	}
	vb.mu.Unlock()
	if received && vb.Dev != nil {
		vb.Dev.Receive(b)
	}
}

func (vb *VirtualBus) getMISO() bool {
	vb.mu.Lock()
	needOut := vb.needOut && vb.selected
	vb.needOut = vb.needOut && !needOut
	vb.mu.Unlock()
	if needOut {
		var out byte
		if vb.Dev != nil {
			out = vb.Dev.NextOut()
		}
		vb.mu.Lock()
		vb.outByte = out
		vb.mu.Unlock()
	}
	vb.mu.Lock()
	defer vb.mu.Unlock()
	if !vb.selected {
		return false
	}
	return vb.outByte&(1<<(7-vb.bitIdx)) != 0
}
