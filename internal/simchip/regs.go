package simchip

import (
	"encoding/binary"
	"sync"

	"github.com/soypat/wwd/whd"
)

// registers is the gSPI bus function register file of the simulated chip.
// It is attached to the host's bus engine through a spi.VirtualBus.
type registers struct {
	mu     sync.Mutex
	ctl    uint32
	testRW uint32
	cmd    uint32
	n      int
	in     [4]byte
	out    [4]byte
	// transactions counts completed command words.
	transactions int
}

func (r *registers) Select(selected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !selected && r.n > whd.CMD_LEN {
		r.commit()
	}
	r.n = 0
}

func (r *registers) NextOut() byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.n - whd.CMD_LEN
	if i < 0 || i >= len(r.out) {
		return 0
	}
	return r.out[i]
}

func (r *registers) Receive(b byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.n < whd.CMD_LEN:
		r.in[r.n] = b
		if r.n == whd.CMD_LEN-1 {
			r.cmd = binary.LittleEndian.Uint32(r.in[:])
			r.transactions++
			r.load()
		}
	case r.n < whd.CMD_LEN+4:
		r.in[r.n-whd.CMD_LEN] = b
	}
	r.n++
}

// load prepares the response to a read command.
func (r *registers) load() {
	write, _, fn, addr, _ := whd.ParseCmdWord(r.cmd)
	clear(r.out[:])
	if write || fn != whd.FuncBus {
		return
	}
	var v uint32
	switch addr {
	case whd.SPI_BUS_CONTROL:
		v = r.ctl
	case whd.SPI_READ_TEST_REGISTER:
		v = whd.TEST_PATTERN
	case whd.SPI_WRITE_TEST_REGISTER:
		v = r.testRW
	}
	binary.LittleEndian.PutUint32(r.out[:], v)
}

// commit stores the data of a write command once chip select is released.
func (r *registers) commit() {
	write, _, fn, addr, _ := whd.ParseCmdWord(r.cmd)
	if !write || fn != whd.FuncBus || r.n < whd.CMD_LEN+4 {
		return
	}
	v := binary.LittleEndian.Uint32(r.in[:])
	switch addr {
	case whd.SPI_BUS_CONTROL:
		r.ctl = v
	case whd.SPI_WRITE_TEST_REGISTER:
		r.testRW = v
	}
}

// Transactions returns the number of command words the chip has received.
func (r *registers) Transactions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transactions
}
