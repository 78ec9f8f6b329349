// package netbuf provides a reference counted packet buffer pool and the
// adapter that maps a wireless driver's buffer API onto it.
package netbuf

import (
	"errors"
	"sync"

	"github.com/soypat/wwd/whd"
)

var (
	errHeaderSpace = errors.New("netbuf: not enough space to move header")
	errPoolConfig  = errors.New("netbuf: invalid pool configuration")
)

// PoolConfig sizes a Pool.
type PoolConfig struct {
	// Count is the number of pieces in the pool.
	Count int
	// PieceSize is the payload capacity of each piece.
	PieceSize int
	// Headroom is reserved in front of every piece for link headers.
	Headroom int
}

// DefaultPoolConfig returns a pool whose pieces each hold a full link MTU.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Count:     16,
		PieceSize: whd.LinkMTU,
		Headroom:  whd.LINK_HEADER_LEN,
	}
}

// Packet is a piece of a possibly chained network buffer.
type Packet struct {
	buf    []byte
	off    int
	len    int
	totLen int
	next   *Packet
	ref    int
	free   bool
}

// Payload returns the payload of this piece.
func (p *Packet) Payload() []byte { return p.buf[p.off : p.off+p.len] }

// Len returns the payload length of this piece.
func (p *Packet) Len() int { return p.len }

// TotalLen returns the payload length of this piece and all following pieces.
func (p *Packet) TotalLen() int { return p.totLen }

// Next returns the following piece of the chain or nil.
func (p *Packet) Next() *Packet { return p.next }

// Refs returns the reference count of the piece.
func (p *Packet) Refs() int { return p.ref }

// capacity is the largest length the piece can hold at its current offset.
func (p *Packet) capacity() int { return len(p.buf) - p.off }

// Pool is a fixed set of packet pieces. It is safe for concurrent use.
type Pool struct {
	mu       sync.Mutex
	pieces   []Packet
	freeList *Packet
	nfree    int
	cfg      PoolConfig
}

// NewPool allocates all pieces described by cfg up front.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Count <= 0 || cfg.PieceSize <= 0 || cfg.Headroom < 0 {
		return nil, errPoolConfig
	}
	p := &Pool{cfg: cfg, pieces: make([]Packet, cfg.Count)}
	backing := make([]byte, cfg.Count*(cfg.Headroom+cfg.PieceSize))
	stride := cfg.Headroom + cfg.PieceSize
	for i := range p.pieces {
		pc := &p.pieces[i]
		pc.buf = backing[i*stride : (i+1)*stride : (i+1)*stride]
		pc.free = true
		pc.next = p.freeList
		p.freeList = pc
	}
	p.nfree = cfg.Count
	return p, nil
}

// Config returns the configuration the pool was created with.
func (pool *Pool) Config() PoolConfig { return pool.cfg }

// Alloc returns a chain of pieces holding size payload bytes, each with a
// reference count of one. It returns nil if the pool cannot satisfy the whole request.
func (pool *Pool) Alloc(size int) *Packet {
	if size < 0 {
		return nil
	}
	n := max(1, (size+pool.cfg.PieceSize-1)/pool.cfg.PieceSize)
	pool.mu.Lock()
	defer pool.mu.Unlock()
	if n > pool.nfree {
		return nil
	}
	var head, tail *Packet
	remaining := size
	for i := 0; i < n; i++ {
		pc := pool.freeList
		pool.freeList = pc.next
		pool.nfree--
		pc.free = false
		pc.next = nil
		pc.ref = 1
		pc.off = pool.cfg.Headroom
		pc.len = min(remaining, pool.cfg.PieceSize)
		pc.totLen = remaining
		remaining -= pc.len
		if head == nil {
			head = pc
		} else {
			tail.next = pc
		}
		tail = pc
	}
	return head
}

// Ref increments the reference count of p.
func (pool *Pool) Ref(p *Packet) {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	if p.free {
		panic("netbuf: ref of free packet")
	}
	p.ref++
}

// Free drops one reference to p. Pieces whose count reaches zero return to
// the pool, continuing down the chain. It returns the number of pieces freed.
// Freeing a packet that is already free panics.
func (pool *Pool) Free(p *Packet) (freed int) {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	if p.free {
		panic("netbuf: double free of packet")
	}
	for p != nil {
		p.ref--
		if p.ref > 0 {
			break
		}
		next := p.next
		p.free = true
		p.len, p.totLen = 0, 0
		p.next = pool.freeList
		pool.freeList = p
		pool.nfree++
		freed++
		p = next
	}
	return freed
}

// Header grows (delta > 0) or shrinks (delta < 0) the front of p's payload.
// It fails without modifying p if there is not enough headroom or payload.
func (pool *Pool) Header(p *Packet, delta int) error {
	if delta > 0 && delta > p.off {
		return errHeaderSpace
	} else if delta < 0 && -delta > p.len {
		return errHeaderSpace
	}
	p.off -= delta
	p.len += delta
	p.totLen += delta
	return nil
}

// InUse returns the number of allocated pieces.
func (pool *Pool) InUse() int {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	return pool.cfg.Count - pool.nfree
}

// Flatten copies the payload of the chain starting at p into dst and returns
// the number of bytes copied.
func Flatten(dst []byte, p *Packet) int {
	n := 0
	for ; p != nil && n < len(dst); p = p.next {
		n += copy(dst[n:], p.Payload())
	}
	return n
}
