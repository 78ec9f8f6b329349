package netbuf

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/soypat/wwd/whd"
)

// retryDelay is the pause between allocation attempts of a waiting Get.
const retryDelay = 10 * time.Microsecond

// Adapter maps the driver's buffer calls onto a Pool, enforcing the link MTU.
// It adds no locking of its own: concurrent use relies on the Pool.
type Adapter struct {
	pool   *Pool
	mtu    int
	logger *slog.Logger
}

// NewAdapter returns an adapter over pool rejecting payloads above mtu.
// A non-positive mtu selects whd.LinkMTU.
func NewAdapter(pool *Pool, mtu int, logger *slog.Logger) *Adapter {
	if pool == nil {
		panic("netbuf: nil pool")
	}
	if mtu <= 0 {
		mtu = whd.LinkMTU
	}
	return &Adapter{pool: pool, mtu: mtu, logger: logger}
}

// MTU returns the largest payload the adapter hands out.
func (a *Adapter) MTU() int { return a.mtu }

// Pool returns the underlying pool.
func (a *Adapter) Pool() *Pool { return a.pool }

// Get allocates a buffer of size bytes. A size above the MTU fails with
// whd.ErrBufferUnavailablePermanent. When the pool is exhausted Get retries
// until success if wait is set, otherwise it fails with whd.ErrBufferUnavailableTemporary.
// A zero size is a caller bug and panics.
func (a *Adapter) Get(dir whd.BufferDir, size int, wait bool) (*Packet, error) {
	if size <= 0 {
		panic("netbuf: invalid buffer size")
	}
	if size > a.mtu {
		a.debug("buffer larger than link MTU", slog.Int("size", size), slog.Int("mtu", a.mtu))
		return nil, whd.ErrBufferUnavailablePermanent
	}
	for {
		p := a.pool.Alloc(size)
		if p != nil {
			return p, nil
		} else if !wait {
			break
		}
		runtime.Gosched()
		time.Sleep(retryDelay)
	}
	a.debug("failed to allocate packet buffer", slog.String("dir", dir.String()), slog.Int("size", size))
	return nil, whd.ErrBufferUnavailableTemporary
}

// Release drops the driver's reference to p. Pieces still referenced by
// the network stack stay allocated.
func (a *Adapter) Release(p *Packet, dir whd.BufferDir) {
	mustValid(p)
	a.pool.Free(p)
}

// Ref adds a reference to p before it is handed to another owner.
func (a *Adapter) Ref(p *Packet) {
	mustValid(p)
	a.pool.Ref(p)
}

// Data returns the payload of the current piece of p.
func (a *Adapter) Data(p *Packet) []byte {
	mustValid(p)
	return p.Payload()
}

// Size returns the payload length of the current piece of p.
func (a *Adapter) Size(p *Packet) int {
	mustValid(p)
	return p.len
}

// Next returns the piece following p.
func (a *Adapter) Next(p *Packet) *Packet {
	mustValid(p)
	return p.next
}

// SetSize sets the payload length of p. Sizes above the MTU or the piece
// capacity fail with whd.ErrBufferSizeSet and leave p unchanged.
func (a *Adapter) SetSize(p *Packet, size int) error {
	mustValid(p)
	if size > a.mtu {
		a.logerr("buffer size larger than link MTU", slog.Int("size", size), slog.Int("mtu", a.mtu))
		return whd.ErrBufferSizeSet
	} else if size < 0 || size > p.capacity() {
		return whd.ErrBufferSizeSet
	}
	p.len = size
	p.totLen = size
	return nil
}

// AddRemoveAtFront moves the start of p's payload. A positive amount removes
// bytes from the front and a negative amount exposes header space.
// It fails with whd.ErrBufferPointerMove when there is not enough space.
func (a *Adapter) AddRemoveAtFront(p *Packet, amount int) error {
	mustValid(p)
	err := a.pool.Header(p, -amount)
	if err != nil {
		a.debug("failed to move buffer pointer", slog.Int("amount", amount))
		return errors.Join(whd.ErrBufferPointerMove, err)
	}
	return nil
}

// CheckLeaked reports an error if any buffer is still allocated.
func (a *Adapter) CheckLeaked() error {
	if n := a.pool.InUse(); n != 0 {
		a.logerr("buffer leakage", slog.Int("inuse", n))
		return errors.New("netbuf: pool buffer leakage")
	}
	return nil
}

func mustValid(p *Packet) {
	if p == nil {
		panic("netbuf: invalid buffer")
	} else if p.free {
		panic("netbuf: use of released buffer")
	}
}

func (a *Adapter) debug(msg string, attrs ...slog.Attr) {
	a.logattrs(slog.LevelDebug, msg, attrs...)
}

func (a *Adapter) logerr(msg string, attrs ...slog.Attr) {
	a.logattrs(slog.LevelError, msg, attrs...)
}

func (a *Adapter) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if a.logger != nil {
		a.logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
