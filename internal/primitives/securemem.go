package primitives

import (
	"crypto/subtle"
	"sync"

	"golang.org/x/sys/unix"

	"phicore/internal/pkgerr"
)

// Holder wraps a byte buffer holding key material. It attempts to lock its
// pages against swap on construction (failure is tolerated, not fatal — a
// container without CAP_IPC_LOCK should still run), zeroizes on Destroy, and
// refuses to be copied by only ever being used through a pointer.
type Holder struct {
	mu        sync.Mutex
	buf       []byte
	locked    bool
	destroyed bool
}

// NewHolder copies src into a freshly locked buffer. The caller's copy of
// src is not touched; callers that received src from a KDF should zero it
// themselves once NewHolder returns.
func NewHolder(src []byte) *Holder {
	h := &Holder{buf: make([]byte, len(src))}
	copy(h.buf, src)
	if err := unix.Mlock(h.buf); err == nil {
		h.locked = true
	}
	return h
}

// AsSlice returns the held bytes. The returned slice aliases internal
// storage and must not be retained past Destroy.
func (h *Holder) AsSlice() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf
}

// AsMutSlice is an alias of AsSlice kept for symmetry with holders that
// distinguish read/write access in the source material; Go slices do not
// have a const view, so both return the same backing array.
func (h *Holder) AsMutSlice() []byte { return h.AsSlice() }

// Destroy zeroizes the buffer and unlocks its pages. Safe to call more than
// once. No runtime finalizer is registered, so callers must call Destroy
// explicitly (typically via defer) as soon as the key is no longer needed.
func (h *Holder) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return
	}
	for i := range h.buf {
		h.buf[i] = 0
	}
	if h.locked {
		_ = unix.Munlock(h.buf)
	}
	h.destroyed = true
}

// Len reports the number of bytes held.
func (h *Holder) Len() int { return len(h.buf) }

// GuardedHolder additionally maps unreadable guard pages on either side of
// the key material so an out-of-bounds read or write faults immediately
// instead of silently touching adjacent memory.
type GuardedHolder struct {
	region    []byte // pageSize + keyLen(rounded) + pageSize, mmap'd
	pageSize  int
	keyOffset int
	keyLen    int
	destroyed bool
	mu        sync.Mutex
}

// NewGuardedHolder mmaps a region with PROT_NONE guard pages flanking a
// read-write page holding src.
func NewGuardedHolder(src []byte) (*GuardedHolder, error) {
	pageSize := unix.Getpagesize()
	dataPages := (len(src) + pageSize - 1) / pageSize
	if dataPages == 0 {
		dataPages = 1
	}
	total := pageSize*2 + dataPages*pageSize

	region, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.Internal, "mmap guarded region", err)
	}
	// Guard pages: first and last page of the region become PROT_NONE.
	if err := unix.Mprotect(region[:pageSize], unix.PROT_NONE); err != nil {
		_ = unix.Munmap(region)
		return nil, pkgerr.Wrap(pkgerr.Internal, "protect leading guard page", err)
	}
	lastPageOff := pageSize + dataPages*pageSize
	if err := unix.Mprotect(region[lastPageOff:], unix.PROT_NONE); err != nil {
		_ = unix.Munmap(region)
		return nil, pkgerr.Wrap(pkgerr.Internal, "protect trailing guard page", err)
	}
	_ = unix.Mlock(region[pageSize:lastPageOff])

	copy(region[pageSize:], src)
	return &GuardedHolder{
		region:    region,
		pageSize:  pageSize,
		keyOffset: pageSize,
		keyLen:    len(src),
	}, nil
}

// AsSlice returns the held bytes within the guarded middle page.
func (g *GuardedHolder) AsSlice() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.region[g.keyOffset : g.keyOffset+g.keyLen]
}

// Destroy zeroizes the key bytes and unmaps the entire guarded region.
func (g *GuardedHolder) Destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.destroyed {
		return
	}
	for i := g.keyOffset; i < g.keyOffset+g.keyLen; i++ {
		g.region[i] = 0
	}
	_ = unix.Munmap(g.region)
	g.destroyed = true
}

// ConstantTimeEqual compares two byte slices in constant time, as mandated
// for any authentication-tag or token compare visible to the network.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
