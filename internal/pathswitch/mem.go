package pathswitch

import (
	"fmt"
	"sync"
)

// MaxInterfaces bounds the reference switch's slot table. A production
// switch has no such fixed ceiling; this one exists to exercise the
// OUT_OF_SPACE admin error path.
const MaxInterfaces = 4096

type slot struct {
	priority    int
	onSwitchOut func(frame []byte)
}

// MemSwitch is an in-memory reference Switch, grounded on the allocate-
// with-retry shape of a discriminator allocator: path labels are handed
// out from a monotonic counter and recycled through a free list.
type MemSwitch struct {
	mu       sync.Mutex
	next     uint64
	free     []uint64
	slots    map[uint64]slot
}

// NewMemSwitch returns an empty reference switch.
func NewMemSwitch() *MemSwitch {
	return &MemSwitch{
		next:  1, // reserve 0 as "no label"
		slots: make(map[uint64]slot),
	}
}

// AddInterface implements Switch.
func (m *MemSwitch) AddInterface(priority int, onSwitchOut func(frame []byte)) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.slots) >= MaxInterfaces {
		return 0, ErrOutOfSpace
	}

	var label uint64
	if n := len(m.free); n > 0 {
		label = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		label = m.next
		m.next++
	}

	m.slots[label] = slot{priority: priority, onSwitchOut: onSwitchOut}
	return label, nil
}

// RemoveInterface implements Switch.
func (m *MemSwitch) RemoveInterface(pathLabel uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.slots[pathLabel]; !ok {
		return
	}
	delete(m.slots, pathLabel)
	m.free = append(m.free, pathLabel)
}

// SwapInterfaces implements Switch.
func (m *MemSwitch) SwapInterfaces(a, b uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sa, ok := m.slots[a]
	if !ok {
		return fmt.Errorf("pathswitch: swap: unknown label %d", a)
	}
	sb, ok := m.slots[b]
	if !ok {
		return fmt.Errorf("pathswitch: swap: unknown label %d", b)
	}

	m.slots[a] = sb
	m.slots[b] = sa
	return nil
}

// Send implements Switch: it delivers frame to the slot's registered
// switch-out callback, modelling the fabric routing a decrypted frame
// onward (Peer.switchIn in the data-flow description).
func (m *MemSwitch) Send(pathLabel uint64, frame []byte) error {
	m.mu.Lock()
	s, ok := m.slots[pathLabel]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("pathswitch: send: unknown label %d", pathLabel)
	}
	if s.onSwitchOut != nil {
		s.onSwitchOut(frame)
	}
	return nil
}

// MemPinger is a reference Pinger that answers every Ping immediately
// with a fixed protocol version, useful for the demo daemon. Tests that
// need to control timing/response content construct their own fake
// satisfying the Pinger interface directly.
type MemPinger struct {
	Version   uint32
	responses chan PingResponse
}

// NewMemPinger returns a MemPinger that reports localVersion on every
// ping.
func NewMemPinger(localVersion uint32) *MemPinger {
	return &MemPinger{Version: localVersion, responses: make(chan PingResponse, 64)}
}

// Ping implements Pinger.
func (p *MemPinger) Ping(pathLabel uint64) {
	p.responses <- PingResponse{PathLabel: pathLabel, Version: p.Version}
}

// Responses implements Pinger.
func (p *MemPinger) Responses() <-chan PingResponse {
	return p.responses
}
