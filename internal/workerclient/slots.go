package workerclient

import "sync"

// SlotPool manages a fixed number of concurrent ticket slots
type SlotPool struct {
	maxSlots       int
	available      int
	mu             sync.Mutex
	onSlotsChanged func(available int)
}

// NewSlotPool creates a pool with the given capacity
func NewSlotPool(maxSlots int) *SlotPool {
	return &SlotPool{
		maxSlots:  maxSlots,
		available: maxSlots,
	}
}

// SetOnSlotsChanged sets a callback invoked when availability changes
func (p *SlotPool) SetOnSlotsChanged(callback func(available int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSlotsChanged = callback
}

// Acquire tries to claim a slot. Returns true if successful.
func (p *SlotPool) Acquire() bool {
	p.mu.Lock()
	if p.available <= 0 {
		p.mu.Unlock()
		return false
	}
	p.available--
	callback := p.onSlotsChanged
	available := p.available
	p.mu.Unlock()

	// Notify outside of lock to avoid deadlock
	if callback != nil {
		callback(available)
	}
	return true
}

// Release returns a slot to the pool
func (p *SlotPool) Release() {
	p.mu.Lock()
	if p.available < p.maxSlots {
		p.available++
	}
	callback := p.onSlotsChanged
	available := p.available
	p.mu.Unlock()

	if callback != nil {
		callback(available)
	}
}

// Available returns the number of free slots
func (p *SlotPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// MaxSlots returns the pool capacity
func (p *SlotPool) MaxSlots() int {
	return p.maxSlots
}
