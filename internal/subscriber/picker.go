package subscriber

import (
	"slices"
	"sync"
)

// Picker is the channel list offered to the listener.
type Picker struct {
	mu       sync.RWMutex
	channels []string
	visible  bool
}

// Update replaces the list wholesale.
func (p *Picker) Update(channels []string) {
	p.mu.Lock()
	p.channels = slices.Clone(channels)
	p.mu.Unlock()
}

// Channels returns a copy of the current list.
func (p *Picker) Channels() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.channels)
}

// Empty reports whether the "no channels" notice applies.
func (p *Picker) Empty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.channels) == 0
}

// Contains reports whether ch is listed.
func (p *Picker) Contains(ch string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Contains(p.channels, ch)
}

func (p *Picker) setVisible(v bool) {
	p.mu.Lock()
	p.visible = v
	p.mu.Unlock()
}

// Visible reports whether the list is shown.
func (p *Picker) Visible() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.visible
}
