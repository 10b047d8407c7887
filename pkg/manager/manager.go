// Package manager implements the process-local channel registry: a
// bounded, mutex-protected, name-keyed table of open Channel handles.
// A Manager owns the create/attach lifecycle for every channel a process
// holds and exposes them as Prometheus metrics on scrape.
package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/psaab/dpchan/pkg/channel"
	"github.com/psaab/dpchan/pkg/layout"
)

// MaxChannels bounds how many channels a single Manager may hold open at
// once. This is a process-local limit, unrelated to any per-channel sizing.
const MaxChannels = 32

var (
	// ErrDuplicateName is returned by Create when a channel by that name is
	// already held open by this Manager.
	ErrDuplicateName = errors.New("manager: channel name already registered")

	// ErrTooManyChannels is returned when MaxChannels handles are already open.
	ErrTooManyChannels = errors.New("manager: channel table full")

	// ErrChannelNotFound is returned by Get/Release for an unknown name.
	ErrChannelNotFound = errors.New("manager: no channel by that name")
)

type entry struct {
	ch       *channel.Channel
	refCount int
}

// Manager is a bounded, name-keyed registry of open channels, safe for
// concurrent use. Its Collector method returns a prometheus.Collector so a
// running process can scrape per-channel statistics without a side channel.
type Manager struct {
	mu       sync.Mutex
	channels map[string]*entry
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{channels: make(map[string]*entry)}
}

// Create creates a new channel by name and registers it with refCount 1.
// Returns ErrDuplicateName if the manager already holds a channel by that
// name, or ErrTooManyChannels if the table is full.
func (m *Manager) Create(name string, p layout.Params, opts channel.Options) (*channel.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.channels[name]; ok {
		return nil, ErrDuplicateName
	}
	if len(m.channels) >= MaxChannels {
		return nil, ErrTooManyChannels
	}

	ch, err := channel.Create(name, p, opts)
	if err != nil {
		return nil, fmt.Errorf("manager: create %s: %w", name, err)
	}
	m.channels[name] = &entry{ch: ch, refCount: 1}
	slog.Info("manager: channel registered", "name", name, "count", len(m.channels))
	return ch, nil
}

// Attach attaches an existing channel by name and registers it. If this
// Manager already holds a handle by that name, it returns the same handle
// and increments the reference count instead of attaching a second time.
func (m *Manager) Attach(name string) (*channel.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.channels[name]; ok {
		e.refCount++
		return e.ch, nil
	}
	if len(m.channels) >= MaxChannels {
		return nil, ErrTooManyChannels
	}

	ch, err := channel.Attach(name)
	if err != nil {
		return nil, fmt.Errorf("manager: attach %s: %w", name, err)
	}
	m.channels[name] = &entry{ch: ch, refCount: 1}
	slog.Info("manager: channel attached", "name", name, "count", len(m.channels))
	return ch, nil
}

// Get returns the already-registered channel by name without affecting its
// reference count.
func (m *Manager) Get(name string) (*channel.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.channels[name]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return e.ch, nil
}

// Release decrements the reference count on a channel, destroying and
// unregistering it once the count reaches zero.
func (m *Manager) Release(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.channels[name]
	if !ok {
		return ErrChannelNotFound
	}
	e.refCount--
	if e.refCount > 0 {
		return nil
	}
	delete(m.channels, name)
	slog.Info("manager: channel released", "name", name, "count", len(m.channels))
	return e.ch.Destroy()
}

// Names returns the currently registered channel names.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.channels))
	for name := range m.channels {
		out = append(out, name)
	}
	return out
}

// Len returns the number of channels currently registered.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// snapshot is a point-in-time copy of the registered channels used by the
// Prometheus collector, taken under the lock and read afterward so Collect
// never holds the Manager's mutex while calling into a Channel.
func (m *Manager) snapshot() map[string]*channel.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*channel.Channel, len(m.channels))
	for name, e := range m.channels {
		out[name] = e.ch
	}
	return out
}
