// Package events dispatches named hook positions to registered handlers.
//
// A handler is a (class, method) pair: the class name selects an instance
// created once per Manager, the method is looked up on it by name. Each
// handler lists the dependencies it wants; they are taken from the trigger
// arguments first and from the Source otherwise, then passed positionally.
package events

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/elkarte/forum/shared/logger"
)

// Hook positions triggered by the forum.
const (
	AttachmentUpload  = "attachment_upload"
	AttachmentCreated = "attachment_created"
	MentionsView      = "mentions_view"
)

// Args is the argument bag of a trigger.
type Args map[string]any

// Source supplies dependencies a trigger did not pass explicitly.
type Source interface {
	ProvideDependency(name string) (any, bool)
}

type Event struct {
	Class  string
	Method string
	Deps   []string
}

// Hook is a registration request returned by a Module.
type Hook struct {
	Position string
	Event    Event
	Priority int
}

// Module contributes hooks. The module itself is registered as the instance
// for the class named by Name.
type Module interface {
	Name() string
	Hooks(m *Manager) []Hook
}

type registered struct {
	event    Event
	priority int
	seq      int
}

type Manager struct {
	mu        sync.Mutex
	positions map[string][]registered
	sorted    map[string]bool
	seq       int
	factories map[string]func() any
	instances map[string]any
	source    Source
}

func New() *Manager {
	return &Manager{
		positions: make(map[string][]registered),
		sorted:    make(map[string]bool),
		factories: make(map[string]func() any),
		instances: make(map[string]any),
	}
}

// SetSource sets the fallback dependency provider used when the trigger
// context carries none.
func (m *Manager) SetSource(src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = src
}

// RegisterClass makes a class name resolvable. The factory runs on first use.
func (m *Manager) RegisterClass(name string, factory func() any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[name] = factory
}

// Register adds an event to a position. Lower priorities run first, equal
// priorities run in registration order.
func (m *Manager) Register(position string, event Event, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.positions[position] = append(m.positions[position], registered{event: event, priority: priority, seq: m.seq})
	m.sorted[position] = false
}

func (m *Manager) RegisterModules(modules ...Module) {
	for _, mod := range modules {
		m.mu.Lock()
		if _, ok := m.instances[mod.Name()]; !ok {
			m.instances[mod.Name()] = mod
		}
		m.mu.Unlock()

		for _, h := range mod.Hooks(m) {
			m.Register(h.Position, h.Event, h.Priority)
		}
	}
}

func (m *Manager) events(position string) []registered {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.positions[position]
	if !m.sorted[position] {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].priority != list[j].priority {
				return list[i].priority < list[j].priority
			}
			return list[i].seq < list[j].seq
		})
		m.sorted[position] = true
	}
	return append([]registered(nil), list...)
}

func (m *Manager) instance(class string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[class]; ok {
		return inst, true
	}
	factory, ok := m.factories[class]
	if !ok {
		return nil, false
	}
	inst := factory()
	m.instances[class] = inst
	return inst, true
}

func (m *Manager) sourceFor(ctx context.Context) Source {
	if src := SourceFromContext(ctx); src != nil {
		return src
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

// Trigger runs every event registered at position. Unknown positions are a
// no-op. Events whose class or method cannot be resolved are skipped.
func (m *Manager) Trigger(ctx context.Context, position string, args Args) {
	list := m.events(position)
	if len(list) == 0 {
		return
	}
	src := m.sourceFor(ctx)

	for _, r := range list {
		ev := r.event
		inst, ok := m.instance(ev.Class)
		if !ok {
			logger.Log.Warn("hook class not registered", "position", position, "class", ev.Class)
			continue
		}
		method := reflect.ValueOf(inst).MethodByName(ev.Method)
		if !method.IsValid() {
			logger.Log.Warn("hook method not found", "position", position, "class", ev.Class, "method", ev.Method)
			continue
		}

		in, err := buildArgs(method.Type(), ev.Deps, args, src)
		if err != nil {
			logger.Log.Warn("hook arguments do not match", "position", position, "class", ev.Class, "method", ev.Method, "error", err)
			continue
		}

		out := method.Call(in)
		if n := len(out); n > 0 {
			if e, ok := out[n-1].Interface().(error); ok && e != nil {
				logger.Log.Warn("hook returned error", "position", position, "class", ev.Class, "method", ev.Method, "error", e)
			}
		}
	}
}
