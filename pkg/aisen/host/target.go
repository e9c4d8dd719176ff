package host

import "sync"

// TargetTypes is the catalog of host types that carry addEventListener.
var TargetTypes = []string{
	"EventTarget",
	"Window",
	"Node",
	"ApplicationCache",
	"AudioTrackList",
	"ChannelMergerNode",
	"CryptoOperation",
	"EventSource",
	"FileReader",
	"HTMLUnknownElement",
	"IDBDatabase",
	"IDBRequest",
	"IDBTransaction",
	"KeyOperation",
	"MediaController",
	"MessagePort",
	"ModalWindow",
	"Notification",
	"SVGElementInstance",
	"Screen",
	"TextTrack",
	"TextTrackCue",
	"TextTrackList",
	"WebSocket",
	"WebSocketWorker",
	"Worker",
	"XMLHttpRequest",
	"XMLHttpRequestEventTarget",
	"XMLHttpRequestUpload",
}

// AddListenerFunc registers l for eventType on t.
type AddListenerFunc func(t *EventTarget, eventType string, l Listener)

// RemoveListenerFunc unregisters l for eventType on t.
type RemoveListenerFunc func(t *EventTarget, eventType string, l Listener)

// TargetProto holds the patchable listener methods shared by all targets of
// one type.
type TargetProto struct {
	name string

	AddEventListener    *Method[AddListenerFunc]
	RemoveEventListener *Method[RemoveListenerFunc]
}

func newTargetProto(name string) *TargetProto {
	return &TargetProto{
		name:                name,
		AddEventListener:    newMethod("addEventListener", AddListenerFunc(addListener)),
		RemoveEventListener: newMethod("removeEventListener", RemoveListenerFunc(removeListener)),
	}
}

// Name returns the type name.
func (p *TargetProto) Name() string {
	return p.name
}

// EventTarget dispatches events to registered listeners.
type EventTarget struct {
	realm    *Realm
	typeName string

	mu        sync.Mutex
	listeners map[string][]Listener
}

// NewTarget creates a target of the given type. Types outside TargetTypes
// get a private prototype that capture layers do not patch.
func (r *Realm) NewTarget(typeName string) *EventTarget {
	return &EventTarget{
		realm:     r,
		typeName:  typeName,
		listeners: make(map[string][]Listener),
	}
}

func (r *Realm) protoFor(typeName string) *TargetProto {
	if p, ok := r.protos[typeName]; ok {
		return p
	}
	r.protoMu.Lock()
	defer r.protoMu.Unlock()
	p, ok := r.extraProtos[typeName]
	if !ok {
		p = newTargetProto(typeName)
		r.extraProtos[typeName] = p
	}
	return p
}

// TypeName returns the target's type.
func (t *EventTarget) TypeName() string {
	return t.typeName
}

// AddEventListener registers l through the type's prototype. Adding the same
// listener twice has no effect.
func (t *EventTarget) AddEventListener(eventType string, l Listener) {
	t.realm.protoFor(t.typeName).AddEventListener.Get()(t, eventType, l)
}

// RemoveEventListener unregisters l through the type's prototype.
func (t *EventTarget) RemoveEventListener(eventType string, l Listener) {
	t.realm.protoFor(t.typeName).RemoveEventListener.Get()(t, eventType, l)
}

// Listeners returns the listeners registered for eventType.
func (t *EventTarget) Listeners(eventType string) []Listener {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Listener, len(t.listeners[eventType]))
	copy(out, t.listeners[eventType])
	return out
}

// DispatchEvent calls the listeners for ev.Type synchronously. A panicking
// listener is reported as uncaught and dispatch continues with the next one.
func (t *EventTarget) DispatchEvent(ev *Event) {
	ev.Target = t
	for _, l := range t.Listeners(ev.Type) {
		t.realm.dispatch(l, ev)
	}
}

// Emit queues a job that dispatches a new event of eventType.
func (t *EventTarget) Emit(eventType string, data any) {
	t.realm.Post(func() {
		t.DispatchEvent(&Event{Type: eventType, Data: data})
	})
}

func addListener(t *EventTarget, eventType string, l Listener) {
	if l == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.listeners[eventType] {
		if SameListener(existing, l) {
			return
		}
	}
	t.listeners[eventType] = append(t.listeners[eventType], l)
}

func removeListener(t *EventTarget, eventType string, l Listener) {
	if l == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.listeners[eventType]
	for i, existing := range list {
		if SameListener(existing, l) {
			t.listeners[eventType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}
