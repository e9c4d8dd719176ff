package instrument

import (
	"sync"
	"time"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen/host"
)

// patchKey identifies TryCatch patches on host methods. A method is patched
// at most once per realm, whichever TryCatch gets there first.
const patchKey = "aisen.trycatch"

// patch is one registry entry: a host method and the factory that wraps it.
type patch struct {
	target string
	method string
	apply  func() bool
}

// TryCatch wraps the listeners handed to a realm's callback-taking methods.
type TryCatch struct {
	realm   *host.Realm
	wrapper *Wrapper
	cfg     config

	once    sync.Once
	applied []string
}

// NewTryCatch creates the patch registry for realm. Nothing is patched until
// Setup.
func NewTryCatch(realm *host.Realm, wrapper *Wrapper, opts ...Option) *TryCatch {
	return &TryCatch{
		realm:   realm,
		wrapper: wrapper,
		cfg:     newConfig(opts),
	}
}

// Wrapper returns the wrapper used for patched methods.
func (t *TryCatch) Wrapper() *Wrapper {
	return t.wrapper
}

// Setup applies every registry entry once.
func (t *TryCatch) Setup() {
	t.once.Do(func() {
		for _, p := range t.registry() {
			p := p
			t.cfg.safeCall("patch "+p.target+"."+p.method, func() {
				if p.apply() {
					t.applied = append(t.applied, p.target+"."+p.method)
				}
			})
		}
	})
}

// Applied returns the "Target.method" names this registry patched.
func (t *TryCatch) Applied() []string {
	out := make([]string, len(t.applied))
	copy(out, t.applied)
	return out
}

func (t *TryCatch) registry() []patch {
	g := t.realm.Global()
	entries := []patch{
		{target: "global", method: g.SetTimeout.Name(), apply: func() bool {
			return g.SetTimeout.Patch(patchKey, t.wrapTimer(g.SetTimeout.Name()))
		}},
		{target: "global", method: g.SetInterval.Name(), apply: func() bool {
			return g.SetInterval.Patch(patchKey, t.wrapTimer(g.SetInterval.Name()))
		}},
		{target: "global", method: g.RequestAnimationFrame.Name(), apply: func() bool {
			return g.RequestAnimationFrame.Patch(patchKey, t.wrapFrame(g.RequestAnimationFrame.Name()))
		}},
		{target: "XMLHttpRequest", method: t.realm.RequestProto().Send.Name(), apply: func() bool {
			return t.realm.RequestProto().Send.Patch(patchKey, t.wrapSend)
		}},
	}

	for _, name := range host.TargetTypes {
		proto := t.realm.Proto(name)
		if proto == nil {
			continue
		}
		entries = append(entries,
			patch{target: name, method: proto.AddEventListener.Name(), apply: func() bool {
				return proto.AddEventListener.Patch(patchKey, t.wrapAddListener(proto.Name()))
			}},
			patch{target: name, method: proto.RemoveEventListener.Name(), apply: func() bool {
				return proto.RemoveEventListener.Patch(patchKey, t.wrapRemoveListener)
			}},
		)
	}
	return entries
}

func (t *TryCatch) wrapTimer(function string) func(host.SetTimerFunc) host.SetTimerFunc {
	return func(original host.SetTimerFunc) host.SetTimerFunc {
		return func(l host.Listener, delay time.Duration) host.TimerID {
			l = t.wrapper.Wrap(l, instrumentMechanism(map[string]string{
				"function": function,
			}))
			return original(l, delay)
		}
	}
}

func (t *TryCatch) wrapFrame(function string) func(host.FrameFunc) host.FrameFunc {
	return func(original host.FrameFunc) host.FrameFunc {
		return func(l host.Listener) host.TimerID {
			l = t.wrapper.Wrap(l, instrumentMechanism(map[string]string{
				"function": "requestAnimationFrame",
				"handler":  function,
			}))
			return original(l)
		}
	}
}

func (t *TryCatch) wrapAddListener(target string) func(host.AddListenerFunc) host.AddListenerFunc {
	return func(original host.AddListenerFunc) host.AddListenerFunc {
		return func(et *host.EventTarget, eventType string, l host.Listener) {
			// A Listener is both the callback and its HandleEvent method, so
			// one wrap covers both.
			if l != nil {
				l = t.wrapper.Register(et, eventType, l, instrumentMechanism(map[string]string{
					"function": "addEventListener",
					"handler":  listenerName(l),
					"target":   target,
				}))
			}
			original(et, eventType, l)
		}
	}
}

// wrapRemoveListener resolves an original listener to the wrapper that was
// actually registered and releases the registration.
func (t *TryCatch) wrapRemoveListener(original host.RemoveListenerFunc) host.RemoveListenerFunc {
	return func(et *host.EventTarget, eventType string, l host.Listener) {
		original(et, eventType, t.wrapper.Release(et, eventType, l))
	}
}

// wrapSend wraps the request's callback slots as they are at send time.
// Slots already wrapped by an earlier layer are left alone.
func (t *TryCatch) wrapSend(original host.SendFunc) host.SendFunc {
	return func(req *host.Request, body []byte) {
		t.cfg.safeCall("wrap request slots", func() {
			for _, slot := range req.Slots() {
				l := *slot.Listener
				if l == nil {
					continue
				}
				if _, ok := l.(Wrapped); ok {
					continue
				}
				*slot.Listener = t.wrapper.Wrap(l, instrumentMechanism(map[string]string{
					"function": slot.Name,
					"handler":  listenerName(l),
				}))
			}
		})
		original(req, body)
	}
}
