package hook

import "reflect"

// Observer consumes completion events. Handle runs on the calling goroutine
// right before the call returns, so it should be quick. Panics are recovered.
type Observer interface {
	Handle(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Handle(e Event) { f(e) }

// Keyed observers are deduplicated by Key instead of by identity.
type Keyed interface {
	Key() string
}

func sameObserver(a, b Observer) bool {
	ka, okA := a.(Keyed)
	kb, okB := b.(Keyed)
	if okA && okB {
		return ka.Key() == kb.Key()
	}

	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}

	// funcs are not comparable; fall back to the code pointer
	if ta.Kind() == reflect.Func {
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}

	if !ta.Comparable() {
		return false
	}

	return a == b
}
