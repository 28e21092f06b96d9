package link

import (
	"errors"
	"testing"
)

func TestHandlerRegistry(t *testing.T) {
	registry := NewHandlerRegistry()

	var got []byte
	registry.Register(1, func(msg *Message, item Item) error {
		got = append(got, item.Payload...)
		return nil
	})

	if registry.Count() != 1 {
		t.Errorf("Expected 1 registered type, got %d", registry.Count())
	}

	msg := &Message{Items: []Item{
		{Type: 1, Payload: []byte("a")},
		{Type: 2, Payload: []byte("skip")},
		{Type: 1, Payload: []byte("b")},
	}}
	if err := registry.Dispatch(msg); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if string(got) != "ab" {
		t.Errorf("Expected handler to see items in order, got %q", got)
	}

	// Removing the handler
	registry.Register(1, nil)
	if registry.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", registry.Count())
	}
}

func TestHandlerRegistryFallback(t *testing.T) {
	registry := NewHandlerRegistry()

	var types []byte
	registry.SetFallback(func(msg *Message, item Item) error {
		types = append(types, item.Type)
		return nil
	})
	registry.Register(5, func(msg *Message, item Item) error { return nil })

	msg := &Message{Items: []Item{{Type: 5}, {Type: 6}, {Type: 7}}}
	if err := registry.Dispatch(msg); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(types) != 2 || types[0] != 6 || types[1] != 7 {
		t.Errorf("Fallback should see unregistered types only, got %v", types)
	}
}

func TestHandlerRegistryErrors(t *testing.T) {
	registry := NewHandlerRegistry()
	errBad := errors.New("bad item")

	calls := 0
	registry.Register(1, func(msg *Message, item Item) error {
		calls++
		return errBad
	})

	err := registry.Dispatch(&Message{Items: []Item{{Type: 1}, {Type: 1}}})
	if !errors.Is(err, errBad) {
		t.Errorf("Expected joined handler error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("A failing handler should not stop dispatch, got %d calls", calls)
	}
}
