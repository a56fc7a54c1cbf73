package client

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// Handler consumes one inbound message payload.
type Handler func(payload map[string]any)

// Dispatcher fans inbound channel messages out to subscribers by message
// type, so several subsystems can share one transport without overwriting
// each other's receive callback. Messages whose type nobody claimed go to
// the default handlers; malformed messages are logged and dropped.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	fallback []Handler
	log      zerolog.Logger
}

func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]Handler),
		log:      log.With().Str("component", "dispatcher").Logger(),
	}
}

// Subscribe registers a handler for one message type. Multiple handlers per
// type are delivered in registration order.
func (d *Dispatcher) Subscribe(msgType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[msgType] = append(d.handlers[msgType], h)
}

// SubscribeDefault registers a handler for message types no subscriber claimed.
func (d *Dispatcher) SubscribeDefault(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = append(d.fallback, h)
}

// Dispatch parses one raw message and delivers it. Each message is handled
// to completion before Dispatch returns, so a caller feeding messages from a
// single read loop never interleaves two deliveries.
func (d *Dispatcher) Dispatch(raw []byte) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		d.log.Warn().Err(err).Msg("dropping malformed message")
		return
	}
	msgType, _ := payload["type"].(string)

	d.mu.RLock()
	handlers := d.handlers[msgType]
	fallback := d.fallback
	d.mu.RUnlock()

	if len(handlers) == 0 {
		if len(fallback) == 0 {
			d.log.Debug().Str("type", msgType).Msg("no subscriber for message")
			return
		}
		handlers = fallback
	}
	for _, h := range handlers {
		h(payload)
	}
}
