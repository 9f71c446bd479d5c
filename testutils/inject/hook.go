package inject

import (
	"context"

	"go.viam.com/switchbus/simhook"
)

// Hook is an injected simulation hook.
type Hook struct {
	simhook.Hook
	ReadFunc  func(ctx context.Context, unit int, adext, address uint32, data []uint32) error
	WriteFunc func(ctx context.Context, unit int, adext, address uint32, data []uint32) error
}

// Read calls the injected Read or the real version.
func (h *Hook) Read(ctx context.Context, unit int, adext, address uint32, data []uint32) error {
	if h.ReadFunc == nil {
		return h.Hook.Read(ctx, unit, adext, address, data)
	}
	return h.ReadFunc(ctx, unit, adext, address, data)
}

// Write calls the injected Write or the real version.
func (h *Hook) Write(ctx context.Context, unit int, adext, address uint32, data []uint32) error {
	if h.WriteFunc == nil {
		return h.Hook.Write(ctx, unit, adext, address, data)
	}
	return h.WriteFunc(ctx, unit, adext, address, data)
}
