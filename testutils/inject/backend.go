package inject

import (
	"context"

	"go.viam.com/switchbus/fifo"
)

// Backend is an injected FIFO backend. Every call is counted so tests can assert that the
// controller never delegated.
type Backend struct {
	fifo.Backend
	InfoFunc     func(ctx context.Context) (fifo.Info, error)
	InitFunc     func(ctx context.Context, maxPolls uint32, flags fifo.InitFlags) error
	SendOpsFunc  func(ctx context.Context, ch int, numOps uint32, req []uint32, flags fifo.OpFlags) error
	SetStartFunc func(ctx context.Context, ch int, start bool) error
	StatusFunc   func(ctx context.Context, ch int, numOps uint32, flags fifo.OpFlags) (uint32, []uint32, error)
	CloseFunc    func() error
	Calls        int
}

// Info calls the injected Info or the real version.
func (b *Backend) Info(ctx context.Context) (fifo.Info, error) {
	if b.InfoFunc == nil {
		return b.Backend.Info(ctx)
	}
	return b.InfoFunc(ctx)
}

// Init calls the injected Init or the real version.
func (b *Backend) Init(ctx context.Context, maxPolls uint32, flags fifo.InitFlags) error {
	b.Calls++
	if b.InitFunc == nil {
		return b.Backend.Init(ctx, maxPolls, flags)
	}
	return b.InitFunc(ctx, maxPolls, flags)
}

// SendOps calls the injected SendOps or the real version.
func (b *Backend) SendOps(ctx context.Context, ch int, numOps uint32, req []uint32, flags fifo.OpFlags) error {
	b.Calls++
	if b.SendOpsFunc == nil {
		return b.Backend.SendOps(ctx, ch, numOps, req, flags)
	}
	return b.SendOpsFunc(ctx, ch, numOps, req, flags)
}

// SetStart calls the injected SetStart or the real version.
func (b *Backend) SetStart(ctx context.Context, ch int, start bool) error {
	b.Calls++
	if b.SetStartFunc == nil {
		return b.Backend.SetStart(ctx, ch, start)
	}
	return b.SetStartFunc(ctx, ch, start)
}

// Status calls the injected Status or the real version.
func (b *Backend) Status(ctx context.Context, ch int, numOps uint32, flags fifo.OpFlags) (uint32, []uint32, error) {
	b.Calls++
	if b.StatusFunc == nil {
		return b.Backend.Status(ctx, ch, numOps, flags)
	}
	return b.StatusFunc(ctx, ch, numOps, flags)
}

// Close calls the injected Close or the real version if it has one.
func (b *Backend) Close() error {
	if b.CloseFunc == nil {
		if closer, ok := b.Backend.(interface{ Close() error }); ok {
			return closer.Close()
		}
		return nil
	}
	return b.CloseFunc()
}
