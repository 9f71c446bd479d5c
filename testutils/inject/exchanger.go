package inject

import (
	"context"

	"go.viam.com/switchbus/pio"
	"go.viam.com/switchbus/schan"
)

// Exchanger is an injected S-Channel exchanger.
type Exchanger struct {
	pio.Exchanger
	OpFunc func(ctx context.Context, unit int, msg *schan.Message, writeWords, readWords int) error
	Calls  int
}

// Op calls the injected Op or the real version.
func (e *Exchanger) Op(ctx context.Context, unit int, msg *schan.Message, writeWords, readWords int) error {
	e.Calls++
	if e.OpFunc == nil {
		return e.Exchanger.Op(ctx, unit, msg, writeWords, readWords)
	}
	return e.OpFunc(ctx, unit, msg, writeWords, readWords)
}
