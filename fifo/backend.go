// Package fifo drives the S-Channel FIFO: per unit batch channels that execute many queued
// operations and are polled for completion. Each hardware generation provides a Backend, and a
// Registry owns one Controller per logical unit.
package fifo

import (
	"context"
	"strings"

	"go.viam.com/switchbus/utils"
)

// Info describes the channels of a backend.
type Info struct {
	Channels int
	// CmdMemWords is the largest request, in words, a single SendOps may carry.
	CmdMemWords int
}

// InitFlags change the behavior of the whole FIFO of a unit.
type InitFlags uint32

const (
	// InitIgnoreSERAbort keeps a channel running when a soft error check fails on one op.
	InitIgnoreSERAbort InitFlags = 1 << iota
	// InitCCMDMAWrite writes responses to host memory instead of the response registers.
	InitCCMDMAWrite
)

func (f InitFlags) String() string {
	var names []string
	if f&InitIgnoreSERAbort != 0 {
		names = append(names, "ignore_ser_abort")
	}
	if f&InitCCMDMAWrite != 0 {
		names = append(names, "ccm_dma_write")
	}
	return strings.Join(names, "|")
}

// ParseInitFlags is the inverse of InitFlags.String for a list of flag names.
func ParseInitFlags(names []string) (InitFlags, error) {
	var f InitFlags
	for _, name := range names {
		switch name {
		case "ignore_ser_abort":
			f |= InitIgnoreSERAbort
		case "ccm_dma_write":
			f |= InitCCMDMAWrite
		default:
			return 0, utils.NewParamError("unknown fifo init flag %q", name)
		}
	}
	return f, nil
}

// OpFlags change the behavior of a single SendOps or Status call.
type OpFlags uint32

const (
	// OpSetStart starts the channel right after the ops are queued.
	OpSetStart OpFlags = 1 << iota
	// OpWaitComplete makes Status poll until every op is done or the poll limit is reached.
	OpWaitComplete
	// OpClearStart makes Status clear the start bit once every op is done.
	OpClearStart
)

// A Backend is the hardware generation specific implementation of the FIFO. The Controller
// validates every argument before calling it. A backend may implement io.Closer.
type Backend interface {
	// Info returns the channel count and command memory size.
	Info(ctx context.Context) (Info, error)
	// Init configures the poll limit and flags for every channel.
	Init(ctx context.Context, maxPolls uint32, flags InitFlags) error
	// SendOps queues numOps encoded operations into the command memory of a channel.
	SendOps(ctx context.Context, ch int, numOps uint32, req []uint32, flags OpFlags) error
	// SetStart asserts or de-asserts execution of a channel.
	SetStart(ctx context.Context, ch int, start bool) error
	// Status returns how many of numOps ops completed and their response words.
	Status(ctx context.Context, ch int, numOps uint32, flags OpFlags) (done uint32, resp []uint32, err error)
}
