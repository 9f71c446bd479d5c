package cmicx

import (
	"context"
	"fmt"
	"io"

	"go.viam.com/switchbus/fifo"
	"go.viam.com/switchbus/hw"
	"go.viam.com/switchbus/logging"
	"go.viam.com/switchbus/schan"
	"go.viam.com/switchbus/utils"
)

// Model is the registered FIFO backend model of CMICx devices.
const Model = "cmicx"

func init() {
	fifo.RegisterBackend(Model, fifo.Registration{
		Constructor: func(
			ctx context.Context,
			deps fifo.Dependencies,
			conf fifo.BackendConfig,
			logger logging.Logger,
		) (fifo.Backend, error) {
			acc, err := fifo.FromDependencies[hw.Accessor](deps, fifo.DepAccessor)
			if err == nil {
				return NewFIFO(conf.Unit, acc, logger), nil
			}
			if !conf.Attributes.Has("bar_address") {
				return nil, err
			}
			return openBAR(conf, logger)
		},
	})
}

// openBAR maps the register window named by the bar_address and bar_size attributes.
func openBAR(conf fifo.BackendConfig, logger logging.Logger) (*FIFO, error) {
	phys, err := conf.Attributes.Uint64("bar_address", 0)
	if err != nil {
		return nil, err
	}
	size, err := conf.Attributes.Int("bar_size", WindowSize)
	if err != nil {
		return nil, err
	}
	if size < WindowSize {
		return nil, utils.NewParamError("bar_size 0x%x is below the register window of 0x%x", size, WindowSize)
	}
	bar, err := hw.MapBAR(phys, size)
	if err != nil {
		return nil, err
	}
	f := NewFIFO(conf.Unit, bar, logger)
	f.closer = bar
	logger.Infow("mapped CMIC BAR", "unit", conf.Unit, "address", fmt.Sprintf("0x%x", phys), "size", size)
	return f, nil
}

// FIFO is the S-Channel FIFO of a CMICx device.
type FIFO struct {
	unit     int
	acc      hw.Accessor
	logger   logging.Logger
	maxPolls uint32
	// queued keeps the ops of each channel so responses can be sliced per op.
	queued [FifoChannels][]schan.Command
	closer io.Closer
}

// NewFIFO returns the FIFO backend of a unit's register window.
func NewFIFO(unit int, acc hw.Accessor, logger logging.Logger) *FIFO {
	return &FIFO{unit: unit, acc: acc, logger: logger, maxPolls: fifo.DefaultMaxPolls}
}

// Close releases a register window the backend mapped itself.
func (f *FIFO) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// Info implements fifo.Backend.
func (f *FIFO) Info(ctx context.Context) (fifo.Info, error) {
	return fifo.Info{Channels: FifoChannels, CmdMemWords: FifoCmdMemWords}, nil
}

// Init implements fifo.Backend. Every channel is stopped.
func (f *FIFO) Init(ctx context.Context, maxPolls uint32, flags fifo.InitFlags) error {
	var ctrl uint32
	if flags&fifo.InitIgnoreSERAbort != 0 {
		ctrl |= FifoCtrlIgnoreSER
	}
	if flags&fifo.InitCCMDMAWrite != 0 {
		ctrl |= FifoCtrlCCMDMA
	}
	for ch := 0; ch < FifoChannels; ch++ {
		if err := f.acc.Write32(FifoCtrl(ch), ctrl); err != nil {
			return err
		}
		f.queued[ch] = nil
	}
	if maxPolls == 0 {
		maxPolls = fifo.DefaultMaxPolls
	}
	f.maxPolls = maxPolls
	return nil
}

// SendOps implements fifo.Backend.
func (f *FIFO) SendOps(ctx context.Context, ch int, numOps uint32, req []uint32, flags fifo.OpFlags) error {
	ops, err := schan.ParseOps(req, numOps)
	if err != nil {
		return err
	}
	if n := responseWords(ops, len(ops)); n > FifoRespMemWords {
		return utils.NewParamError("responses of %d words exceed response memory of %d", n, FifoRespMemWords)
	}
	for i, w := range req {
		if err := f.acc.Write32(FifoCmd(ch, i), w); err != nil {
			return err
		}
	}
	if err := f.acc.Write32(FifoNumOps(ch), numOps); err != nil {
		return err
	}
	f.queued[ch] = ops
	if flags&fifo.OpSetStart != 0 {
		return f.SetStart(ctx, ch, true)
	}
	return nil
}

// SetStart implements fifo.Backend.
func (f *FIFO) SetStart(ctx context.Context, ch int, start bool) error {
	ctrl, err := f.acc.Read32(FifoCtrl(ch))
	if err != nil {
		return err
	}
	if start {
		ctrl = (ctrl | FifoCtrlStart) &^ FifoCtrlAbort
	} else {
		ctrl &^= FifoCtrlStart
	}
	return f.acc.Write32(FifoCtrl(ch), ctrl)
}

// Status implements fifo.Backend.
func (f *FIFO) Status(ctx context.Context, ch int, numOps uint32, flags fifo.OpFlags) (uint32, []uint32, error) {
	polls := uint32(1)
	if flags&fifo.OpWaitComplete != 0 {
		polls = f.maxPolls
	}

	var status, done uint32
	for i := uint32(0); i < polls; i++ {
		var err error
		status, err = f.acc.Read32(FifoStatus(ch))
		if err != nil {
			return 0, nil, err
		}
		done = status & FifoStatusDoneCountMask
		if status&FifoStatusError != 0 || done >= numOps {
			break
		}
		if err := ctx.Err(); err != nil {
			return done, nil, err
		}
	}
	if status&FifoStatusError != 0 {
		return done, nil, utils.NewFailError("unit %d: fifo channel %d error after %d ops", f.unit, ch, done)
	}
	if flags&fifo.OpWaitComplete != 0 && done < numOps {
		return done, nil, utils.NewTimeoutError("fifo status", polls)
	}

	resp, err := f.responses(ch, done)
	if err != nil {
		return done, nil, err
	}
	if done >= numOps && flags&fifo.OpClearStart != 0 {
		if err := f.SetStart(ctx, ch, false); err != nil {
			return done, nil, err
		}
	}
	return done, resp, nil
}

// responseWords returns how many response words the first n of ops produce.
func responseWords(ops []schan.Command, n int) int {
	var words int
	for _, op := range ops[:min(n, len(ops))] {
		_, readWords := schan.CommandWords(op.Header.Opcode, op.WordCount())
		words += readWords
	}
	return words
}

// responses reads the response words of the first done ops of a channel.
func (f *FIFO) responses(ch int, done uint32) ([]uint32, error) {
	resp := make([]uint32, responseWords(f.queued[ch], int(done)))
	for i := range resp {
		w, err := f.acc.Read32(FifoResp(ch, i))
		if err != nil {
			return nil, err
		}
		resp[i] = w
	}
	return resp, nil
}
