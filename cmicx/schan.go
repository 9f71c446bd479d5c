// Package cmicx drives the S-Channel of CMICx generation switch chips through their register
// window: single PIO operations and the S-Channel FIFO.
package cmicx

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"go.viam.com/switchbus/hw"
	"go.viam.com/switchbus/logging"
	"go.viam.com/switchbus/schan"
	"go.viam.com/switchbus/utils"
)

// DefaultMaxPolls bounds the wait for an S-Channel operation to complete.
const DefaultMaxPolls = 100000

// SChannelOption configures an SChannel.
type SChannelOption func(*SChannel)

// WithMaxPolls sets how often SCHAN_CTRL is polled before an operation times out.
func WithMaxPolls(n uint32) SChannelOption {
	return func(s *SChannel) {
		s.maxPolls = n
	}
}

// WithPollDelay sleeps d on clk between two polls of SCHAN_CTRL.
func WithPollDelay(clk clock.Clock, d time.Duration) SChannelOption {
	return func(s *SChannel) {
		s.clock = clk
		s.pollDelay = d
	}
}

// WithChannel selects which of the PIO S-Channels is used.
func WithChannel(ch int) SChannelOption {
	return func(s *SChannel) {
		s.channel = ch
	}
}

// SChannel performs PIO S-Channel operations on the register windows of its units. Operations on
// one unit are serialized.
type SChannel struct {
	mu    sync.Mutex
	units map[int]*unitChannel

	channel   int
	maxPolls  uint32
	clock     clock.Clock
	pollDelay time.Duration
	logger    logging.Logger
}

type unitChannel struct {
	mu  sync.Mutex
	acc hw.Accessor
}

// NewSChannel returns an S-Channel driver without units.
func NewSChannel(logger logging.Logger, opts ...SChannelOption) *SChannel {
	s := &SChannel{
		units:    map[int]*unitChannel{},
		maxPolls: DefaultMaxPolls,
		clock:    clock.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddUnit binds the register window of a unit.
func (s *SChannel) AddUnit(unit int, acc hw.Accessor) error {
	if s.channel < 0 || s.channel >= SchanChannels {
		return utils.NewParamError("S-Channel %d out of range [0, %d)", s.channel, SchanChannels)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[unit] = &unitChannel{acc: acc}
	return nil
}

// RemoveUnit unbinds a unit.
func (s *SChannel) RemoveUnit(unit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.units, unit)
}

// Op implements pio.Exchanger.
func (s *SChannel) Op(ctx context.Context, unit int, msg *schan.Message, writeWords, readWords int) error {
	if writeWords < 1 || writeWords > schan.MaxWords || readWords < 0 || readWords > schan.MaxWords {
		return utils.NewParamError("bad S-Channel op size write=%d read=%d", writeWords, readWords)
	}
	s.mu.Lock()
	uc, ok := s.units[unit]
	s.mu.Unlock()
	if !ok {
		return utils.NewUnavailableError(unit, "no S-Channel register window")
	}
	uc.mu.Lock()
	defer uc.mu.Unlock()
	acc := uc.acc

	for i, w := range msg.Words(writeWords) {
		if err := acc.Write32(SchanMessage(s.channel, i), w); err != nil {
			return err
		}
	}
	if err := acc.Write32(SchanCtrl(s.channel), SchanCtrlStart); err != nil {
		return err
	}

	ctrl, err := s.waitDone(ctx, acc)
	if err != nil {
		// Leave the channel usable for the next operation.
		if abortErr := acc.Write32(SchanCtrl(s.channel), SchanCtrlAbort); abortErr != nil {
			s.logger.Warnw("cannot abort S-Channel", "unit", unit, "error", abortErr)
		}
		return err
	}
	if ctrl&schanCtrlErrors != 0 {
		if err := acc.Write32(SchanCtrl(s.channel), 0); err != nil {
			return err
		}
		return utils.NewFailError("unit %d: S-Channel error%s", unit, ctrlErrors(ctrl))
	}

	for i := 0; i < readWords; i++ {
		w, err := acc.Read32(SchanMessage(s.channel, i))
		if err != nil {
			return err
		}
		msg[i] = w
	}
	return acc.Write32(SchanCtrl(s.channel), 0)
}

func (s *SChannel) waitDone(ctx context.Context, acc hw.Accessor) (uint32, error) {
	for poll := uint32(0); poll < s.maxPolls; poll++ {
		ctrl, err := acc.Read32(SchanCtrl(s.channel))
		if err != nil {
			return 0, err
		}
		if ctrl&SchanCtrlDone != 0 {
			return ctrl, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if s.pollDelay > 0 {
			s.clock.Sleep(s.pollDelay)
		}
	}
	return 0, utils.NewTimeoutError("S-Channel operation", s.maxPolls)
}

func ctrlErrors(ctrl uint32) string {
	var out string
	if ctrl&SchanCtrlNak != 0 {
		out += " NAK"
	}
	if ctrl&SchanCtrlSERCheckFail != 0 {
		out += " SER_CHECK_FAIL"
	}
	if ctrl&SchanCtrlTimeout != 0 {
		out += " TIMEOUT"
	}
	return out
}
