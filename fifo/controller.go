package fifo

import (
	"context"
	"time"

	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/switchbus/logging"
	"go.viam.com/switchbus/metrics"
	"go.viam.com/switchbus/utils"
)

const (
	// DefaultMaxPolls bounds WaitDone when Init was never called.
	DefaultMaxPolls = 1000
	// DefaultPollInterval is the pause between two polls of WaitDone.
	DefaultPollInterval = 10 * time.Microsecond
)

// A Controller is the FIFO state of one logical unit. Calls are not synchronized: callers must
// serialize all calls on one unit. Every call fails with utils.ErrUnavailable unless the
// controller is active and bound to a backend, and every argument is checked here before the
// backend sees it.
type Controller struct {
	unit        int
	active      bool
	channels    int
	cmdMemWords int
	maxPolls    uint32
	backend     Backend

	pollInterval time.Duration
	logger       logging.Logger
	metrics      *metrics.Collector
}

// Unit returns the logical unit of the controller.
func (c *Controller) Unit() int {
	return c.unit
}

// Active reports whether the controller is attached.
func (c *Controller) Active() bool {
	return c.active
}

// Backend returns the bound backend, if any.
func (c *Controller) Backend() Backend {
	return c.backend
}

func (c *Controller) available() error {
	if !c.active {
		return utils.NewUnavailableError(c.unit, "fifo not attached")
	}
	if c.backend == nil {
		return utils.NewUnavailableError(c.unit, "no fifo backend bound")
	}
	return nil
}

func (c *Controller) checkChannel(ch int) error {
	if ch < 0 || ch >= c.channels {
		return utils.NewParamError("channel %d out of range [0, %d)", ch, c.channels)
	}
	return nil
}

// Info returns the channel count and command memory size of the unit.
func (c *Controller) Info(ctx context.Context) (info Info, err error) {
	defer func() { c.metrics.FIFOCall("info_get", err) }()
	if err := c.available(); err != nil {
		return Info{}, err
	}
	return Info{Channels: c.channels, CmdMemWords: c.cmdMemWords}, nil
}

// Init configures the poll limit and flags of every channel.
func (c *Controller) Init(ctx context.Context, maxPolls uint32, flags InitFlags) (err error) {
	defer func() { c.metrics.FIFOCall("init", err) }()
	if err := c.available(); err != nil {
		return err
	}
	if err := c.backend.Init(ctx, maxPolls, flags); err != nil {
		return err
	}
	c.maxPolls = maxPolls
	c.logger.CDebugw(ctx, "fifo initialized", "max_polls", maxPolls, "flags", flags.String())
	return nil
}

// SendOps queues numOps operations, encoded back to back in req, into a channel.
func (c *Controller) SendOps(ctx context.Context, ch int, numOps uint32, req []uint32, flags OpFlags) (err error) {
	defer func() { c.metrics.FIFOCall("ops_send", err) }()
	if err := c.available(); err != nil {
		return err
	}
	if err := c.checkChannel(ch); err != nil {
		return err
	}
	if numOps == 0 {
		return utils.NewParamError("no ops to send")
	}
	if len(req) == 0 {
		return utils.NewParamError("missing request buffer")
	}
	if len(req) > c.cmdMemWords {
		return utils.NewParamError("request of %d words exceeds command memory of %d", len(req), c.cmdMemWords)
	}
	if uint64(numOps)*2 > uint64(len(req)) {
		return utils.NewParamError("%d ops cannot fit in a request of %d words", numOps, len(req))
	}
	return c.backend.SendOps(ctx, ch, numOps, req, flags)
}

// SetStart starts or stops a channel. Stopping a running channel abandons its outstanding ops.
func (c *Controller) SetStart(ctx context.Context, ch int, start bool) (err error) {
	defer func() { c.metrics.FIFOCall("set_start", err) }()
	if err := c.available(); err != nil {
		return err
	}
	if err := c.checkChannel(ch); err != nil {
		return err
	}
	return c.backend.SetStart(ctx, ch, start)
}

// Status returns how many of numOps queued ops completed and their responses.
func (c *Controller) Status(ctx context.Context, ch int, numOps uint32, flags OpFlags) (done uint32, resp []uint32, err error) {
	defer func() { c.metrics.FIFOCall("status_get", err) }()
	if err := c.available(); err != nil {
		return 0, nil, err
	}
	if err := c.checkChannel(ch); err != nil {
		return 0, nil, err
	}
	if numOps == 0 {
		return 0, nil, utils.NewParamError("no ops to poll")
	}
	return c.backend.Status(ctx, ch, numOps, flags)
}

// WaitDone polls a running channel until numOps ops are done. It gives up with utils.ErrTimeout
// after the poll limit given to Init, or DefaultMaxPolls.
func (c *Controller) WaitDone(ctx context.Context, ch int, numOps uint32) ([]uint32, error) {
	maxPolls := c.maxPolls
	if maxPolls == 0 {
		maxPolls = DefaultMaxPolls
	}
	for poll := uint32(0); poll < maxPolls; poll++ {
		done, resp, err := c.Status(ctx, ch, numOps, 0)
		if err != nil {
			return nil, err
		}
		if done >= numOps {
			return resp, nil
		}
		if !goutils.SelectContextOrWait(ctx, c.pollInterval) {
			return nil, ctx.Err()
		}
	}
	return nil, utils.NewTimeoutError("fifo status", maxPolls)
}

// Run executes a batch on a channel from start to finish: it queues the ops, starts the channel,
// waits for every op to complete and stops the channel again, also when waiting failed.
func (c *Controller) Run(ctx context.Context, ch int, numOps uint32, req []uint32) ([]uint32, error) {
	if err := c.SendOps(ctx, ch, numOps, req, 0); err != nil {
		return nil, err
	}
	if err := c.SetStart(ctx, ch, true); err != nil {
		return nil, err
	}
	resp, err := c.WaitDone(ctx, ch, numOps)
	if stopErr := c.SetStart(ctx, ch, false); stopErr != nil {
		err = multierr.Combine(err, stopErr)
	}
	if err != nil {
		c.logger.Warnw("fifo batch failed", "unit", c.unit, "channel", ch, "ops", numOps, "error", err)
		return nil, err
	}
	return resp, nil
}
