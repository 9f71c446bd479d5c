package fifo

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/switchbus/logging"
	"go.viam.com/switchbus/metrics"
	"go.viam.com/switchbus/utils"
)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithPollInterval sets the pause between polls of Controller.WaitDone.
func WithPollInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.pollInterval = d
	}
}

// WithMetrics records every controller call in c.
func WithMetrics(c *metrics.Collector) RegistryOption {
	return func(r *Registry) {
		r.metrics = c
	}
}

// A Registry owns one Controller slot per logical unit. Slots exist for units [0, maxUnits) and
// are overwritten, never removed, by a new Attach. Distinct units share no controller state.
type Registry struct {
	mu    sync.RWMutex
	slots []*Controller

	pollInterval time.Duration
	logger       logging.Logger
	metrics      *metrics.Collector
}

// NewRegistry returns a registry with slots for maxUnits units.
func NewRegistry(maxUnits int, logger logging.Logger, opts ...RegistryOption) *Registry {
	if maxUnits < 0 {
		maxUnits = 0
	}
	r := &Registry{
		slots:        make([]*Controller, maxUnits),
		pollInterval: DefaultPollInterval,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxUnits returns the number of unit slots.
func (r *Registry) MaxUnits() int {
	return len(r.slots)
}

// Attach resets the controller of a unit, binds backend to it and marks it active. Any batch
// state of a previous attach is lost. A nil backend leaves the unit attached but unusable. When
// the backend cannot report its channels the controller stays inactive.
func (r *Registry) Attach(ctx context.Context, unit int, backend Backend) error {
	if unit < 0 || unit >= len(r.slots) {
		return utils.NewUnavailableError(unit, "no fifo slot")
	}

	ctrl := &Controller{
		unit:         unit,
		backend:      backend,
		pollInterval: r.pollInterval,
		logger:       r.logger.Sublogger("fifo"),
		metrics:      r.metrics,
	}
	r.mu.Lock()
	r.slots[unit] = ctrl
	r.mu.Unlock()

	if backend != nil {
		info, err := backend.Info(ctx)
		if err != nil {
			return errors.Wrapf(err, "unit %d: cannot query fifo backend", unit)
		}
		ctrl.channels = info.Channels
		ctrl.cmdMemWords = info.CmdMemWords
	}
	ctrl.active = true
	r.logger.CDebugw(ctx, "fifo attached", "unit", unit, "channels", ctrl.channels, "cmd_mem_words", ctrl.cmdMemWords)
	return nil
}

// AttachModel constructs a backend of a registered model and attaches it.
func (r *Registry) AttachModel(
	ctx context.Context,
	unit int,
	model string,
	deps Dependencies,
	attrs utils.AttributeMap,
) error {
	if unit < 0 || unit >= len(r.slots) {
		return utils.NewUnavailableError(unit, "no fifo slot")
	}
	backend, err := NewBackend(ctx, deps, BackendConfig{Unit: unit, Model: model, Attributes: attrs}, r.logger.Sublogger(model))
	if err != nil {
		return err
	}
	return r.Attach(ctx, unit, backend)
}

// Detach deactivates the controller of a unit. Detaching an inactive unit is a no-op.
func (r *Registry) Detach(unit int) error {
	ctrl, err := r.slot(unit)
	if err != nil {
		return err
	}
	ctrl.active = false
	return nil
}

func (r *Registry) slot(unit int) (*Controller, error) {
	if unit < 0 || unit >= len(r.slots) {
		return nil, utils.NewUnavailableError(unit, "no fifo slot")
	}
	r.mu.RLock()
	ctrl := r.slots[unit]
	r.mu.RUnlock()
	if ctrl == nil {
		return nil, utils.NewUnavailableError(unit, "fifo never attached")
	}
	return ctrl, nil
}

// Controller returns the controller of a unit that was attached at least once.
func (r *Registry) Controller(unit int) (*Controller, error) {
	return r.slot(unit)
}

// Units returns the active units, in order.
func (r *Registry) Units() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	active := lo.Filter(r.slots, func(c *Controller, _ int) bool { return c != nil && c.active })
	return lo.Map(active, func(c *Controller, _ int) int { return c.unit })
}

// InitAll runs Init on every active unit concurrently.
func (r *Registry) InitAll(ctx context.Context, maxPolls uint32, flags InitFlags) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, unit := range r.Units() {
		ctrl, err := r.slot(unit)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return ctrl.Init(ctx, maxPolls, flags)
		})
	}
	return g.Wait()
}

// Close detaches every unit and closes backends that hold resources.
func (r *Registry) Close() error {
	r.mu.RLock()
	slots := append([]*Controller(nil), r.slots...)
	r.mu.RUnlock()

	var errs error
	closed := map[Backend]bool{}
	for _, ctrl := range slots {
		if ctrl == nil {
			continue
		}
		ctrl.active = false
		if ctrl.backend == nil || closed[ctrl.backend] {
			continue
		}
		closed[ctrl.backend] = true
		if closer, ok := ctrl.backend.(io.Closer); ok {
			errs = multierr.Combine(errs, closer.Close())
		}
	}
	return errs
}

// InfoGet returns the channel count and command memory size of a unit.
func (r *Registry) InfoGet(ctx context.Context, unit int) (Info, error) {
	ctrl, err := r.slot(unit)
	if err != nil {
		return Info{}, err
	}
	return ctrl.Info(ctx)
}

// Init configures the FIFO of a unit.
func (r *Registry) Init(ctx context.Context, unit int, maxPolls uint32, flags InitFlags) error {
	ctrl, err := r.slot(unit)
	if err != nil {
		return err
	}
	return ctrl.Init(ctx, maxPolls, flags)
}

// OpsSend queues numOps ops into a channel of a unit.
func (r *Registry) OpsSend(ctx context.Context, unit, ch int, numOps uint32, req []uint32, flags OpFlags) error {
	ctrl, err := r.slot(unit)
	if err != nil {
		return err
	}
	return ctrl.SendOps(ctx, ch, numOps, req, flags)
}

// SetStart starts or stops a channel of a unit.
func (r *Registry) SetStart(ctx context.Context, unit, ch int, start bool) error {
	ctrl, err := r.slot(unit)
	if err != nil {
		return err
	}
	return ctrl.SetStart(ctx, ch, start)
}

// StatusGet polls a channel of a unit.
func (r *Registry) StatusGet(ctx context.Context, unit, ch int, numOps uint32, flags OpFlags) (uint32, []uint32, error) {
	ctrl, err := r.slot(unit)
	if err != nil {
		return 0, nil, err
	}
	return ctrl.Status(ctx, ch, numOps, flags)
}
