// Package fake implements a software FIFO backend that runs queued ops through a PIO exchanger,
// one poll at a time.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"go.viam.com/switchbus/fifo"
	"go.viam.com/switchbus/logging"
	"go.viam.com/switchbus/pio"
	"go.viam.com/switchbus/schan"
	"go.viam.com/switchbus/utils"
)

// Model is the registered model name.
const Model = "fake"

// Defaults for absent attributes.
const (
	DefaultChannels    = 4
	DefaultCmdMemWords = 64
	DefaultOpsPerPoll  = 1
)

func init() {
	fifo.RegisterBackend(Model, fifo.Registration{
		Constructor: func(
			ctx context.Context,
			deps fifo.Dependencies,
			conf fifo.BackendConfig,
			logger logging.Logger,
		) (fifo.Backend, error) {
			cfg, err := utils.DecodeAttributes[*Config](conf.Attributes)
			if err != nil {
				return nil, err
			}
			if err := cfg.Validate("attributes"); err != nil {
				return nil, err
			}
			ex, err := fifo.FromDependencies[pio.Exchanger](deps, fifo.DepExchanger)
			if err != nil {
				return nil, err
			}
			return NewBackend(conf.Unit, cfg, ex, logger), nil
		},
	})
}

// Config is the native config of the fake backend.
type Config struct {
	Channels    int `json:"channels"`
	CmdMemWords int `json:"cmd_mem_words"`
	OpsPerPoll  int `json:"ops_per_poll"`
}

// Validate fills in defaults and ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Channels == 0 {
		cfg.Channels = DefaultChannels
	}
	if cfg.CmdMemWords == 0 {
		cfg.CmdMemWords = DefaultCmdMemWords
	}
	if cfg.OpsPerPoll == 0 {
		cfg.OpsPerPoll = DefaultOpsPerPoll
	}
	if cfg.Channels < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("channels must be positive, got %d", cfg.Channels))
	}
	if cfg.CmdMemWords < 2 {
		return goutils.NewConfigValidationError(path, errors.Errorf("cmd_mem_words must hold one command, got %d", cfg.CmdMemWords))
	}
	if cfg.OpsPerPoll < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("ops_per_poll must be positive, got %d", cfg.OpsPerPoll))
	}
	return nil
}

type channel struct {
	ops     []schan.Command
	started bool
	done    uint32
	resp    []uint32
	err     error
}

// Backend is a fifo.Backend executing each queued op as one exchange.
type Backend struct {
	unit      int
	cfg       Config
	exchanger pio.Exchanger
	logger    logging.Logger

	mu       sync.Mutex
	maxPolls uint32
	flags    fifo.InitFlags
	channels []channel

	polls atomic.Uint32
}

// NewBackend returns a fake backend for unit. cfg must be validated.
func NewBackend(unit int, cfg *Config, exchanger pio.Exchanger, logger logging.Logger) *Backend {
	return &Backend{
		unit:      unit,
		cfg:       *cfg,
		exchanger: exchanger,
		logger:    logger,
		maxPolls:  fifo.DefaultMaxPolls,
		channels:  make([]channel, cfg.Channels),
	}
}

// Info implements fifo.Backend.
func (b *Backend) Info(ctx context.Context) (fifo.Info, error) {
	return fifo.Info{Channels: b.cfg.Channels, CmdMemWords: b.cfg.CmdMemWords}, nil
}

// Init implements fifo.Backend.
func (b *Backend) Init(ctx context.Context, maxPolls uint32, flags fifo.InitFlags) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if maxPolls == 0 {
		maxPolls = fifo.DefaultMaxPolls
	}
	b.maxPolls = maxPolls
	b.flags = flags
	for i := range b.channels {
		b.channels[i] = channel{}
	}
	return nil
}

// SendOps implements fifo.Backend.
func (b *Backend) SendOps(ctx context.Context, ch int, numOps uint32, req []uint32, flags fifo.OpFlags) error {
	ops, err := schan.ParseOps(req, numOps)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[ch] = channel{ops: ops, started: flags&fifo.OpSetStart != 0}
	return nil
}

// SetStart implements fifo.Backend. Starting a channel reruns its command memory from the first
// op.
func (b *Backend) SetStart(ctx context.Context, ch int, start bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &b.channels[ch]
	if start {
		c.done, c.resp, c.err = 0, nil, nil
	}
	c.started = start
	return nil
}

// Status implements fifo.Backend.
func (b *Backend) Status(ctx context.Context, ch int, numOps uint32, flags fifo.OpFlags) (uint32, []uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &b.channels[ch]

	polls := uint32(1)
	if flags&fifo.OpWaitComplete != 0 {
		polls = b.maxPolls
	}
	for i := uint32(0); i < polls; i++ {
		b.polls.Inc()
		b.step(ctx, c)
		if c.err != nil || c.done >= numOps {
			break
		}
	}
	if c.err != nil {
		return c.done, nil, c.err
	}
	if flags&fifo.OpWaitComplete != 0 && c.done < numOps {
		return c.done, nil, utils.NewTimeoutError("fifo status", polls)
	}
	if c.done >= numOps && flags&fifo.OpClearStart != 0 {
		c.started = false
	}
	return c.done, append([]uint32(nil), c.resp...), nil
}

// Polls returns how many status polls were made in total.
func (b *Backend) Polls() uint32 {
	return b.polls.Load()
}

// step runs up to OpsPerPoll queued ops of a started channel.
func (b *Backend) step(ctx context.Context, c *channel) {
	if !c.started {
		return
	}
	for n := 0; n < b.cfg.OpsPerPoll && int(c.done) < len(c.ops); n++ {
		resp, err := b.execute(ctx, c.ops[c.done])
		if err != nil {
			if b.flags&fifo.InitIgnoreSERAbort == 0 {
				c.err = utils.NewFailError("unit %d: op %d: %v", b.unit, c.done, err)
				c.started = false
				return
			}
			b.logger.CDebugw(ctx, "ignoring failed fifo op", "op", c.done, "error", err)
			resp = []uint32{schan.Header{Err: true}.Pack()}
		}
		c.resp = append(c.resp, resp...)
		c.done++
	}
}

func (b *Backend) execute(ctx context.Context, cmd schan.Command) ([]uint32, error) {
	wsize := cmd.WordCount()
	msg, err := schan.EncodeCommand(cmd.Header.Opcode, cmd.Header.AccType, cmd.Header.DstBlk, cmd.Address, wsize, cmd.Data)
	if err != nil {
		return nil, err
	}
	writeWords, readWords := schan.CommandWords(cmd.Header.Opcode, wsize)
	if err := b.exchanger.Op(ctx, b.unit, msg, writeWords, readWords); err != nil {
		return nil, err
	}
	return append([]uint32(nil), msg.Words(readWords)...), nil
}
