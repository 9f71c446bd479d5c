package cmicx_test

import (
	"context"
	"errors"
	"testing"

	"go.viam.com/test"

	"go.viam.com/switchbus/addr"
	"go.viam.com/switchbus/cmicx"
	"go.viam.com/switchbus/cmicx/sim"
	"go.viam.com/switchbus/fifo"
	"go.viam.com/switchbus/logging"
	"go.viam.com/switchbus/pio"
	"go.viam.com/switchbus/schan"
	"go.viam.com/switchbus/schan/fake"
	"go.viam.com/switchbus/utils"
)

func batch(t *testing.T) []uint32 {
	t.Helper()
	var req []uint32
	var err error
	req, err = schan.AppendOp(req, schan.WriteMemoryCmd, 0, 4, 0x100, 2, []uint32{0xa, 0xb})
	test.That(t, err, test.ShouldBeNil)
	req, err = schan.AppendOp(req, schan.ReadMemoryCmd, 0, 4, 0x100, 2, nil)
	test.That(t, err, test.ShouldBeNil)
	return req
}

func TestFIFOInfoAndInit(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	chip := sim.NewChip(0, fake.NewBus(logger), logger)
	backend := cmicx.NewFIFO(0, chip.Registers(), logger)

	info, err := backend.Info(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info, test.ShouldResemble, fifo.Info{Channels: 2, CmdMemWords: 352})

	test.That(t, backend.Init(ctx, 5, fifo.InitIgnoreSERAbort|fifo.InitCCMDMAWrite), test.ShouldBeNil)
	for ch := 0; ch < cmicx.FifoChannels; ch++ {
		test.That(t, chip.Registers().Get(cmicx.FifoCtrl(ch)), test.ShouldEqual, cmicx.FifoCtrlIgnoreSER|cmicx.FifoCtrlCCMDMA)
	}
}

func TestFIFOBatch(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	chip := sim.NewChip(0, fake.NewBus(logger), logger)
	backend := cmicx.NewFIFO(0, chip.Registers(), logger)
	test.That(t, backend.Init(ctx, 10, 0), test.ShouldBeNil)

	req := batch(t)
	test.That(t, backend.SendOps(ctx, 1, 2, req, fifo.OpSetStart), test.ShouldBeNil)
	test.That(t, chip.Registers().Get(cmicx.FifoNumOps(1)), test.ShouldEqual, uint32(2))

	done, resp, err := backend.Status(ctx, 1, 2, fifo.OpWaitComplete|fifo.OpClearStart)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, done, test.ShouldEqual, uint32(2))
	// One ack word for the write, ack plus two data words for the read.
	test.That(t, resp, test.ShouldHaveLength, 4)
	test.That(t, resp[2:], test.ShouldResemble, []uint32{0xa, 0xb})
	writeAck, _ := schan.WriteMemoryCmd.Ack()
	test.That(t, schan.ParseHeader(resp[0]).Opcode, test.ShouldEqual, writeAck)
	test.That(t, chip.Registers().Get(cmicx.FifoCtrl(1))&cmicx.FifoCtrlStart, test.ShouldEqual, uint32(0))
}

func TestFIFOStatusErrors(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	t.Run("stalled", func(t *testing.T) {
		chip := sim.NewChip(0, fake.NewBus(logger), logger)
		backend := cmicx.NewFIFO(0, chip.Registers(), logger)
		test.That(t, backend.Init(ctx, 3, 0), test.ShouldBeNil)
		chip.Stall(true)

		test.That(t, backend.SendOps(ctx, 0, 2, batch(t), fifo.OpSetStart), test.ShouldBeNil)
		done, resp, err := backend.Status(ctx, 0, 2, 0)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, done, test.ShouldEqual, uint32(0))
		test.That(t, resp, test.ShouldBeEmpty)

		_, _, err = backend.Status(ctx, 0, 2, fifo.OpWaitComplete)
		test.That(t, errors.Is(err, utils.ErrTimeout), test.ShouldBeTrue)
	})

	t.Run("op failure", func(t *testing.T) {
		chip := sim.NewChip(0, fake.NewBus(logger), logger)
		chip.FailFIFOOp(1)
		backend := cmicx.NewFIFO(0, chip.Registers(), logger)
		test.That(t, backend.Init(ctx, 3, 0), test.ShouldBeNil)

		test.That(t, backend.SendOps(ctx, 0, 2, batch(t), fifo.OpSetStart), test.ShouldBeNil)
		done, _, err := backend.Status(ctx, 0, 2, fifo.OpWaitComplete)
		test.That(t, errors.Is(err, utils.ErrFail), test.ShouldBeTrue)
		test.That(t, done, test.ShouldEqual, uint32(1))
	})

	t.Run("ignore soft errors", func(t *testing.T) {
		chip := sim.NewChip(0, fake.NewBus(logger), logger)
		chip.FailFIFOOp(1)
		backend := cmicx.NewFIFO(0, chip.Registers(), logger)
		test.That(t, backend.Init(ctx, 3, fifo.InitIgnoreSERAbort), test.ShouldBeNil)

		test.That(t, backend.SendOps(ctx, 0, 2, batch(t), fifo.OpSetStart), test.ShouldBeNil)
		done, resp, err := backend.Status(ctx, 0, 2, fifo.OpWaitComplete)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, done, test.ShouldEqual, uint32(2))
		test.That(t, resp, test.ShouldHaveLength, 4)
		test.That(t, schan.ParseHeader(resp[1]).Err, test.ShouldBeTrue)
	})

	t.Run("malformed request", func(t *testing.T) {
		chip := sim.NewChip(0, fake.NewBus(logger), logger)
		backend := cmicx.NewFIFO(0, chip.Registers(), logger)
		err := backend.SendOps(ctx, 0, 3, batch(t), 0)
		test.That(t, errors.Is(err, utils.ErrParam), test.ShouldBeTrue)
	})
}

func TestFIFOModel(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	bus := fake.NewBus(logger)
	chip := sim.NewChip(2, bus, logger)

	reg := fifo.NewRegistry(4, logger)
	defer func() {
		test.That(t, reg.Close(), test.ShouldBeNil)
	}()

	err := reg.AttachModel(ctx, 2, cmicx.Model, fifo.Dependencies{}, nil)
	test.That(t, err, test.ShouldNotBeNil)

	// Without an accessor the BAR named in the attributes is mapped.
	attrs := utils.AttributeMap{"bar_address": "0xfe000000", "bar_size": 0x1000}
	err = reg.AttachModel(ctx, 2, cmicx.Model, fifo.Dependencies{}, attrs)
	test.That(t, errors.Is(err, utils.ErrParam), test.ShouldBeTrue)
	attrs = utils.AttributeMap{"bar_address": "nowhere"}
	err = reg.AttachModel(ctx, 2, cmicx.Model, fifo.Dependencies{}, attrs)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bar_address")

	deps := fifo.Dependencies{fifo.DepAccessor: chip.Registers()}
	test.That(t, reg.AttachModel(ctx, 2, cmicx.Model, deps, nil), test.ShouldBeNil)
	test.That(t, reg.Init(ctx, 2, 10, 0), test.ShouldBeNil)

	ctrl, err := reg.Controller(2)
	test.That(t, err, test.ShouldBeNil)
	resp, err := ctrl.Run(ctx, 0, 2, batch(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp[2:], test.ShouldResemble, []uint32{0xa, 0xb})

	// The batch is visible through PIO on the same chip.
	sc := cmicx.NewSChannel(logger)
	test.That(t, sc.AddUnit(2, chip.Registers()), test.ShouldBeNil)
	engine := pio.NewEngine(sc, addr.NewCMICx(), logger)
	got := make([]uint32, 2)
	test.That(t, engine.MemRead(ctx, 2, addr.Extension(4, 0), 0x100, got), test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, []uint32{0xa, 0xb})

	// Too large for the command memory.
	_, err = ctrl.Run(ctx, 0, 1, make([]uint32, cmicx.FifoCmdMemWords+1))
	test.That(t, errors.Is(err, utils.ErrParam), test.ShouldBeTrue)
}

// fullReads fills a command memory with reads of schan.MaxResponseWords words.
func fullReads(t *testing.T, ops int) []uint32 {
	t.Helper()
	var req []uint32
	for i := 0; i < ops; i++ {
		var err error
		req, err = schan.AppendOp(req, schan.ReadMemoryCmd, 0, 4, uint32(0x1000+i), schan.MaxResponseWords, nil)
		test.That(t, err, test.ShouldBeNil)
	}
	return req
}

func TestFIFOChannelsIndependent(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	chip := sim.NewChip(0, fake.NewBus(logger), logger)
	backend := cmicx.NewFIFO(0, chip.Registers(), logger)
	// Zero polls falls back to the default limit.
	test.That(t, backend.Init(ctx, 0, 0), test.ShouldBeNil)

	test.That(t, backend.SendOps(ctx, 1, 2, batch(t), fifo.OpSetStart), test.ShouldBeNil)
	_, before, err := backend.Status(ctx, 1, 2, fifo.OpWaitComplete)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, before, test.ShouldHaveLength, 4)

	req := fullReads(t, cmicx.FifoCmdMemWords/2)
	test.That(t, req, test.ShouldHaveLength, cmicx.FifoCmdMemWords)
	test.That(t, backend.SendOps(ctx, 0, cmicx.FifoCmdMemWords/2, req, fifo.OpSetStart), test.ShouldBeNil)
	done, resp, err := backend.Status(ctx, 0, cmicx.FifoCmdMemWords/2, fifo.OpWaitComplete)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, done, test.ShouldEqual, uint32(cmicx.FifoCmdMemWords/2))
	test.That(t, resp, test.ShouldHaveLength, cmicx.FifoCmdMemWords/2*(1+schan.MaxResponseWords))

	_, after, err := backend.Status(ctx, 1, 2, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, after, test.ShouldResemble, before)
	test.That(t, after[2:], test.ShouldResemble, []uint32{0xa, 0xb})
}

func TestFIFOChannelsInterleaved(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	chip := sim.NewChip(0, fake.NewBus(logger), logger)
	backend := cmicx.NewFIFO(0, chip.Registers(), logger)
	test.That(t, backend.Init(ctx, 10, 0), test.ShouldBeNil)

	var other []uint32
	other, err := schan.AppendOp(other, schan.WriteMemoryCmd, 0, 4, 0x200, 1, []uint32{0xc})
	test.That(t, err, test.ShouldBeNil)
	other, err = schan.AppendOp(other, schan.ReadMemoryCmd, 0, 4, 0x200, 1, nil)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, backend.SendOps(ctx, 0, 2, batch(t), 0), test.ShouldBeNil)
	test.That(t, backend.SendOps(ctx, 1, 2, other, 0), test.ShouldBeNil)
	test.That(t, backend.SetStart(ctx, 0, true), test.ShouldBeNil)
	test.That(t, backend.SetStart(ctx, 1, true), test.ShouldBeNil)

	_, resp0, err := backend.Status(ctx, 0, 2, fifo.OpWaitComplete)
	test.That(t, err, test.ShouldBeNil)
	_, resp1, err := backend.Status(ctx, 1, 2, fifo.OpWaitComplete)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp0[2:], test.ShouldResemble, []uint32{0xa, 0xb})
	test.That(t, resp1, test.ShouldHaveLength, 3)
	test.That(t, resp1[2], test.ShouldEqual, uint32(0xc))
}

func TestFIFORequestLimits(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	chip := sim.NewChip(0, fake.NewBus(logger), logger)
	backend := cmicx.NewFIFO(0, chip.Registers(), logger)
	test.That(t, backend.Init(ctx, 10, 0), test.ShouldBeNil)

	err := backend.SendOps(ctx, 0, 0xffffffff, batch(t), fifo.OpSetStart)
	test.That(t, errors.Is(err, utils.ErrParam), test.ShouldBeTrue)

	// More responses than the response memory holds.
	ops := cmicx.FifoRespMemWords/(1+schan.MaxResponseWords) + 1
	err = backend.SendOps(ctx, 0, uint32(ops), fullReads(t, ops), fifo.OpSetStart)
	test.That(t, errors.Is(err, utils.ErrParam), test.ShouldBeTrue)
	test.That(t, chip.Registers().Get(cmicx.FifoNumOps(0)), test.ShouldEqual, uint32(0))
}
