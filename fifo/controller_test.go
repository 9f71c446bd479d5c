package fifo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/switchbus/fifo"
	"go.viam.com/switchbus/fifo/fake"
	"go.viam.com/switchbus/logging"
	"go.viam.com/switchbus/schan"
	schanfake "go.viam.com/switchbus/schan/fake"
	"go.viam.com/switchbus/testutils/inject"
	"go.viam.com/switchbus/utils"
)

func countingBackend(channels, words int) *inject.Backend {
	return &inject.Backend{
		InfoFunc: func(ctx context.Context) (fifo.Info, error) {
			return fifo.Info{Channels: channels, CmdMemWords: words}, nil
		},
		InitFunc: func(ctx context.Context, maxPolls uint32, flags fifo.InitFlags) error {
			return nil
		},
		SendOpsFunc: func(ctx context.Context, ch int, numOps uint32, req []uint32, flags fifo.OpFlags) error {
			return nil
		},
		SetStartFunc: func(ctx context.Context, ch int, start bool) error {
			return nil
		},
		StatusFunc: func(ctx context.Context, ch int, numOps uint32, flags fifo.OpFlags) (uint32, []uint32, error) {
			return numOps, nil, nil
		},
	}
}

func TestControllerParamChecks(t *testing.T) {
	ctx := context.Background()
	for _, channels := range []int{1, 2, 4, 16} {
		backend := countingBackend(channels, 8)
		reg := fifo.NewRegistry(1, logging.NewTestLogger(t))
		test.That(t, reg.Attach(ctx, 0, backend), test.ShouldBeNil)
		ctrl, err := reg.Controller(0)
		test.That(t, err, test.ShouldBeNil)

		req := []uint32{1, 2}
		for _, ch := range []int{-1, channels, channels + 1} {
			err := ctrl.SendOps(ctx, ch, 1, req, 0)
			test.That(t, errors.Is(err, utils.ErrParam), test.ShouldBeTrue)
			err = ctrl.SetStart(ctx, ch, true)
			test.That(t, errors.Is(err, utils.ErrParam), test.ShouldBeTrue)
			_, _, err = ctrl.Status(ctx, ch, 1, 0)
			test.That(t, errors.Is(err, utils.ErrParam), test.ShouldBeTrue)
		}

		last := channels - 1
		err = ctrl.SendOps(ctx, last, 0, req, 0)
		test.That(t, errors.Is(err, utils.ErrParam), test.ShouldBeTrue)
		err = ctrl.SendOps(ctx, last, 1, nil, 0)
		test.That(t, errors.Is(err, utils.ErrParam), test.ShouldBeTrue)
		err = ctrl.SendOps(ctx, last, 1, []uint32{}, 0)
		test.That(t, errors.Is(err, utils.ErrParam), test.ShouldBeTrue)
		err = ctrl.SendOps(ctx, last, 1, make([]uint32, 9), 0)
		test.That(t, errors.Is(err, utils.ErrParam), test.ShouldBeTrue)
		err = ctrl.SendOps(ctx, last, 2, req, 0)
		test.That(t, errors.Is(err, utils.ErrParam), test.ShouldBeTrue)
		err = ctrl.SendOps(ctx, last, 0xffffffff, req, 0)
		test.That(t, errors.Is(err, utils.ErrParam), test.ShouldBeTrue)
		_, _, err = ctrl.Status(ctx, last, 0, 0)
		test.That(t, errors.Is(err, utils.ErrParam), test.ShouldBeTrue)

		// The backend never saw an invalid call.
		test.That(t, backend.Calls, test.ShouldEqual, 0)

		test.That(t, ctrl.SendOps(ctx, last, 1, make([]uint32, 8), 0), test.ShouldBeNil)
		test.That(t, ctrl.SendOps(ctx, 0, 1, req, 0), test.ShouldBeNil)
		test.That(t, ctrl.SetStart(ctx, 0, true), test.ShouldBeNil)
		done, _, err := ctrl.Status(ctx, 0, 1, 0)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, done, test.ShouldEqual, uint32(1))
		test.That(t, backend.Calls, test.ShouldEqual, 4)
	}
}

func TestControllerUnavailable(t *testing.T) {
	ctx := context.Background()
	reg := fifo.NewRegistry(2, logging.NewTestLogger(t))

	// Attached without a backend.
	test.That(t, reg.Attach(ctx, 0, nil), test.ShouldBeNil)
	test.That(t, reg.Units(), test.ShouldResemble, []int{0})
	ctrl, err := reg.Controller(0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ctrl.Active(), test.ShouldBeTrue)

	checkUnavailable := func(ctrl *fifo.Controller) {
		t.Helper()
		_, err := ctrl.Info(ctx)
		test.That(t, errors.Is(err, utils.ErrUnavailable), test.ShouldBeTrue)
		test.That(t, errors.Is(ctrl.Init(ctx, 10, 0), utils.ErrUnavailable), test.ShouldBeTrue)
		// Unavailable wins over parameter errors.
		test.That(t, errors.Is(ctrl.SendOps(ctx, -1, 0, nil, 0), utils.ErrUnavailable), test.ShouldBeTrue)
		test.That(t, errors.Is(ctrl.SetStart(ctx, 0, true), utils.ErrUnavailable), test.ShouldBeTrue)
		_, _, err = ctrl.Status(ctx, 0, 1, 0)
		test.That(t, errors.Is(err, utils.ErrUnavailable), test.ShouldBeTrue)
	}
	checkUnavailable(ctrl)

	// Detached.
	backend := countingBackend(4, 64)
	test.That(t, reg.Attach(ctx, 1, backend), test.ShouldBeNil)
	ctrl, err = reg.Controller(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reg.Detach(1), test.ShouldBeNil)
	checkUnavailable(ctrl)
	test.That(t, backend.Calls, test.ShouldEqual, 0)
}

func TestControllerInfo(t *testing.T) {
	ctx := context.Background()
	reg := fifo.NewRegistry(1, logging.NewTestLogger(t))
	test.That(t, reg.Attach(ctx, 0, countingBackend(2, 352)), test.ShouldBeNil)

	info, err := reg.InfoGet(ctx, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info, test.ShouldResemble, fifo.Info{Channels: 2, CmdMemWords: 352})
}

func newFakeController(t *testing.T, cfg *fake.Config) (*fifo.Controller, *fake.Backend, *schanfake.Bus) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	test.That(t, cfg.Validate("attributes"), test.ShouldBeNil)
	bus := schanfake.NewBus(logger)
	backend := fake.NewBackend(0, cfg, bus, logger)
	reg := fifo.NewRegistry(1, logger, fifo.WithPollInterval(time.Microsecond))
	test.That(t, reg.Attach(context.Background(), 0, backend), test.ShouldBeNil)
	ctrl, err := reg.Controller(0)
	test.That(t, err, test.ShouldBeNil)
	return ctrl, backend, bus
}

func TestControllerRun(t *testing.T) {
	ctx := context.Background()
	ctrl, _, _ := newFakeController(t, &fake.Config{OpsPerPoll: 1})
	test.That(t, ctrl.Init(ctx, 10, 0), test.ShouldBeNil)

	var req []uint32
	var err error
	req, err = schan.AppendOp(req, schan.WriteMemoryCmd, 0, 1, 0x10, 2, []uint32{0xa, 0xb})
	test.That(t, err, test.ShouldBeNil)
	req, err = schan.AppendOp(req, schan.ReadMemoryCmd, 0, 1, 0x10, 2, nil)
	test.That(t, err, test.ShouldBeNil)

	resp, err := ctrl.Run(ctx, 2, 2, req)
	test.That(t, err, test.ShouldBeNil)
	// One ack word for the write, then the read response.
	test.That(t, len(resp), test.ShouldEqual, 4)
	test.That(t, schan.ParseHeader(resp[0]).Opcode, test.ShouldEqual, schan.WriteMemoryAck)
	test.That(t, schan.ParseHeader(resp[1]).Opcode, test.ShouldEqual, schan.ReadMemoryAck)
	test.That(t, resp[2:], test.ShouldResemble, []uint32{0xa, 0xb})
}

func TestControllerWaitDoneTimeout(t *testing.T) {
	ctx := context.Background()
	ctrl, backend, _ := newFakeController(t, &fake.Config{})
	test.That(t, ctrl.Init(ctx, 3, 0), test.ShouldBeNil)

	req, err := schan.AppendOp(nil, schan.ReadMemoryCmd, 0, 1, 0x10, 1, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ctrl.SendOps(ctx, 0, 1, req, 0), test.ShouldBeNil)

	// Never started, so nothing completes.
	_, err = ctrl.WaitDone(ctx, 0, 1)
	test.That(t, errors.Is(err, utils.ErrTimeout), test.ShouldBeTrue)
	test.That(t, backend.Polls(), test.ShouldEqual, uint32(3))

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = ctrl.WaitDone(cancelCtx, 0, 1)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestControllerRunFailure(t *testing.T) {
	ctx := context.Background()
	logger, observed := logging.NewObservedTestLogger(t)
	stopped := false
	backend := countingBackend(1, 8)
	backend.SetStartFunc = func(ctx context.Context, ch int, start bool) error {
		if !start {
			stopped = true
		}
		return nil
	}
	backend.StatusFunc = func(ctx context.Context, ch int, numOps uint32, flags fifo.OpFlags) (uint32, []uint32, error) {
		return 0, nil, utils.NewFailError("channel error")
	}
	reg := fifo.NewRegistry(1, logger)
	test.That(t, reg.Attach(ctx, 0, backend), test.ShouldBeNil)
	ctrl, err := reg.Controller(0)
	test.That(t, err, test.ShouldBeNil)

	_, err = ctrl.Run(ctx, 0, 1, []uint32{1, 2})
	test.That(t, errors.Is(err, utils.ErrFail), test.ShouldBeTrue)
	test.That(t, stopped, test.ShouldBeTrue)
	test.That(t, observed.FilterMessage("fifo batch failed").Len(), test.ShouldEqual, 1)
}
