package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.viam.com/test"

	"go.viam.com/switchbus/utils"
)

func TestResult(t *testing.T) {
	for _, tc := range []struct {
		err    error
		result string
	}{
		{nil, ResultOK},
		{utils.NewParamError("x"), ResultParam},
		{utils.NewUnavailableError(0, "x"), ResultUnavailable},
		{utils.ErrProtocol, ResultProtocol},
		{utils.NewTimeoutError("x", 1), ResultTimeout},
		{utils.NewFailError("nak"), ResultFail},
		{errors.New("link down"), ResultTransport},
	} {
		test.That(t, Result(tc.err), test.ShouldEqual, tc.result)
	}
}

func TestCollector(t *testing.T) {
	clk := clock.NewMock()
	c := NewCollector(clk)
	reg := prometheus.NewPedanticRegistry()
	test.That(t, c.Register(reg), test.ShouldBeNil)
	test.That(t, c.Register(reg), test.ShouldNotBeNil)

	start := c.Now()
	clk.Add(time.Millisecond)
	c.PIODone("mem_read", start, nil)
	c.PIODone("mem_read", start, utils.NewParamError("too big"))
	c.PIODone("mem_write", start, errors.New("link down"))

	test.That(t, testutil.ToFloat64(c.PIOTransactionsTotal.WithLabelValues("mem_read", ResultOK)), test.ShouldEqual, 1.0)
	test.That(t, testutil.ToFloat64(c.PIOTransactionsTotal.WithLabelValues("mem_read", ResultParam)), test.ShouldEqual, 1.0)
	test.That(t, testutil.ToFloat64(c.PIOTransactionsTotal.WithLabelValues("mem_write", ResultTransport)), test.ShouldEqual, 1.0)
	// Parameter errors never reach the bus so only two latencies are observed.
	test.That(t, testutil.CollectAndCount(c.PIOTransactionTime), test.ShouldEqual, 2)

	c.FIFOCall("ops_send", nil)
	c.FIFOCall("ops_send", utils.NewUnavailableError(1, "detached"))
	test.That(t, testutil.ToFloat64(c.FIFOCallsTotal.WithLabelValues("ops_send", ResultUnavailable)), test.ShouldEqual, 1.0)
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	test.That(t, c.Now().IsZero(), test.ShouldBeTrue)
	test.That(t, c.Register(prometheus.NewRegistry()), test.ShouldBeNil)
	c.PIODone("mem_read", time.Time{}, nil)
	c.FIFOCall("init", nil)
}
