// Package metrics exports prometheus counters for bus transactions and FIFO calls.
package metrics

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"go.viam.com/switchbus/utils"
)

// Result labels.
const (
	ResultOK          = "ok"
	ResultParam       = "param"
	ResultUnavailable = "unavailable"
	ResultProtocol    = "protocol"
	ResultTimeout     = "timeout"
	ResultFail        = "fail"
	ResultTransport   = "transport"
)

// A Collector counts PIO transactions and FIFO calls. A nil *Collector is valid and records
// nothing.
type Collector struct {
	clock clock.Clock

	PIOTransactionsTotal *prometheus.CounterVec
	PIOTransactionTime   *prometheus.HistogramVec
	FIFOCallsTotal       *prometheus.CounterVec
}

// NewCollector returns a collector timing transactions with clk. A nil clk uses the wall clock.
func NewCollector(clk clock.Clock) *Collector {
	if clk == nil {
		clk = clock.New()
	}
	return &Collector{
		clock: clk,
		PIOTransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchbus_pio_transactions_total",
				Help: "Number of single S-Channel transactions by operation and result",
			},
			[]string{"op", "result"},
		),
		PIOTransactionTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchbus_pio_transaction_seconds",
				Help:    "Latency of single S-Channel transactions that reached the bus",
				Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
			},
			[]string{"op"},
		),
		FIFOCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchbus_fifo_calls_total",
				Help: "Number of FIFO controller calls by call and result",
			},
			[]string{"call", "result"},
		),
	}
}

// Register registers every metric of the collector with reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	if c == nil {
		return nil
	}
	for _, col := range []prometheus.Collector{c.PIOTransactionsTotal, c.PIOTransactionTime, c.FIFOCallsTotal} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Now returns the collector's current time, or the zero time for a nil collector.
func (c *Collector) Now() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.clock.Now()
}

// PIODone records one PIO transaction started at start. Latency is only observed for
// transactions that reached the bus.
func (c *Collector) PIODone(op string, start time.Time, err error) {
	if c == nil {
		return
	}
	result := Result(err)
	c.PIOTransactionsTotal.WithLabelValues(op, result).Inc()
	if result == ResultOK || result == ResultProtocol || result == ResultTransport || result == ResultFail {
		c.PIOTransactionTime.WithLabelValues(op).Observe(c.clock.Since(start).Seconds())
	}
}

// FIFOCall records one FIFO controller call.
func (c *Collector) FIFOCall(call string, err error) {
	if c == nil {
		return
	}
	c.FIFOCallsTotal.WithLabelValues(call, Result(err)).Inc()
}

// Result maps an error onto its result label. Errors outside the switchbus taxonomy come from an
// exchanger and are labeled as transport failures.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, utils.ErrParam):
		return ResultParam
	case errors.Is(err, utils.ErrUnavailable):
		return ResultUnavailable
	case errors.Is(err, utils.ErrProtocol):
		return ResultProtocol
	case errors.Is(err, utils.ErrTimeout):
		return ResultTimeout
	case errors.Is(err, utils.ErrFail):
		return ResultFail
	default:
		return ResultTransport
	}
}
