// Package simhook defines the simulation hook that replaces the hardware path of the PIO engine
// with a software model, and provides an in-memory model.
package simhook

import (
	"context"
	"sync"

	"go.viam.com/switchbus/logging"
)

// A Hook intercepts PIO accesses. For memory traffic adext carries addr.SimMemTag. The access
// size in bytes is 4*len(data).
type Hook interface {
	Read(ctx context.Context, unit int, adext, address uint32, data []uint32) error
	Write(ctx context.Context, unit int, adext, address uint32, data []uint32) error
}

type location struct {
	unit    int
	adext   uint32
	address uint32
}

// Model is a Hook storing every written word in memory. A read returns what the last write to the
// same location stored, padded with zeros; never written locations read as zero.
type Model struct {
	mu     sync.Mutex
	words  map[location][]uint32
	logger logging.Logger

	reads  int
	writes int
}

// NewModel returns an empty model.
func NewModel(logger logging.Logger) *Model {
	return &Model{words: map[location][]uint32{}, logger: logger}
}

// Read fills data from the model.
func (m *Model) Read(ctx context.Context, unit int, adext, address uint32, data []uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	stored := m.words[location{unit, adext, address}]
	n := copy(data, stored)
	for i := n; i < len(data); i++ {
		data[i] = 0
	}
	m.logger.CDebugw(ctx, "model read", "unit", unit, "adext", adext, "address", address, "words", len(data))
	return nil
}

// Write stores a copy of data in the model.
func (m *Model) Write(ctx context.Context, unit int, adext, address uint32, data []uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.words[location{unit, adext, address}] = append([]uint32(nil), data...)
	m.logger.CDebugw(ctx, "model write", "unit", unit, "adext", adext, "address", address, "words", len(data))
	return nil
}

// Counts returns how many reads and writes reached the model.
func (m *Model) Counts() (reads, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads, m.writes
}

// Reset forgets every stored word.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.words = map[location][]uint32{}
	m.reads, m.writes = 0, 0
}
