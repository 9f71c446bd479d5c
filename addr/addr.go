// Package addr decodes address extensions into S-Channel routing fields and decides which
// addresses bypass the bus.
package addr

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// SimMemTag is OR-ed into the address extension handed to a simulation hook for memory traffic
// so a single model can tell memory and register accesses apart.
const SimMemTag uint32 = 1 << 31

// A Decoder is the address decoding service used by the PIO engine.
type Decoder interface {
	// AccType returns the S-Channel access type for an address extension.
	AccType(adext uint32) uint32
	// Block returns the S-Channel destination block for an address extension.
	Block(adext uint32) uint32
	// IsBypassed reports whether an access needs no bus cycle at all.
	IsBypassed(unit int, adext, address uint32) bool
}

// Range is an inclusive address range of one destination block.
type Range struct {
	Block uint32 `json:"block"`
	Min   uint32 `json:"min"`
	Max   uint32 `json:"max"`
}

// Validate ensures the range is well formed.
func (r Range) Validate(path string) error {
	if r.Min > r.Max {
		return errors.Errorf("%s: min 0x%x is above max 0x%x", path, r.Min, r.Max)
	}
	if r.Block > blockMask {
		return errors.Errorf("%s: block %d does not fit in 7 bits", path, r.Block)
	}
	return nil
}

// Contains reports whether the block and address fall inside the range.
func (r Range) Contains(block, address uint32) bool {
	return block == r.Block && address >= r.Min && address <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("block %d [0x%08x, 0x%08x]", r.Block, r.Min, r.Max)
}

const (
	blockMask    = 0x7f
	accTypeShift = 8
	accTypeMask  = 0x1f
)

// CMICx is the address decoder of CMICx generation devices: the destination block sits in the
// low bits of the address extension and the access type in bits 12:8.
type CMICx struct {
	mu     sync.RWMutex
	bypass map[int][]Range
}

// NewCMICx returns a CMICx decoder with no bypassed ranges.
func NewCMICx() *CMICx {
	return &CMICx{bypass: map[int][]Range{}}
}

// AccType returns the access type for adext.
func (d *CMICx) AccType(adext uint32) uint32 {
	return (adext >> accTypeShift) & accTypeMask
}

// Block returns the destination block for adext.
func (d *CMICx) Block(adext uint32) uint32 {
	return adext & blockMask
}

// Extension builds the address extension for a block and access type.
func Extension(block, acctype uint32) uint32 {
	return (acctype&accTypeMask)<<accTypeShift | block&blockMask
}

// AddBypass marks a range of a unit as bypassed.
func (d *CMICx) AddBypass(unit int, r Range) error {
	if err := r.Validate("bypass"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bypass[unit] = append(d.bypass[unit], r)
	return nil
}

// ClearBypass removes every bypassed range of a unit.
func (d *CMICx) ClearBypass(unit int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bypass, unit)
}

// IsBypassed reports whether the access falls in a bypassed range of the unit.
func (d *CMICx) IsBypassed(unit int, adext, address uint32) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	block := d.Block(adext)
	for _, r := range d.bypass[unit] {
		if r.Contains(block, address) {
			return true
		}
	}
	return false
}
