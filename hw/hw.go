// Package hw gives register level access to a switch chip's CMIC register space, either through a
// memory mapped PCI BAR or through an in-memory register file used by software chip models.
package hw

import (
	"sync"
	stdatomic "sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"periph.io/x/host/v3/pmem"

	"go.viam.com/switchbus/utils"
)

// An Accessor reads and writes 32-bit registers by byte offset.
type Accessor interface {
	Read32(offset uint32) (uint32, error)
	Write32(offset, value uint32) error
}

func checkOffset(offset uint32, size int) error {
	if offset%4 != 0 {
		return utils.NewParamError("unaligned register offset 0x%x", offset)
	}
	if uint64(offset)+4 > uint64(size) {
		return utils.NewParamError("register offset 0x%x beyond window of 0x%x bytes", offset, size)
	}
	return nil
}

// BAR is a memory mapped register window.
type BAR struct {
	view *pmem.View
	regs []uint32
}

// MapBAR maps size bytes of physical memory at phys, typically a PCI BAR of the switch chip.
func MapBAR(phys uint64, size int) (*BAR, error) {
	view, err := pmem.Map(phys, size)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot map BAR at 0x%x", phys)
	}
	return &BAR{view: view, regs: view.Uint32()}, nil
}

// Read32 implements Accessor.
func (b *BAR) Read32(offset uint32) (uint32, error) {
	if err := checkOffset(offset, 4*len(b.regs)); err != nil {
		return 0, err
	}
	return stdatomic.LoadUint32(&b.regs[offset/4]), nil
}

// Write32 implements Accessor.
func (b *BAR) Write32(offset, value uint32) error {
	if err := checkOffset(offset, 4*len(b.regs)); err != nil {
		return err
	}
	stdatomic.StoreUint32(&b.regs[offset/4], value)
	return nil
}

// Close unmaps the window.
func (b *BAR) Close() error {
	b.regs = nil
	return b.view.Close()
}

// A WriteHook is called after a register of a RegisterFile was written.
type WriteHook func(offset, value uint32)

// RegisterFile is an in-memory register window. Hooks registered with OnWrite run after the
// value is stored, outside of any lock, so they may access the file themselves.
type RegisterFile struct {
	size int

	mu    sync.RWMutex
	regs  map[uint32]*atomic.Uint32
	hooks map[uint32][]WriteHook
}

// NewRegisterFile returns a register window of size bytes, all zero.
func NewRegisterFile(size int) *RegisterFile {
	return &RegisterFile{
		size:  size,
		regs:  map[uint32]*atomic.Uint32{},
		hooks: map[uint32][]WriteHook{},
	}
}

func (rf *RegisterFile) reg(offset uint32) *atomic.Uint32 {
	rf.mu.RLock()
	r, ok := rf.regs[offset]
	rf.mu.RUnlock()
	if ok {
		return r
	}
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if r, ok = rf.regs[offset]; !ok {
		r = atomic.NewUint32(0)
		rf.regs[offset] = r
	}
	return r
}

// Read32 implements Accessor.
func (rf *RegisterFile) Read32(offset uint32) (uint32, error) {
	if err := checkOffset(offset, rf.size); err != nil {
		return 0, err
	}
	return rf.reg(offset).Load(), nil
}

// Write32 implements Accessor.
func (rf *RegisterFile) Write32(offset, value uint32) error {
	if err := checkOffset(offset, rf.size); err != nil {
		return err
	}
	rf.reg(offset).Store(value)

	rf.mu.RLock()
	hooks := rf.hooks[offset]
	rf.mu.RUnlock()
	for _, hook := range hooks {
		hook(offset, value)
	}
	return nil
}

// Set stores a value without running hooks. Models use it to update status registers.
func (rf *RegisterFile) Set(offset, value uint32) {
	rf.reg(offset).Store(value)
}

// Get loads a value without bounds checks.
func (rf *RegisterFile) Get(offset uint32) uint32 {
	return rf.reg(offset).Load()
}

// OnWrite registers a hook for writes to one register.
func (rf *RegisterFile) OnWrite(offset uint32, hook WriteHook) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	rf.hooks[offset] = append(rf.hooks[offset], hook)
}
