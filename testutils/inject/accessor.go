package inject

import "go.viam.com/switchbus/hw"

// Accessor is an injected register accessor.
type Accessor struct {
	hw.Accessor
	Read32Func  func(offset uint32) (uint32, error)
	Write32Func func(offset, value uint32) error
}

// Read32 calls the injected Read32 or the real version.
func (a *Accessor) Read32(offset uint32) (uint32, error) {
	if a.Read32Func == nil {
		return a.Accessor.Read32(offset)
	}
	return a.Read32Func(offset)
}

// Write32 calls the injected Write32 or the real version.
func (a *Accessor) Write32(offset, value uint32) error {
	if a.Write32Func == nil {
		return a.Accessor.Write32(offset, value)
	}
	return a.Write32Func(offset, value)
}
