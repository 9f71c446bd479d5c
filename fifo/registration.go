package fifo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/switchbus/logging"
	"go.viam.com/switchbus/utils"
)

// Well known dependency names handed to backend constructors.
const (
	// DepExchanger names a pio.Exchanger used to run queued ops in software.
	DepExchanger = "exchanger"
	// DepAccessor names the hw.Accessor of the unit's register space.
	DepAccessor = "accessor"
)

type (
	// Dependencies are the collaborators available to a backend constructor, by name.
	Dependencies map[string]interface{}

	// A BackendConfig is what a backend is constructed from.
	BackendConfig struct {
		Unit       int
		Model      string
		Attributes utils.AttributeMap
	}

	// A Create creates a backend for one unit.
	Create func(ctx context.Context, deps Dependencies, conf BackendConfig, logger logging.Logger) (Backend, error)

	// A Registration stores construction info for a backend model.
	Registration struct {
		Constructor Create
	}
)

// FromDependencies returns the named dependency as a T.
func FromDependencies[T any](deps Dependencies, name string) (T, error) {
	var zero T
	dep, ok := deps[name]
	if !ok {
		return zero, errors.Errorf("dependency %q not found", name)
	}
	typed, ok := dep.(T)
	if !ok {
		return zero, errors.Wrapf(utils.NewUnimplementedInterfaceError[T](dep), "dependency %q", name)
	}
	return typed, nil
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Registration{}
)

// RegisterBackend registers a backend model. Registering the same model twice panics.
func RegisterBackend(model string, reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, old := registry[model]; old {
		panic(fmt.Sprintf("trying to register two fifo backends with same model %s", model))
	}
	if reg.Constructor == nil {
		panic(fmt.Sprintf("cannot register a nil constructor for fifo backend %s", model))
	}
	registry[model] = reg
}

// DeregisterBackend removes a model. It is intended for tests only.
func DeregisterBackend(model string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, model)
}

// LookupBackend looks up a registered backend model.
func LookupBackend(model string) (Registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[model]
	return reg, ok
}

// Models returns every registered model, sorted.
func Models() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	models := lo.Keys(registry)
	sort.Strings(models)
	return models
}

// NewBackend constructs a backend of a registered model.
func NewBackend(ctx context.Context, deps Dependencies, conf BackendConfig, logger logging.Logger) (Backend, error) {
	reg, ok := LookupBackend(conf.Model)
	if !ok {
		return nil, errors.Errorf("unknown fifo backend model %q, have %v", conf.Model, Models())
	}
	backend, err := reg.Constructor(ctx, deps, conf, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot create %s backend for unit %d", conf.Model, conf.Unit)
	}
	return backend, nil
}
