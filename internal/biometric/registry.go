package biometric

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a device adapter for one hardware kind.
type Constructor func() (Device, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register makes a device kind available to Open. Platform adapter
// packages call this from init.
func Register(kind string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = ctor
}

// Open constructs the adapter registered for the given kind.
func Open(kind string) (Device, error) {
	registryMu.RLock()
	ctor, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no fingerprint device registered for kind %q (available: %v)", kind, Kinds())
	}
	return ctor()
}

// Kinds lists the registered device kinds in stable order.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
