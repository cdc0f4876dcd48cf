package device

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"
)

var (
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrUnknownDriver     = errors.New("unknown device driver")
)

// Device is an exclusive, blocking frame source. Read returns ready=false with
// a nil error when the device has nothing to hand out yet; a non-nil error
// means the device is unusable.
type Device interface {
	Read() (frame *image.NRGBA, ready bool, err error)
	Close() error
}

type Config struct {
	Index  int
	URL    string
	Width  int
	Height int
}

// Driver opens a new handle on the device described by cfg.
type Driver func(cfg Config) (Device, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

func Register(name string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if d == nil {
		panic("device: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("device: Register called twice for driver " + name)
	}
	drivers[name] = d
}

func Lookup(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()

	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownDriver, name, driverNames())
	}
	return d, nil
}

func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	return driverNames()
}

func driverNames() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
