//go:build !linux

package can

import "errors"

// Open returns an error on non-Linux platforms.
func Open(iface string) (Bus, error) {
	return nil, errors.New("can: socketcan not supported on this platform (requires Linux)")
}
