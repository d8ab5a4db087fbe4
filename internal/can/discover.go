package can

import (
	"errors"
	"fmt"

	"github.com/vishvananda/netlink"
)

// ErrNoSecondary is returned by DiscoverSecondary when fewer than two CAN
// interfaces exist.
var ErrNoSecondary = errors.New("can: no second CAN interface found")

// linkList is swapped out in tests.
var linkList = netlink.LinkList

// Interfaces lists the CAN interfaces present on the host, in kernel order.
func Interfaces() ([]string, error) {
	links, err := linkList()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	return canNames(links), nil
}

// canNames keeps the names of CAN links. Virtual CAN counts so a vcan pair
// can stand in for the hardware.
func canNames(links []netlink.Link) []string {
	var names []string
	for _, l := range links {
		switch l.Type() {
		case "can", "vcan":
			names = append(names, l.Attrs().Name)
		}
	}
	return names
}

// DiscoverSecondary picks the first CAN interface that is not primary.
func DiscoverSecondary(primary string) (string, error) {
	names, err := Interfaces()
	if err != nil {
		return "", err
	}
	return pickSecondary(names, primary)
}

func pickSecondary(names []string, primary string) (string, error) {
	if len(names) < 2 {
		return "", ErrNoSecondary
	}
	for _, n := range names {
		if n != primary {
			return n, nil
		}
	}
	return "", ErrNoSecondary
}
