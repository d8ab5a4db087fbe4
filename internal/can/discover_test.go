package can

import (
	"errors"
	"reflect"
	"testing"

	"github.com/vishvananda/netlink"
)

func TestPickSecondary(t *testing.T) {
	tests := []struct {
		name    string
		names   []string
		primary string
		want    string
		wantErr bool
	}{
		{"none", nil, "can0", "", true},
		{"only primary", []string{"can0"}, "can0", "", true},
		{"two", []string{"can0", "can1"}, "can0", "can1", false},
		{"primary second", []string{"can0", "can1"}, "can1", "can0", false},
		{"three", []string{"can0", "can1", "can2"}, "can1", "can0", false},
		{"primary absent", []string{"can2", "can3"}, "can0", "can2", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickSecondary(tt.names, tt.primary)
			if tt.wantErr {
				if !errors.Is(err, ErrNoSecondary) {
					t.Errorf("got err %v, want ErrNoSecondary", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInterfaces(t *testing.T) {
	old := linkList
	t.Cleanup(func() { linkList = old })

	linkList = func() ([]netlink.Link, error) {
		return []netlink.Link{
			&netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "lo"}},
			&netlink.Can{LinkAttrs: netlink.LinkAttrs{Name: "can0"}},
			&netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth0"}},
			&netlink.GenericLink{LinkAttrs: netlink.LinkAttrs{Name: "vcan0"}, LinkType: "vcan"},
			&netlink.GenericLink{LinkAttrs: netlink.LinkAttrs{Name: "can1"}, LinkType: "can"},
		}, nil
	}
	got, err := Interfaces()
	if err != nil {
		t.Fatalf("Interfaces: %v", err)
	}
	want := []string{"can0", "vcan0", "can1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if sec, err := DiscoverSecondary("can0"); err != nil || sec != "vcan0" {
		t.Errorf("DiscoverSecondary = %q, %v", sec, err)
	}

	linkList = func() ([]netlink.Link, error) {
		return nil, errors.New("netlink socket closed")
	}
	if _, err := DiscoverSecondary("can0"); err == nil {
		t.Error("expected list error")
	}
}
