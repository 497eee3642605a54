package discovery

import (
	"net"
	"testing"

	"github.com/brutella/dnssd"

	"github.com/transwacom/transwacomd/pkg/model"
)

func TestEntryToConsumer(t *testing.T) {
	e := dnssd.BrowseEntry{
		Name: "HostA",
		Port: 3333,
		IPs:  []net.IP{net.ParseIP("192.168.1.50")},
		Text: map[string]string{
			"id":           "h1",
			"capabilities": "tablet,joystick",
			"version":      "1.0",
		},
	}

	dc := entryToConsumer(e)

	if dc.Name != "HostA" {
		t.Errorf("Name = %q, want HostA", dc.Name)
	}
	if dc.Address != "192.168.1.50" {
		t.Errorf("Address = %q, want 192.168.1.50", dc.Address)
	}
	if dc.Port != 3333 {
		t.Errorf("Port = %d, want 3333", dc.Port)
	}
	if dc.ID != "h1" {
		t.Errorf("ID = %q, want h1", dc.ID)
	}
	if len(dc.Capabilities) != 2 || dc.Capabilities[0] != model.KindTablet {
		t.Errorf("Capabilities = %v, want [tablet joystick]", dc.Capabilities)
	}
}

func TestEntryToConsumerNoIPs(t *testing.T) {
	e := dnssd.BrowseEntry{Name: "HostB", Port: 3333}
	dc := entryToConsumer(e)
	if dc.Address != "" {
		t.Errorf("Address = %q, want empty", dc.Address)
	}
}

func TestFormatAddress(t *testing.T) {
	if got := FormatAddress("192.168.1.50", 3333); got != "192.168.1.50:3333" {
		t.Errorf("FormatAddress = %q, want 192.168.1.50:3333", got)
	}
}
