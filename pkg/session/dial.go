package session

import (
	"fmt"
	"net"
	"strconv"

	"github.com/transwacom/transwacomd/pkg/config"
	"github.com/transwacom/transwacomd/pkg/hostcapture"
	"github.com/transwacom/transwacomd/pkg/model"
)

// DialDirect opens a Host-role session to a user-supplied address,
// appending the daemon's default port when addr carries none — discovery
// is advisory only, so a literal address:port must always work. The
// returned Session is in Dialing state; progress is reported on events.
func DialDirect(addr string, identity model.MachineIdentity, device model.PhysicalDevice, opts hostcapture.CaptureOptions, vendor hostcapture.VendorModeController, events chan<- SessionEvent) (*Session, error) {
	full, err := withDefaultPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parsing address %q: %w", addr, err)
	}
	return DialHost(full, identity, device, opts, vendor, events), nil
}

func withDefaultPort(addr string) (string, error) {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr, nil
	}
	// No port present; treat addr as a bare host and append the default.
	return net.JoinHostPort(addr, strconv.Itoa(config.DefaultPort)), nil
}
