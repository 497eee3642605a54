package hostcapture

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/transwacom/transwacomd/pkg/model"
)

// VendorModeController issues the vendor tool invocations that change a
// tablet's local mode (e.g. xsetwacom), so that real side-effecting
// command execution is mockable in tests, the same small-interface
// pattern used for other side-effecting tool wrappers in this codebase.
type VendorModeController interface {
	// SetRelativeMode reports the device's current relative/absolute mode
	// setting, then switches it to relative.
	SetRelativeMode(device model.PhysicalDevice) (previous string, err error)
	// SetMode restores a previously captured mode value verbatim.
	SetMode(device model.PhysicalDevice, mode string) error
	// SetLocalEnabled attaches or detaches the device from the local
	// pointer input, returning the previous enabled state.
	SetLocalEnabled(device model.PhysicalDevice, enabled bool) (previous bool, err error)
}

// ExecVendorController drives the real vendor tool (e.g. xsetwacom)
// via os/exec.
type ExecVendorController struct{}

var _ VendorModeController = ExecVendorController{}

func (ExecVendorController) SetRelativeMode(device model.PhysicalDevice) (string, error) {
	if device.VendorTool == "" {
		return "", fmt.Errorf("device %s has no vendor tool for mode control", device.Path)
	}
	previous, err := runVendorTool(device.VendorTool, "get", device.DisplayName, "Mode")
	if err != nil {
		return "", err
	}
	if _, err := runVendorTool(device.VendorTool, "set", device.DisplayName, "Mode", "Relative"); err != nil {
		return "", err
	}
	return previous, nil
}

func (ExecVendorController) SetMode(device model.PhysicalDevice, mode string) error {
	if device.VendorTool == "" {
		return fmt.Errorf("device %s has no vendor tool for mode control", device.Path)
	}
	_, err := runVendorTool(device.VendorTool, "set", device.DisplayName, "Mode", mode)
	return err
}

func (ExecVendorController) SetLocalEnabled(device model.PhysicalDevice, enabled bool) (bool, error) {
	if device.VendorTool == "" {
		return false, fmt.Errorf("device %s has no vendor tool for mode control", device.Path)
	}
	prevStr, err := runVendorTool(device.VendorTool, "get", device.DisplayName, "TouchToggle")
	if err != nil {
		return false, err
	}
	value := "off"
	if enabled {
		value = "on"
	}
	if _, err := runVendorTool(device.VendorTool, "set", device.DisplayName, "TouchToggle", value); err != nil {
		return false, err
	}
	return prevStr == "on", nil
}

func runVendorTool(tool string, args ...string) (string, error) {
	out, err := exec.Command(tool, args...).Output()
	if err != nil {
		return "", fmt.Errorf("running %s %v: %w", tool, args, err)
	}
	// xsetwacom-style tools terminate their answer with a newline; the
	// value is replayed verbatim on restore, so it must come back bare.
	return strings.TrimSpace(string(out)), nil
}
