// Package devdetect enumerates and classifies physical evdev input devices.
package devdetect

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unsafe"

	evdev "github.com/gvalkov/golang-evdev"
	"golang.org/x/sys/unix"

	"github.com/transwacom/transwacomd/pkg/model"
	"github.com/transwacom/transwacomd/pkg/xerrors"
)

// vendorTools maps a vendor id prefix to the external tool used for mode
// control (relative mode, local disable). Absence of an entry is not an
// error; the device is simply not mode-controllable.
var vendorTools = map[string]string{
	"056a": "xsetwacom", // Wacom
}

// Detector enumerates and describes physical input devices.
type Detector struct {
	// Glob is the device node pattern passed to evdev.ListInputDevices.
	// Defaults to the kernel's standard event node glob.
	Glob string
}

// NewDetector returns a Detector scanning the standard /dev/input/event*
// nodes.
func NewDetector() *Detector {
	return &Detector{Glob: "/dev/input/event*"}
}

// Enumerate lists every reportable physical device: tablets and joysticks,
// classified per the rules in classify. Devices that don't classify are
// silently skipped, matching the "not reportable" rule.
func (d *Detector) Enumerate() ([]model.PhysicalDevice, error) {
	devices, err := evdev.ListInputDevices(d.Glob)
	if err != nil {
		return nil, fmt.Errorf("listing input devices: %w", err)
	}

	var result []model.PhysicalDevice
	for _, dev := range devices {
		pd, ok := classify(dev)
		if !ok {
			continue
		}
		result = append(result, pd)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

// Describe returns the PhysicalDevice at path, or ErrNotFound if the node
// doesn't classify as a reportable device (including if it doesn't exist).
// A node the process may not open reports ErrPermissionDenied instead, so
// callers can distinguish a missing device from missing group membership.
func (d *Detector) Describe(path string) (model.PhysicalDevice, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			return model.PhysicalDevice{}, fmt.Errorf("%s: %w", path, xerrors.ErrPermissionDenied)
		}
		return model.PhysicalDevice{}, fmt.Errorf("%s: %w", path, xerrors.ErrNotFound)
	}
	defer dev.File.Close()

	pd, ok := classify(dev)
	if !ok {
		return model.PhysicalDevice{}, fmt.Errorf("%s: %w", path, xerrors.ErrNotFound)
	}
	return pd, nil
}

// classify applies the detector's classification rules, in order:
//  1. pressure + BTN_STYLUS, or a vendor-tag name match -> tablet
//  2. a pair of absolute sticks, or a joystick node -> joystick
//  3. otherwise, not reportable
func classify(dev *evdev.InputDevice) (model.PhysicalDevice, bool) {
	caps := capabilityNames(dev)

	hasAbsPressure := contains(caps, "ABS_PRESSURE")
	hasBtnStylus := contains(caps, "BTN_STYLUS")
	vendorID := fmt.Sprintf("%04x", dev.Vendor)

	switch {
	case hasAbsPressure && hasBtnStylus, isTabletVendorName(dev.Name):
		return model.PhysicalDevice{
			Path:         dev.Fn,
			Kind:         model.KindTablet,
			DisplayName:  dev.Name,
			Capabilities: caps,
			VendorID:     vendorID,
			VendorTool:   vendorTools[vendorID],
			Axes:         axisInfo(dev, caps),
		}, true

	case hasDualAbsSticks(caps), isJoystickNode(caps):
		return model.PhysicalDevice{
			Path:         dev.Fn,
			Kind:         model.KindJoystick,
			DisplayName:  dev.Name,
			Capabilities: caps,
			VendorID:     vendorID,
			Axes:         axisInfo(dev, caps),
		}, true

	default:
		return model.PhysicalDevice{}, false
	}
}

func isTabletVendorName(name string) bool {
	for _, tag := range []string{"Wacom", "Huion", "XP-Pen", "Gaomon"} {
		if containsFold(name, tag) {
			return true
		}
	}
	return false
}

func hasDualAbsSticks(caps []string) bool {
	return contains(caps, "ABS_X") && contains(caps, "ABS_Y") &&
		contains(caps, "ABS_RX") && contains(caps, "ABS_RY")
}

func isJoystickNode(caps []string) bool {
	return contains(caps, "BTN_JOYSTICK") || contains(caps, "BTN_GAMEPAD") || contains(caps, "BTN_THUMB")
}

// capabilityNames flattens an evdev.InputDevice's capability bitmap into
// the symbolic code names the wire protocol and capability profile use.
func capabilityNames(dev *evdev.InputDevice) []string {
	var names []string
	for _, codes := range dev.Capabilities {
		for _, code := range codes {
			names = append(names, code.Name)
		}
	}
	sort.Strings(names)
	return names
}

// absCodes returns the numeric codes backing each ABS_* capability, for
// EVIOCGABS lookups.
func absCodes(dev *evdev.InputDevice) map[string]int {
	codes := make(map[string]int)
	for typ, list := range dev.Capabilities {
		if typ.Name != "EV_ABS" {
			continue
		}
		for _, c := range list {
			codes[c.Name] = c.Code
		}
	}
	return codes
}

// rawAbsInfo mirrors the kernel's struct input_absinfo.
type rawAbsInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// eviocgabs builds the EVIOCGABS(code) ioctl request number:
// _IOR('E', 0x40+code, struct input_absinfo).
func eviocgabs(code int) uintptr {
	const sizeofAbsInfo = uintptr(unsafe.Sizeof(rawAbsInfo{}))
	return uintptr(2)<<30 | sizeofAbsInfo<<16 | uintptr('E')<<8 | uintptr(0x40+code)
}

// axisInfo extracts per-axis (min, max, resolution) for every ABS_* code
// the device reports, via the kernel's EVIOCGABS ioctl.
func axisInfo(dev *evdev.InputDevice, caps []string) []model.AxisInfo {
	codes := absCodes(dev)
	fd := dev.File.Fd()
	var axes []model.AxisInfo
	for _, code := range caps {
		if !strings.HasPrefix(code, "ABS_") {
			continue
		}
		num, ok := codes[code]
		if !ok {
			continue
		}
		var info rawAbsInfo
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, eviocgabs(num), uintptr(unsafe.Pointer(&info)))
		if errno != 0 {
			continue
		}
		axes = append(axes, model.AxisInfo{
			Code:       code,
			Min:        info.Minimum,
			Max:        info.Maximum,
			Resolution: info.Resolution,
		})
	}
	return axes
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
