// Package model holds the data types shared across the capture, wire,
// emulation, and session layers: physical and virtual device descriptions,
// capability profiles, and peer trust policy.
package model

// DeviceKind classifies a PhysicalDevice. Only the kinds the system shares
// are reportable; everything else is skipped by the detector.
type DeviceKind string

const (
	KindTablet   DeviceKind = "tablet"
	KindJoystick DeviceKind = "joystick"
)

// PhysicalDevice is a discovered input device on the Host side. It carries
// no session state; it is re-derived on every enumeration.
type PhysicalDevice struct {
	Path         string     `json:"path"`
	Kind         DeviceKind `json:"kind"`
	DisplayName  string     `json:"display_name"`
	Capabilities []string   `json:"capabilities"`
	VendorID     string     `json:"vendor_id,omitempty"`
	VendorTool   string     `json:"vendor_tool,omitempty"`
	Axes         []AxisInfo `json:"axes,omitempty"`
}

// AxisInfo describes one absolute axis's declared range, required to
// reconstruct a faithful virtual device.
type AxisInfo struct {
	Code       string `json:"code"`
	Min        int32  `json:"min"`
	Max        int32  `json:"max"`
	Resolution int32  `json:"resolution"`
}

// CapabilityProfile is the portable subset of a PhysicalDevice carried in a
// handshake message: enough for the Consumer to build a matching virtual
// device without knowing anything else about the Host.
type CapabilityProfile struct {
	Kind         DeviceKind `json:"kind"`
	DisplayName  string     `json:"display_name"`
	Capabilities []string   `json:"capabilities"`
	Axes         []AxisInfo `json:"axes,omitempty"`
}

// FromPhysicalDevice extracts the portable profile of a PhysicalDevice.
func FromPhysicalDevice(d PhysicalDevice) CapabilityProfile {
	return CapabilityProfile{
		Kind:         d.Kind,
		DisplayName:  d.DisplayName,
		Capabilities: append([]string(nil), d.Capabilities...),
		Axes:         append([]AxisInfo(nil), d.Axes...),
	}
}

// HasCapability reports whether the profile advertises the named code.
func (p CapabilityProfile) HasCapability(code string) bool {
	for _, c := range p.Capabilities {
		if c == code {
			return true
		}
	}
	return false
}

// Axis returns the declared range for code, and whether it was found.
func (p CapabilityProfile) Axis(code string) (AxisInfo, bool) {
	for _, a := range p.Axes {
		if a.Code == code {
			return a, true
		}
	}
	return AxisInfo{}, false
}
