// Package vdev constructs and drives the uinput-backed virtual device a
// Consumer synthesizes to mirror a Host's physical device.
package vdev

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bendahl/uinput"

	"github.com/transwacom/transwacomd/pkg/config"
	"github.com/transwacom/transwacomd/pkg/model"
	"github.com/transwacom/transwacomd/pkg/wire"
	"github.com/transwacom/transwacomd/pkg/xerrors"
)

// backend is the minimal uinput surface vdev drives; tablets map onto a
// uinput.TouchPad (absolute X/Y plus buttons), joysticks onto a
// uinput.Gamepad (stick axes plus buttons).
type backend interface {
	Close() error
}

// VirtualDevice is the Consumer-side synthesized twin of a Host's
// physical device, built from the declared CapabilityProfile (see Create
// for what the uinput node declares).
type VirtualDevice struct {
	profile model.CapabilityProfile
	peer    string

	mu      sync.Mutex
	closed  bool
	backend backend

	touchpad uinput.TouchPad
	gamepad  uinput.Gamepad

	dropped uint64
}

// Create builds a virtual device for profile named
// "TransWacom Virtual <kind> (<peer_name>)". A tablet becomes a uinput
// touchpad whose X/Y range is the profile's ABS_X/ABS_Y range (0..32767
// for an axis the profile does not describe); a joystick becomes a uinput
// gamepad of fixed layout. The node declares the backend's capabilities,
// not the profile's capability set, and no axis other than a tablet's
// X/Y takes its range from the profile. It fails with ErrRefused if the
// kind is disabled in store's config.
func Create(store *config.Store, peerName string, profile model.CapabilityProfile) (*VirtualDevice, error) {
	if !store.KindEnabled(profile.Kind) {
		return nil, fmt.Errorf("kind %s disabled: %w", profile.Kind, xerrors.ErrRefused)
	}

	name := []byte(fmt.Sprintf("TransWacom Virtual %s (%s)", profile.Kind, peerName))

	v := &VirtualDevice{profile: profile, peer: peerName}

	switch profile.Kind {
	case model.KindTablet:
		minX, maxX := axisRange(profile, "ABS_X", 0, 32767)
		minY, maxY := axisRange(profile, "ABS_Y", 0, 32767)
		tp, err := uinput.CreateTouchPad("/dev/uinput", name, minX, maxX, minY, maxY)
		if err != nil {
			return nil, fmt.Errorf("creating virtual tablet: %w: %v", createSentinel(err), err)
		}
		v.touchpad = tp
		v.backend = tp

	case model.KindJoystick:
		gp, err := uinput.CreateGamepad("/dev/uinput", name, 0x1209, 0x0001)
		if err != nil {
			return nil, fmt.Errorf("creating virtual joystick: %w: %v", createSentinel(err), err)
		}
		v.gamepad = gp
		v.backend = gp

	default:
		return nil, fmt.Errorf("unknown kind %q: %w", profile.Kind, xerrors.ErrUnsupported)
	}

	return v, nil
}

// createSentinel classifies a uinput construction failure: no write
// access to the uinput control node is a permission problem, anything
// else (node missing, device limit reached) a resource one.
func createSentinel(err error) error {
	if errors.Is(err, os.ErrPermission) {
		return xerrors.ErrPermissionDenied
	}
	return xerrors.ErrResourceExhausted
}

// axisRange returns the profile's declared (min, max) for code, or the
// given fallback if the profile doesn't describe that axis.
func axisRange(profile model.CapabilityProfile, code string, fallbackMin, fallbackMax int32) (int32, int32) {
	if a, ok := profile.Axis(code); ok {
		return a.Min, a.Max
	}
	return fallbackMin, fallbackMax
}

// Inject writes events in order, appending a defensive SYN_REPORT if the
// caller omitted one. Codes outside the declared profile, and declared
// codes with no mapping here (only ABS_X/ABS_Y, ABS_RX/ABS_RY and
// BTN_STYLUS/BTN_LEFT/BTN_JOYSTICK/BTN_GAMEPAD are mapped), are dropped
// with a counter increment; axis values are clamped to the declared range.
// Inject on a destroyed device returns ErrResourceExhausted.
func (v *VirtualDevice) Inject(events []wire.InputEvent) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return fmt.Errorf("inject on destroyed virtual device: %w", xerrors.ErrResourceExhausted)
	}

	if len(events) == 0 || events[len(events)-1].Code != wire.SynReport {
		events = append(events, wire.InputEvent{Code: wire.SynReport})
	}

	var pendingX, pendingY, pendingRX, pendingRY *int32
	flush := func() error {
		if pendingX != nil || pendingY != nil {
			if err := v.applyMove(pendingX, pendingY); err != nil {
				return err
			}
			pendingX, pendingY = nil, nil
		}
		if pendingRX != nil || pendingRY != nil {
			if err := v.applyRightStick(pendingRX, pendingRY); err != nil {
				return err
			}
			pendingRX, pendingRY = nil, nil
		}
		return nil
	}

	for _, ev := range events {
		if ev.Code == wire.SynReport {
			if err := flush(); err != nil {
				return err
			}
			continue
		}

		if !v.profile.HasCapability(ev.Code) {
			atomic.AddUint64(&v.dropped, 1)
			continue
		}

		clamped := v.clamp(ev.Code, ev.Value)
		switch ev.Code {
		case "ABS_X":
			x := clamped
			pendingX = &x
		case "ABS_Y":
			y := clamped
			pendingY = &y
		case "ABS_RX":
			x := clamped
			pendingRX = &x
		case "ABS_RY":
			y := clamped
			pendingRY = &y
		case "BTN_STYLUS", "BTN_LEFT", "BTN_JOYSTICK", "BTN_GAMEPAD":
			if err := v.applyButton(ev.Code, clamped != 0); err != nil {
				return err
			}
		default:
			atomic.AddUint64(&v.dropped, 1)
		}
	}

	return flush()
}

// applyRightStick moves a joystick's right stick; tablets have no second
// pointer, so on a tablet profile declaring ABS_RX/ABS_RY each flushed
// right-stick update counts as one dropped event rather than inventing a
// mapping.
func (v *VirtualDevice) applyRightStick(x, y *int32) error {
	if v.profile.Kind != model.KindJoystick || v.gamepad == nil {
		atomic.AddUint64(&v.dropped, 1)
		return nil
	}
	xf, yf := float32(0), float32(0)
	if x != nil {
		xf = v.normalize("ABS_RX", *x)
	}
	if y != nil {
		yf = v.normalize("ABS_RY", *y)
	}
	return v.gamepad.RightStickMove(xf, yf)
}

func (v *VirtualDevice) applyMove(x, y *int32) error {
	switch v.profile.Kind {
	case model.KindTablet:
		if v.touchpad == nil {
			return nil
		}
		xv, yv := int32(0), int32(0)
		if x != nil {
			xv = *x
		}
		if y != nil {
			yv = *y
		}
		return v.touchpad.MoveTo(xv, yv)
	case model.KindJoystick:
		if v.gamepad == nil {
			return nil
		}
		// The gamepad backend takes normalized stick positions in [-1, 1];
		// the Host streams raw values in the declared axis range.
		xf, yf := float32(0), float32(0)
		if x != nil {
			xf = v.normalize("ABS_X", *x)
		}
		if y != nil {
			yf = v.normalize("ABS_Y", *y)
		}
		return v.gamepad.LeftStickMove(xf, yf)
	}
	return nil
}

// normalize maps value from the declared axis range onto [-1, 1]. An axis
// with no declared range is assumed already centered on zero at full scale.
func (v *VirtualDevice) normalize(code string, value int32) float32 {
	axis, ok := v.profile.Axis(code)
	if !ok || axis.Max == axis.Min {
		if value < -1 {
			return -1
		}
		if value > 1 {
			return 1
		}
		return float32(value)
	}
	span := float32(axis.Max - axis.Min)
	return 2*float32(value-axis.Min)/span - 1
}

func (v *VirtualDevice) applyButton(code string, down bool) error {
	switch v.profile.Kind {
	case model.KindTablet:
		if v.touchpad == nil {
			return nil
		}
		if down {
			return v.touchpad.LeftPress()
		}
		return v.touchpad.LeftRelease()
	case model.KindJoystick:
		if v.gamepad == nil {
			return nil
		}
		if down {
			return v.gamepad.ButtonDown(uinput.ButtonSouth)
		}
		return v.gamepad.ButtonUp(uinput.ButtonSouth)
	}
	return nil
}

// clamp restricts value to the profile's declared range for code, if any.
func (v *VirtualDevice) clamp(code string, value int32) int32 {
	axis, ok := v.profile.Axis(code)
	if !ok {
		return value
	}
	if value < axis.Min {
		return axis.Min
	}
	if value > axis.Max {
		return axis.Max
	}
	return value
}

// DroppedEvents reports how many events have been dropped: undeclared
// codes, declared codes with no mapping, and right-stick updates on a
// tablet (one per flushed update).
func (v *VirtualDevice) DroppedEvents() uint64 {
	return atomic.LoadUint64(&v.dropped)
}

// Destroy removes the uinput node. Idempotent; subsequent Inject calls
// return ErrResourceExhausted.
func (v *VirtualDevice) Destroy() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	if v.backend == nil {
		return nil
	}
	return v.backend.Close()
}
