// Package hostcapture grabs a physical evdev device exclusively, applies
// optional local mode changes, and streams timestamped events to a sink
// while guaranteeing the device's pre-session state is restored on every
// exit path.
package hostcapture

import (
	"fmt"
	"os"
	"sync"
	"time"

	evdev "github.com/gvalkov/golang-evdev"

	"github.com/transwacom/transwacomd/pkg/logging"
	"github.com/transwacom/transwacomd/pkg/model"
	"github.com/transwacom/transwacomd/pkg/wire"
	"github.com/transwacom/transwacomd/pkg/xerrors"
)

// CaptureOptions selects the local mode changes applied while the capture
// is active.
type CaptureOptions struct {
	// RelativeMode switches a tablet to relative mode for the session's
	// duration, remembering the prior mode.
	RelativeMode bool
	// DisableLocal detaches a tablet from the local pointer input for
	// the session's duration, remembering the prior state.
	DisableLocal bool
}

// EventSink receives batches of events, each terminated by SYN_REPORT,
// timestamped with a monotonic clock reading. A sink error stops the
// capture and triggers restoration, same as calling Stop.
type EventSink interface {
	HandleBatch(batch []wire.InputEvent) error
}

// Capture owns an exclusively grabbed physical device for the lifetime of
// one Host session.
type Capture struct {
	path   string
	dev    *evdev.InputDevice
	sink   EventSink
	vendor VendorModeController
	device model.PhysicalDevice

	restoration RestorationStack
	start       time.Time

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

// Start opens path for exclusive grab, applies opts, and begins streaming
// events to sink. The returned Capture must eventually have Stop called on
// it at least once (never, if Start itself failed); Stop is idempotent, and
// the package's signal guard also calls Stop for every live Capture on
// process termination.
func Start(device model.PhysicalDevice, sink EventSink, opts CaptureOptions, vendor VendorModeController) (*Capture, error) {
	dev, err := evdev.Open(device.Path)
	if err != nil {
		sentinel := xerrors.ErrNotFound
		if os.IsPermission(err) {
			// Lacking input-group membership or equivalent access to the
			// device node.
			sentinel = xerrors.ErrPermissionDenied
		}
		return nil, xerrors.NewCaptureError("open", device.Path, fmt.Errorf("%w: %v", sentinel, err))
	}

	if err := dev.Grab(); err != nil {
		dev.File.Close()
		return nil, xerrors.NewCaptureError("grab", device.Path, fmt.Errorf("%w: %v", xerrors.ErrDeviceBusy, err))
	}

	c := &Capture{
		path:   device.Path,
		dev:    dev,
		sink:   sink,
		vendor: vendor,
		device: device,
		start:  time.Now(),
		done:   make(chan struct{}),
	}

	// Step 2: each mode change pushes its inverse once it has been applied.
	if opts.RelativeMode && device.Kind == model.KindTablet {
		previous, err := vendor.SetRelativeMode(device)
		if err != nil {
			c.restoration.RunAll()
			dev.File.Close()
			return nil, xerrors.NewCaptureError("relative_mode", device.Path, err)
		}
		c.restoration.Push("restore mode", func() error {
			return vendor.SetMode(device, previous)
		})
	}

	if opts.DisableLocal && device.Kind == model.KindTablet {
		wasEnabled, err := vendor.SetLocalEnabled(device, false)
		if err != nil {
			c.restoration.RunAll()
			dev.File.Close()
			return nil, xerrors.NewCaptureError("disable_local", device.Path, err)
		}
		c.restoration.Push("restore local enablement", func() error {
			_, err := vendor.SetLocalEnabled(device, wasEnabled)
			return err
		})
	}

	// Pushed last so the LIFO replay releases the grab before undoing the
	// mode changes.
	c.restoration.Push("release grab", func() error {
		return dev.Release()
	})

	register(c)
	go c.readLoop()

	return c, nil
}

// Stop releases the grab and runs restoration exactly once (idempotent,
// P6). It is always safe to call, including concurrently with an
// in-flight readLoop error.
func (c *Capture) Stop() error {
	c.stopOnce.Do(func() {
		errs := c.restoration.RunAll()
		if len(errs) > 0 {
			c.stopErr = fmt.Errorf("restoration: %d action(s) failed, first: %w", len(errs), errs[0])
		}
		c.dev.File.Close()
		close(c.done)
		unregister(c)
	})
	return c.stopErr
}

// readLoop is the capture's dedicated blocking reader: it timestamps
// events with a monotonic clock and forwards them to sink in contiguous
// batches terminated by SYN_REPORT, never splitting a batch across
// frames.
func (c *Capture) readLoop() {
	started := time.Now()
	var batch []wire.InputEvent

	for {
		ev, err := c.dev.ReadOne()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			logging.Errorf("hostcapture: read error on %s: %v", c.path, err)
			go c.Stop()
			return
		}

		name := codeName(ev)
		batch = append(batch, wire.InputEvent{
			Code:  name,
			Value: ev.Value,
			TS:    time.Since(started).Seconds(),
		})

		if name == wire.SynReport {
			if err := c.sink.HandleBatch(batch); err != nil {
				logging.Errorf("hostcapture: sink rejected batch from %s: %v", c.path, err)
				go c.Stop()
				return
			}
			batch = nil
		}
	}
}

// evSyn/evKey/evRel/evAbs are the stable Linux input-event-codes.h event
// types this system cares about; codeTable below holds enough of the
// EV_SYN, EV_KEY, EV_REL and EV_ABS code namespaces to cover tablet and
// joystick devices.
const (
	evSyn uint16 = 0x00
	evKey uint16 = 0x01
	evRel uint16 = 0x02
	evAbs uint16 = 0x03
)

// codeTable maps (type, code) to the symbolic name the wire protocol and
// capability profile use.
var codeTable = map[[2]uint16]string{
	{evSyn, 0}: "SYN_REPORT",
	{evSyn, 1}: "SYN_CONFIG",
	{evSyn, 3}: "SYN_DROPPED",

	{evAbs, 0x00}: "ABS_X",
	{evAbs, 0x01}: "ABS_Y",
	{evAbs, 0x02}: "ABS_Z",
	{evAbs, 0x03}: "ABS_RX",
	{evAbs, 0x04}: "ABS_RY",
	{evAbs, 0x05}: "ABS_RZ",
	{evAbs, 0x18}: "ABS_PRESSURE",
	{evAbs, 0x19}: "ABS_DISTANCE",
	{evAbs, 0x1a}: "ABS_TILT_X",
	{evAbs, 0x1b}: "ABS_TILT_Y",

	{evKey, 0x110}: "BTN_LEFT",
	{evKey, 0x111}: "BTN_RIGHT",
	{evKey, 0x14a}: "BTN_TOUCH",
	{evKey, 0x14b}: "BTN_STYLUS",
	{evKey, 0x14c}: "BTN_STYLUS2",
	{evKey, 0x120}: "BTN_JOYSTICK",
	{evKey, 0x121}: "BTN_THUMB",
	{evKey, 0x122}: "BTN_THUMB2",
	{evKey, 0x130}: "BTN_GAMEPAD",

	{evRel, 0x00}: "REL_X",
	{evRel, 0x01}: "REL_Y",
}

// codeName resolves an InputEvent's symbolic code name, e.g. "ABS_X",
// falling back to a numeric placeholder for anything outside the known
// table. Unknown codes are carried, never dropped, by the capture layer;
// discarding them is the receiving side's call.
func codeName(ev *evdev.InputEvent) string {
	if name, ok := codeTable[[2]uint16{ev.Type, ev.Code}]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_%d_%d", ev.Type, ev.Code)
}
