package uvc

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	usb "github.com/corevid/uvccore"
)

// Query selects which flavour of a control request to issue.
type Query uint8

const (
	QueryCur  Query = reqGetCur
	QueryMin  Query = reqGetMin
	QueryMax  Query = reqGetMax
	QueryRes  Query = reqGetRes
	QueryDef  Query = reqGetDef
	QueryLen  Query = reqGetLen
	QueryInfo Query = reqGetInfo
)

// Camera Terminal control selectors (UVC Table 4-8) and Processing Unit
// control selectors (UVC Table 4-16) that carry a fixed payload length,
// used when a unit isn't an Extension Unit (whose lengths must be read with
// GET_LEN instead).
var fixedControlLength = map[uint8]uint16{
	0x01: 2, // CT_SCANNING_MODE / PU_BACKLIGHT_COMPENSATION
	0x02: 4, // CT_AE_MODE / PU_BRIGHTNESS
	0x03: 1, // CT_AE_PRIORITY / PU_CONTRAST
	0x04: 4, // CT_EXPOSURE_TIME_ABSOLUTE / PU_GAIN
	0x05: 1, // CT_EXPOSURE_TIME_RELATIVE / PU_POWER_LINE_FREQUENCY
	0x06: 1, // CT_FOCUS_ABSOLUTE(2)/RELATIVE / PU_HUE
	0x07: 2, // CT_FOCUS_AUTO / PU_SATURATION
	0x08: 2, // CT_IRIS_ABSOLUTE / PU_SHARPNESS
	0x09: 1, // CT_IRIS_RELATIVE / PU_GAMMA
	0x0A: 2, // CT_ZOOM_ABSOLUTE / PU_WHITE_BALANCE_TEMPERATURE
	0x0B: 3, // CT_ZOOM_RELATIVE / PU_WHITE_BALANCE_COMPONENT
	0x0C: 1, // CT_PANTILT_ABSOLUTE(8)/RELATIVE / PU_BACKLIGHT_COMPENSATION
	0x0D: 1, // CT_ROLL_ABSOLUTE / PU_GAIN
	0x0E: 1, // CT_ROLL_RELATIVE
	0x0F: 3, // CT_PRIVACY
}

// ctBitSelector maps a Camera Terminal bmControls bit position (UVC Table
// 4-8) to its control selector; 0 marks a reserved bit.
var ctBitSelector = [...]uint8{
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x00,
	0x11, 0x12, 0x13, 0x14, 0x15,
}

// puBitSelector maps a Processing Unit bmControls bit position (UVC Table
// 4-16) to its control selector.
var puBitSelector = [...]uint8{
	0x02, 0x03, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B,
	0x01, 0x04, 0x05, 0x0C, 0x0D, 0x0E, 0x0F, 0x10,
	0x11, 0x12, 0x13,
}

// controlSelector resolves a 0-based bmControls bit position to the UVC
// control selector for unit's concrete type. Extension Unit selectors are
// vendor-defined; by convention bit i corresponds to selector i+1. Returns
// ok=false for a bit with no defined selector (reserved, or out of range).
func controlSelector(unit VCUnit, bit uint8) (selector uint8, ok bool) {
	switch unit.(type) {
	case *CameraTerminal:
		if int(bit) >= len(ctBitSelector) || ctBitSelector[bit] == 0 {
			return 0, false
		}
		return ctBitSelector[bit], true
	case *ProcessingUnit:
		if int(bit) >= len(puBitSelector) {
			return 0, false
		}
		return puBitSelector[bit], true
	case *ExtensionUnit:
		return bit + 1, true
	default:
		return 0, false
	}
}

// Unit wraps a VCUnit with the VC interface session (handle, interface
// number, timeout) needed to issue class-specific control transfers against
// it.
type Unit struct {
	VCUnit
	handle    *usb.DeviceHandle
	ifaceNum  uint8
	timeout   time.Duration
}

func newUnit(unit VCUnit, handle *usb.DeviceHandle, ifaceNum uint8, timeout time.Duration) *Unit {
	return &Unit{VCUnit: unit, handle: handle, ifaceNum: ifaceNum, timeout: timeout}
}

// payloadLength resolves the GET_*/SET_CUR payload length for selector: a
// fixed table lookup for standard units, GET_LEN for Extension Units (spec
// §4.2).
func (u *Unit) payloadLength(selector uint8) (uint16, error) {
	if _, ok := u.VCUnit.(*ExtensionUnit); ok {
		return u.lenQuery(selector)
	}
	if n, ok := fixedControlLength[selector]; ok {
		return n, nil
	}
	return 0, &ControlError{Kind: ControlNotSupported, Unit: u.UnitID(), Selector: selector}
}

func (u *Unit) lenQuery(selector uint8) (uint16, error) {
	buf := make([]byte, 2)
	n, err := u.handle.ControlTransfer(reqTypeClassInterfaceIn, reqGetLen, uint16(selector)<<8, u.wIndex(), buf, u.timeout)
	if err != nil {
		return 0, u.wrapErr(err, selector)
	}
	if n < 2 {
		return 0, &ControlError{Kind: ControlInvalidLength, Unit: u.UnitID(), Selector: selector}
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

func (u *Unit) wIndex() uint16 {
	return uint16(u.UnitID())<<8 | uint16(u.ifaceNum)
}

func (u *Unit) wrapErr(err error, selector uint8) error {
	switch err {
	case usb.ErrPipe:
		return &ControlError{Kind: ControlStall, Unit: u.UnitID(), Selector: selector, cause: err}
	case usb.ErrTimeout:
		return &ControlError{Kind: ControlTimeout, Unit: u.UnitID(), Selector: selector, cause: err}
	default:
		return &ControlError{Kind: ControlNotSupported, Unit: u.UnitID(), Selector: selector, cause: err}
	}
}

// Get issues a class-specific GET_* request for selector and returns the raw
// payload bytes (spec §4.2).
func (u *Unit) Get(selector uint8, query Query) ([]byte, error) {
	if query == QueryLen {
		n, err := u.lenQuery(selector)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 2)
		buf[0], buf[1] = byte(n), byte(n>>8)
		return buf, nil
	}

	length, err := u.payloadLength(selector)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	n, err := u.handle.ControlTransfer(reqTypeClassInterfaceIn, uint8(query), uint16(selector)<<8, u.wIndex(), buf, u.timeout)
	if err != nil {
		return nil, u.wrapErr(err, selector)
	}
	return buf[:n], nil
}

// Set issues SET_CUR for selector with payload (spec §4.2). A stall here is
// surfaced, not recovered, per spec §4.2's Failures paragraph.
func (u *Unit) Set(selector uint8, payload []byte) error {
	_, err := u.handle.ControlTransfer(reqTypeClassInterfaceOut, reqSetCur, uint16(selector)<<8, u.wIndex(), payload, u.timeout)
	if err != nil {
		return u.wrapErr(err, selector)
	}
	return nil
}

// Info issues GET_INFO for selector and returns the one-byte capability
// bitmap (spec §4.2).
func (u *Unit) Info(selector uint8) (uint8, error) {
	buf := make([]byte, 1)
	n, err := u.handle.ControlTransfer(reqTypeClassInterfaceIn, reqGetInfo, uint16(selector)<<8, u.wIndex(), buf, u.timeout)
	if err != nil {
		return 0, u.wrapErr(err, selector)
	}
	if n < 1 {
		return 0, &ControlError{Kind: ControlInvalidLength, Unit: u.UnitID(), Selector: selector}
	}
	return buf[0], nil
}

// ValidateControls issues GET_INFO for every advertised bit on every unit of
// vc, using a semaphore to cap concurrency without serialising unrelated
// units (spec §4.2; concurrency per SPEC_FULL §1/§4.2). Controls whose
// GET_INFO fails are dropped from the result, whether by a stall (firmware
// lies about bmControls on some devices), a timeout or any other error; the
// rest are returned keyed by (unitID, selector), and the returned error is
// always nil.
func ValidateControls(ctx context.Context, vc *VCInterface, handle *usb.DeviceHandle, ifaceNum uint8, timeout time.Duration, maxConcurrency int64) (map[controlKey]uint8, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	sem := semaphore.NewWeighted(maxConcurrency)
	results := make(map[controlKey]uint8)
	resultsCh := make(chan controlResult)
	pending := 0

	for _, unit := range vc.Units {
		u := newUnit(unit, handle, ifaceNum, timeout)
		for bit := uint8(0); bit < 64; bit++ {
			if u.ControlBitmap()&(1<<uint(bit)) == 0 {
				continue
			}
			selector, ok := controlSelector(unit, bit)
			if !ok {
				continue
			}
			pending++
			sel := selector
			go func(u *Unit, selector uint8) {
				if err := sem.Acquire(ctx, 1); err != nil {
					resultsCh <- controlResult{key: controlKey{u.UnitID(), selector}, err: err}
					return
				}
				defer sem.Release(1)

				info, err := u.Info(selector)
				resultsCh <- controlResult{key: controlKey{u.UnitID(), selector}, info: info, err: err}
			}(u, sel)
		}
	}

	for i := 0; i < pending; i++ {
		r := <-resultsCh
		if r.err != nil {
			var ce *ControlError
			if asControlError(r.err, &ce) && ce.Kind == ControlStall {
				continue
			}
			continue
		}
		results[r.key] = r.info
	}

	return results, nil
}

type controlKey struct {
	unitID   uint8
	selector uint8
}

type controlResult struct {
	key  controlKey
	info uint8
	err  error
}

func asControlError(err error, target **ControlError) bool {
	ce, ok := err.(*ControlError)
	if !ok {
		return false
	}
	*target = ce
	return true
}
