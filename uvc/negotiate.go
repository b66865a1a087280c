package uvc

import (
	"encoding/binary"
	"time"

	usb "github.com/corevid/uvccore"
)

// NegotiateResult is the outcome of a successful PROBE/COMMIT negotiation.
type NegotiateResult struct {
	Control    StreamingControl
	AltSetting uint8
	Format     *StreamFormat
	Frame      *FrameInfo

	// SSCompanion reports the chosen alt setting's SuperSpeed endpoint
	// companion descriptor, if any, so a caller on USB 3.x hardware can read
	// the real per-burst payload size (SPEC_FULL §3.2.3 / DESIGN.md).
	SSCompanion *usb.SuperSpeedEndpointCompanionDescriptor
}

// selectFormatAndFrame implements spec §4.3 step 1: filter formats by codec
// preference, then pick the frame matching (width, height), then pick the
// interval closest to the requested fps (preferring the largest interval
// <= requested, falling back to the smallest available).
func selectFormatAndFrame(vs *VSInterface, codec Codec, width, height, fps int) (*StreamFormat, *FrameInfo, uint32, error) {
	var requestedInterval uint32
	if fps > 0 {
		requestedInterval = uint32(10000000 / fps)
	}

	for _, f := range vs.Formats {
		if !codec.matchesFourCC(f.FourCC) {
			continue
		}
		for _, frame := range f.Frames {
			if int(frame.Width) != width || int(frame.Height) != height {
				continue
			}
			interval := requestedInterval
			if interval == 0 {
				interval = frame.DefaultFrameInterval
			}
			return f, frame, frame.ClosestInterval(interval), nil
		}
	}

	return nil, nil, 0, &NegotiationError{Kind: NoMatchingFormat}
}

// Negotiate runs the PROBE/COMMIT handshake and alt-setting selection of
// spec §4.3 against vs using handle, which must already own the VS
// interface.
func Negotiate(handle *usb.DeviceHandle, vs *VSInterface, ifaceNum uint8, bcdUVC uint16, codec Codec, width, height, fps int, timeout time.Duration) (*NegotiateResult, error) {
	format, frame, interval, err := selectFormatAndFrame(vs, codec, width, height, fps)
	if err != nil {
		return nil, err
	}

	sc := StreamingControl{
		Hint:          0x0001,
		FormatIndex:   format.FormatIndex,
		FrameIndex:    frame.FrameIndex,
		FrameInterval: interval,
	}

	size := Size(bcdUVC)
	unit := newVSUnit(handle, ifaceNum, timeout)

	// Probe round 1.
	if err := probeRoundTrip(unit, &sc, size); err != nil {
		return nil, err
	}

	// Probe round 2+: re-SET_CUR with device-updated values, re-GET_CUR,
	// iterate until the payload stabilises or the 3-round cap is hit.
	stable := false
	for round := 0; round < 3; round++ {
		before := sc
		if err := probeRoundTrip(unit, &sc, size); err != nil {
			return nil, err
		}
		if sc == before {
			stable = true
			break
		}
	}
	if !stable {
		return nil, &NegotiationError{Kind: ProbeUnstable}
	}

	// Commit.
	buf := marshalStreamingControl(&sc, size)
	if err := unit.set(vsCommitControl, buf); err != nil {
		return nil, &NegotiationError{Kind: CommitStalled, cause: err}
	}

	alt, companion, err := pickAltSetting(vs, sc.MaxPayloadTransferSize)
	if err != nil {
		return nil, err
	}

	return &NegotiateResult{
		Control:     sc,
		AltSetting:  alt,
		Format:      format,
		Frame:       frame,
		SSCompanion: companion,
	}, nil
}

func probeRoundTrip(unit *vsUnit, sc *StreamingControl, size int) error {
	if err := unit.set(vsProbeControl, marshalStreamingControl(sc, size)); err != nil {
		return &NegotiationError{Kind: ProbeUnstable, cause: err}
	}
	buf, err := unit.get(vsProbeControl, size)
	if err != nil {
		return &NegotiationError{Kind: ProbeUnstable, cause: err}
	}
	*sc = unmarshalStreamingControl(buf)
	return nil
}

// pickAltSetting scans vs's alt settings for the smallest isochronous
// endpoint whose effective max packet size covers needed bytes (spec §4.3
// step 6).
func pickAltSetting(vs *VSInterface, needed uint32) (uint8, *usb.SuperSpeedEndpointCompanionDescriptor, error) {
	var best *VSAltSetting
	for i := range vs.AltSettings {
		a := &vs.AltSettings[i]
		if a.IsoEndpoint == nil || a.MaxPacketSize < needed {
			continue
		}
		if best == nil || a.MaxPacketSize < best.MaxPacketSize {
			best = a
		}
	}
	if best == nil {
		return 0, nil, &NegotiationError{Kind: NoAltSettingFits}
	}
	return best.AltSetting, best.IsoEndpoint.SSCompanion, nil
}

// vsUnit is the VS interface's PROBE/COMMIT control selector target; it is
// not a VCUnit (the VS interface itself, not a VC unit, owns these
// selectors), so it gets its own minimal request helper rather than reusing
// control.go's Unit.
type vsUnit struct {
	handle   *usb.DeviceHandle
	ifaceNum uint8
	timeout  time.Duration
}

func newVSUnit(handle *usb.DeviceHandle, ifaceNum uint8, timeout time.Duration) *vsUnit {
	return &vsUnit{handle: handle, ifaceNum: ifaceNum, timeout: timeout}
}

func (u *vsUnit) set(selector uint8, payload []byte) error {
	_, err := u.handle.ControlTransfer(reqTypeClassInterfaceOut, reqSetCur, uint16(selector)<<8, uint16(u.ifaceNum), payload, u.timeout)
	return err
}

func (u *vsUnit) get(selector uint8, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := u.handle.ControlTransfer(reqTypeClassInterfaceIn, reqGetCur, uint16(selector)<<8, uint16(u.ifaceNum), buf, u.timeout)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func marshalStreamingControl(sc *StreamingControl, size int) []byte {
	buf := make([]byte, size)
	binary.LittleEndian.PutUint16(buf[0:2], sc.Hint)
	buf[2] = sc.FormatIndex
	buf[3] = sc.FrameIndex
	binary.LittleEndian.PutUint32(buf[4:8], sc.FrameInterval)
	binary.LittleEndian.PutUint16(buf[8:10], sc.KeyFrameRate)
	binary.LittleEndian.PutUint16(buf[10:12], sc.PFrameRate)
	binary.LittleEndian.PutUint16(buf[12:14], sc.CompQuality)
	binary.LittleEndian.PutUint16(buf[14:16], sc.CompWindowSize)
	binary.LittleEndian.PutUint16(buf[16:18], sc.Delay)
	binary.LittleEndian.PutUint32(buf[18:22], sc.MaxVideoFrameSize)
	binary.LittleEndian.PutUint32(buf[22:26], sc.MaxPayloadTransferSize)

	if size >= 34 {
		binary.LittleEndian.PutUint32(buf[26:30], sc.ClockFrequency)
		buf[30] = sc.FramingInfo
		buf[31] = sc.PreferredVersion
		buf[32] = sc.MinVersion
		buf[33] = sc.MaxVersion
	}

	if size >= 48 {
		buf[34] = sc.Usage
		buf[35] = sc.BitDepthLuma
		buf[36] = sc.Settings
		buf[37] = sc.MaxNumberOfRefFramesPlus1
		binary.LittleEndian.PutUint16(buf[38:40], sc.RateControlModes)
		binary.LittleEndian.PutUint64(buf[40:48], sc.LayoutPerStream)
	}

	return buf
}

func unmarshalStreamingControl(buf []byte) StreamingControl {
	var sc StreamingControl
	if len(buf) < 26 {
		return sc
	}
	sc.Hint = binary.LittleEndian.Uint16(buf[0:2])
	sc.FormatIndex = buf[2]
	sc.FrameIndex = buf[3]
	sc.FrameInterval = binary.LittleEndian.Uint32(buf[4:8])
	sc.KeyFrameRate = binary.LittleEndian.Uint16(buf[8:10])
	sc.PFrameRate = binary.LittleEndian.Uint16(buf[10:12])
	sc.CompQuality = binary.LittleEndian.Uint16(buf[12:14])
	sc.CompWindowSize = binary.LittleEndian.Uint16(buf[14:16])
	sc.Delay = binary.LittleEndian.Uint16(buf[16:18])
	sc.MaxVideoFrameSize = binary.LittleEndian.Uint32(buf[18:22])
	sc.MaxPayloadTransferSize = binary.LittleEndian.Uint32(buf[22:26])

	if len(buf) >= 34 {
		sc.ClockFrequency = binary.LittleEndian.Uint32(buf[26:30])
		sc.FramingInfo = buf[30]
		sc.PreferredVersion = buf[31]
		sc.MinVersion = buf[32]
		sc.MaxVersion = buf[33]
	}

	if len(buf) >= 48 {
		sc.Usage = buf[34]
		sc.BitDepthLuma = buf[35]
		sc.Settings = buf[36]
		sc.MaxNumberOfRefFramesPlus1 = buf[37]
		sc.RateControlModes = binary.LittleEndian.Uint16(buf[38:40])
		sc.LayoutPerStream = binary.LittleEndian.Uint64(buf[40:48])
	}

	return sc
}
