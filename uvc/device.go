package uvc

import (
	"context"
	"fmt"
	"time"

	usb "github.com/corevid/uvccore"
	"github.com/corevid/uvccore/uvc/quirks"
)

// Session is the open-device façade: one Session wraps one claimed VC
// interface, its parsed descriptors, and its validated control set. Spec §2's
// "Control flow" paragraph describes exactly this object's lifecycle: Open,
// ConfigureStream (at most once at a time), stream, Close.
type Session struct {
	ctx    *usb.Context
	handle *usb.DeviceHandle
	guard  *vcInterfaceGuard

	vc  *VCInterface
	vs  []*VSInterface
	cfg Config

	bcdUVC   uint16
	controls map[controlKey]uint8
	names    nameTable

	stats Stats

	stream *StreamHandle
}

// nameTable resolves a human-readable control name to its (unitID, selector)
// pair, built by merging a loaded quirks.Registry against the Extension
// Units actually present on this device (spec §4.7/§3.2.8).
type nameTable map[string]controlKey

// Open claims the device matching cfg's (VendorID, ProductID[, SerialNumber]),
// parses its VC/VS descriptors, detaches a conflicting kernel driver if
// cfg.AutoDetachVC is set, and validates the control surface. The returned
// Session owns handle until Close.
func Open(cfg Config) (*Session, error) {
	ctx, err := usb.NewContext()
	if err != nil {
		return nil, err
	}

	var handle *usb.DeviceHandle
	if cfg.SerialNumber != "" {
		handle, err = ctx.OpenDeviceWithSerial(cfg.VendorID, cfg.ProductID, cfg.SerialNumber)
	} else {
		handle, err = ctx.OpenDevice(cfg.VendorID, cfg.ProductID)
	}
	if err != nil {
		return nil, err
	}

	s, err := openSession(ctx, handle, cfg)
	if err != nil {
		handle.Close()
		return nil, err
	}
	return s, nil
}

func openSession(ctx *usb.Context, handle *usb.DeviceHandle, cfg Config) (*Session, error) {
	active, err := handle.GetActiveConfigDescriptor()
	if err != nil {
		return nil, err
	}

	descriptors, err := ParseConfig(active)
	if err != nil {
		return nil, err
	}
	if descriptors.VC == nil {
		return nil, &DescriptorError{Reason: "no Video Control interface found"}
	}
	if len(descriptors.VS) == 0 {
		return nil, &DescriptorError{Reason: "no Video Streaming interface found"}
	}

	guard, err := acquireVCInterfaceGuard(handle, descriptors.VC.Number, cfg.AutoDetachVC)
	if err != nil {
		return nil, err
	}

	if err := handle.ClaimInterface(descriptors.VC.Number); err != nil {
		guard.Release()
		return nil, err
	}

	if cfg.ControlTimeout <= 0 {
		cfg.ControlTimeout = 2000 * time.Millisecond
	}

	controls, err := ValidateControls(context.Background(), descriptors.VC, handle, descriptors.VC.Number, cfg.ControlTimeout, 4)
	if err != nil {
		handle.ReleaseInterface(descriptors.VC.Number)
		guard.Release()
		return nil, err
	}

	s := &Session{
		ctx:      ctx,
		handle:   handle,
		guard:    guard,
		vc:       descriptors.VC,
		vs:       descriptors.VS,
		cfg:      cfg,
		bcdUVC:   descriptors.VC.BcdUVC,
		controls: controls,
		names:    make(nameTable),
	}
	return s, nil
}

// ApplyQuirks merges reg's documents against this Session's Extension Units,
// populating the human-readable control name table GetControlByName/
// SetControlByName resolve against.
func (s *Session) ApplyQuirks(reg *quirks.Registry) {
	for _, unit := range s.vc.Units {
		xu, ok := unit.(*ExtensionUnit)
		if !ok {
			continue
		}
		doc, ok := reg.Lookup(xu.GUID)
		if !ok {
			continue
		}
		if xu.Names == nil {
			xu.Names = make(map[uint8]ControlAnnotation)
		}
		for _, c := range doc.Controls {
			if c.Selector == nil || c.Name == "" {
				continue
			}
			xu.Names[*c.Selector] = ControlAnnotation{
				Name:          c.Name,
				Kind:          string(c.Type),
				Notes:         c.Notes,
				GetInfoExpect: c.GetInfoExpect,
			}
			s.names[c.Name] = controlKey{unitID: xu.UnitID(), selector: *c.Selector}
		}
	}
}

// ConfigureStream negotiates PROBE/COMMIT for (width, height, fps, codec)
// against the chosen VS interface and returns a StreamHandle ready to Start.
// Only one StreamHandle may be open at a time per Session.
func (s *Session) ConfigureStream(width, height, fps int, codec Codec) (*StreamHandle, error) {
	if s.stream != nil {
		return nil, fmt.Errorf("uvc: stream already configured; Close it first")
	}

	vs := s.vsInterface()
	if vs == nil {
		return nil, &DescriptorError{Reason: "configured streaming interface not found"}
	}

	if err := s.handle.ClaimInterface(vs.Number); err != nil {
		return nil, err
	}

	result, err := Negotiate(s.handle, vs, vs.Number, s.bcdUVC, codec, width, height, fps, s.cfg.ControlTimeout)
	if err != nil {
		s.handle.ReleaseInterface(vs.Number)
		return nil, err
	}

	if err := s.handle.SetInterfaceAltSetting(vs.Number, result.AltSetting); err != nil {
		s.handle.ReleaseInterface(vs.Number)
		return nil, err
	}

	isH26x := result.Format.FourCC == "H264" || result.Format.FourCC == "H265"
	var expectedSize uint32
	if result.Format.FourCC != "MJPG" && !isH26x {
		expectedSize = result.Control.MaxVideoFrameSize
	}

	deliverPartial := s.cfg.DeliverPartial
	queueSize := s.cfg.FrameQueueSize
	if queueSize <= 0 {
		queueSize = 4
	}
	numTransfers := s.cfg.NumTransfers
	if numTransfers <= 0 {
		numTransfers = 12
	}
	packetsPerTransfer := s.cfg.PacketsPerTransfer
	if packetsPerTransfer <= 0 {
		packetsPerTransfer = 32
	}

	sh := &StreamHandle{
		session:        s,
		vs:             vs,
		altSetting:     result.AltSetting,
		reassembler:    newReassembler(result.Format.FourCC, result.Frame.Width, result.Frame.Height, expectedSize, deliverPartial),
		frames:         make(chan *CompletedFrame, queueSize),
		dropOnOverflow: s.cfg.DropOnOverflow,
	}
	if isH26x {
		codecForNorm := CodecH264
		if result.Format.FourCC == "H265" {
			codecForNorm = CodecH265
		}
		sh.normaliser = newBitstreamNormaliser(codecForNorm, &s.stats)
	}

	var epAddr uint8
	var altMaxPacket uint32
	for i := range vs.AltSettings {
		if vs.AltSettings[i].AltSetting == result.AltSetting && vs.AltSettings[i].IsoEndpoint != nil {
			epAddr = vs.AltSettings[i].IsoEndpoint.EndpointAddr
			altMaxPacket = vs.AltSettings[i].MaxPacketSize
			break
		}
	}
	if epAddr == 0 {
		s.handle.SetInterfaceAltSetting(vs.Number, 0)
		s.handle.ReleaseInterface(vs.Number)
		return nil, &NegotiationError{Kind: NoAltSettingFits}
	}

	packetSize := int(result.Control.MaxPayloadTransferSize)
	if packetSize <= 0 {
		packetSize = int(altMaxPacket)
	}

	sched := newScheduler(s.handle, epAddr, numTransfers, packetsPerTransfer, packetSize, sh.onPacket, sh.onPacketError, sh.onFatal, &s.stats)
	sh.scheduler = sched

	if err := sched.start(context.Background(), numTransfers); err != nil {
		s.handle.SetInterfaceAltSetting(vs.Number, 0)
		s.handle.ReleaseInterface(vs.Number)
		return nil, err
	}

	s.stream = sh
	return sh, nil
}

func (s *Session) vsInterface() *VSInterface {
	if s.cfg.StreamingInterface < 0 {
		if len(s.vs) > 0 {
			return s.vs[0]
		}
		return nil
	}
	for _, vs := range s.vs {
		if int(vs.Number) == s.cfg.StreamingInterface {
			return vs
		}
	}
	return nil
}

// ControlInfo describes one validated control: the unit/selector that
// addresses it and the GET_INFO capability bitmap reported for it.
type ControlInfo struct {
	UnitID       uint8
	Selector     uint8
	Capabilities uint8
}

// Controls returns every control ValidateControls confirmed present on this
// Session's VC interface during Open.
func (s *Session) Controls() []ControlInfo {
	out := make([]ControlInfo, 0, len(s.controls))
	for k, v := range s.controls {
		out = append(out, ControlInfo{UnitID: k.unitID, Selector: k.selector, Capabilities: v})
	}
	return out
}

// VC returns the parsed Video Control interface, for callers that want to
// walk units/terminals directly (e.g. a descriptor-dump tool).
func (s *Session) VC() *VCInterface { return s.vc }

// VS returns the parsed Video Streaming interfaces.
func (s *Session) VS() []*VSInterface { return s.vs }

// GetControl issues a class-specific GET_CUR for (unitID, selector).
func (s *Session) GetControl(unitID, selector uint8) ([]byte, error) {
	u := s.findUnit(unitID)
	if u == nil {
		return nil, &ControlError{Kind: ControlNotSupported, Unit: unitID, Selector: selector}
	}
	return newUnit(u, s.handle, s.vc.Number, s.cfg.ControlTimeout).Get(selector, QueryCur)
}

// SetControl issues a class-specific SET_CUR for (unitID, selector).
func (s *Session) SetControl(unitID, selector uint8, payload []byte) error {
	u := s.findUnit(unitID)
	if u == nil {
		return &ControlError{Kind: ControlNotSupported, Unit: unitID, Selector: selector}
	}
	return newUnit(u, s.handle, s.vc.Number, s.cfg.ControlTimeout).Set(selector, payload)
}

// GetControlByName resolves name through the quirks-merged table and issues
// GetControl.
func (s *Session) GetControlByName(name string) ([]byte, error) {
	key, ok := s.names[name]
	if !ok {
		return nil, fmt.Errorf("uvc: unknown control name %q", name)
	}
	return s.GetControl(key.unitID, key.selector)
}

// SetControlByName resolves name through the quirks-merged table and issues
// SetControl.
func (s *Session) SetControlByName(name string, payload []byte) error {
	key, ok := s.names[name]
	if !ok {
		return fmt.Errorf("uvc: unknown control name %q", name)
	}
	return s.SetControl(key.unitID, key.selector, payload)
}

func (s *Session) findUnit(unitID uint8) VCUnit {
	return s.vc.Unit(unitID)
}

// Stats returns a snapshot of this Session's accumulated counters.
func (s *Session) Stats() Stats {
	return s.stats
}

// Close implements spec §5's shutdown ordering: stop the active stream (if
// any), release the claimed interfaces, then reattach/reset via the guard.
func (s *Session) Close() error {
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}
	s.handle.ReleaseInterface(s.vc.Number)
	guardErr := s.guard.Release()
	closeErr := s.handle.Close()
	if guardErr != nil {
		return guardErr
	}
	return closeErr
}

// StreamHandle is the lazy-sequence consumer entry point from spec §2: call
// NextFrame repeatedly to drain reassembled, codec-normalised frames.
type StreamHandle struct {
	session        *Session
	vs             *VSInterface
	altSetting     uint8
	scheduler      *scheduler
	reassembler    *reassembler
	normaliser     *bitstreamNormaliser
	frames         chan *CompletedFrame
	dropOnOverflow bool
	fatal          error
	closed         bool
}

// onPacket is the iso scheduler's single-consumer callback: it feeds the
// reassembler and, on a completed frame, normalises it (if H.264/H.265) and
// enqueues it for NextFrame.
func (h *StreamHandle) onPacket(buf []byte) {
	frame, err := h.reassembler.Feed(buf)
	if err != nil || frame == nil {
		return
	}
	if h.normaliser != nil {
		h.normaliser.Normalise(frame)
		if frame.Payload == nil {
			return
		}
	}
	select {
	case h.frames <- frame:
	default:
		if h.dropOnOverflow {
			select {
			case <-h.frames:
				h.session.stats.DroppedFrames++
			default:
			}
			select {
			case h.frames <- frame:
			default:
				h.session.stats.DroppedFrames++
			}
			return
		}
		h.frames <- frame
	}
}

func (h *StreamHandle) onFatal(err error) {
	h.fatal = err
}

// onPacketError is the scheduler's callback for a non-OK iso packet status:
// per spec §4.4 it marks the in-progress frame errored and lets the stream
// continue rather than silently dropping the packet.
func (h *StreamHandle) onPacketError() {
	h.reassembler.MarkErrored()
}

// NextFrame blocks until a frame is available, ctx is done, or the handle is
// closed. Once the handle is closed and its queue drained, it returns the
// fatal error the scheduler recorded, if any, and ErrStopped otherwise. A
// fatal error recorded while the handle is still open does not wake a
// waiting NextFrame.
func (h *StreamHandle) NextFrame(ctx context.Context) (*CompletedFrame, error) {
	select {
	case f, ok := <-h.frames:
		if !ok {
			if h.fatal != nil {
				return nil, h.fatal
			}
			return nil, ErrStopped
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the scheduler, releases the VS interface's bandwidth, and
// resets the device if a kernel driver was detached for it (spec §4.4/§5).
func (h *StreamHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	err := h.scheduler.stop(h.vs.Number, h.session.guard.detached)
	h.session.handle.ReleaseInterface(h.vs.Number)
	close(h.frames)
	h.session.stream = nil
	return err
}
