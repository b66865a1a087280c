package uvc

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"

	usb "github.com/corevid/uvccore"
)

func TestBitmapToUint64(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want uint64
	}{
		{"empty", nil, 0},
		{"single byte", []byte{0x05}, 0x05},
		{"little endian across bytes", []byte{0x01, 0x02}, 0x0201},
		{"exactly 8 bytes", []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0x0807060504030201},
		{"beyond 8 bytes truncated", []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 9}, 0x0807060504030201},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bitmapToUint64(tt.in); got != tt.want {
				t.Errorf("bitmapToUint64(%v) = 0x%x, want 0x%x", tt.in, got, tt.want)
			}
		})
	}
}

func TestGuidFromUSBBytesRoundTrip(t *testing.T) {
	u := uuid.UUID{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

	// USB descriptors store the first three fields little-endian; rebuild
	// the wire bytes from u the same way a device would have sent them.
	b := make([]byte, 16)
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
	copy(b[8:], u[8:16])

	got, err := guidFromUSBBytes(b)
	if err != nil {
		t.Fatalf("guidFromUSBBytes: %v", err)
	}
	if got != u {
		t.Errorf("got %v, want %v", got, u)
	}
}

func TestGuidFromUSBBytesWrongLength(t *testing.T) {
	if _, err := guidFromUSBBytes([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a non-16-byte input")
	}
}

func TestFourCCFromGUID(t *testing.T) {
	tests := []struct {
		name string
		g    uuid.UUID
		want string
	}{
		{"no trailing spaces", uuid.UUID{'2', '1', 'V', 'N'}, "NV12"},
		{"trailing spaces trimmed", uuid.UUID{' ', ' ', 'U', 'Y'}, "YU"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fourCCFromGUID(tt.g); got != tt.want {
				t.Errorf("fourCCFromGUID(%v) = %q, want %q", tt.g, got, tt.want)
			}
		})
	}
}

func TestEffectiveMaxPacketSizeBaseOnly(t *testing.T) {
	ep := &usb.Endpoint{MaxPacketSize: 512}
	if got := effectiveMaxPacketSize(ep); got != 512 {
		t.Errorf("got %d, want 512", got)
	}
}

func TestEffectiveMaxPacketSizeHighBandwidthMultiplier(t *testing.T) {
	// 1024-byte base packet with a x3 high-bandwidth multiplier encoded in
	// bits 11:12 (value 2, meaning 3 transactions per microframe).
	ep := &usb.Endpoint{MaxPacketSize: 1024 | (2 << 11)}
	if got := effectiveMaxPacketSize(ep); got != 3072 {
		t.Errorf("got %d, want 3072", got)
	}
}

func TestEffectiveMaxPacketSizeSSCompanionOverridesMultiplier(t *testing.T) {
	ep := &usb.Endpoint{
		MaxPacketSize: 1024,
		SSCompanion:   &usb.SuperSpeedEndpointCompanionDescriptor{MaxBurst: 3},
	}
	if got := effectiveMaxPacketSize(ep); got != 4096 {
		t.Errorf("got %d, want 4096 (1024 * (MaxBurst+1))", got)
	}
}

func TestValidateFormatIndicesSequential(t *testing.T) {
	formats := []*StreamFormat{{FormatIndex: 1}, {FormatIndex: 2}, {FormatIndex: 3}}
	if err := validateFormatIndices(formats); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateFormatIndicesGapReturnsError(t *testing.T) {
	formats := []*StreamFormat{{FormatIndex: 1}, {FormatIndex: 3}}
	if err := validateFormatIndices(formats); err == nil {
		t.Fatal("expected an error for a non-contiguous format index")
	}
}

func frameBody(frameIndex uint8, stillSupported bool, width, height uint16, minBitRate, maxBitRate, maxBufSize, defaultInterval uint32, tail ...uint32) []byte {
	body := make([]byte, 26)
	body[0] = byte(len(body))
	body[1] = csInterface
	body[2] = vsFrameUncompressed
	body[3] = frameIndex
	if stillSupported {
		body[4] = 0x01
	}
	binary.LittleEndian.PutUint16(body[5:7], width)
	binary.LittleEndian.PutUint16(body[7:9], height)
	binary.LittleEndian.PutUint32(body[9:13], minBitRate)
	binary.LittleEndian.PutUint32(body[13:17], maxBitRate)
	binary.LittleEndian.PutUint32(body[17:21], maxBufSize)
	binary.LittleEndian.PutUint32(body[21:25], defaultInterval)
	if tail == nil {
		return body
	}
	body[25] = byte(len(tail)) // bFrameIntervalType
	for _, v := range tail {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		body = append(body, b...)
	}
	body[0] = byte(len(body))
	return body
}

func TestParseFrameDescriptorContinuousTypeWithoutRange(t *testing.T) {
	body := frameBody(1, true, 640, 480, 1000, 2000, 614400, 333333)
	fi, err := parseFrameDescriptor(body, 0)
	if err != nil {
		t.Fatalf("parseFrameDescriptor: %v", err)
	}
	if fi.Width != 640 || fi.Height != 480 || !fi.StillSupported {
		t.Errorf("unexpected frame info: %+v", fi)
	}
	if fi.MinFrameInterval != 0 || len(fi.Intervals) != 0 {
		t.Errorf("expected no interval data when the continuous range is missing, got %+v", fi)
	}
}

func TestParseFrameDescriptorContinuousInterval(t *testing.T) {
	body := frameBody(1, false, 1280, 720, 0, 0, 0, 333333)
	body[25] = 0 // bFrameIntervalType = 0 (continuous)
	cont := make([]byte, 12)
	binary.LittleEndian.PutUint32(cont[0:4], 166666)
	binary.LittleEndian.PutUint32(cont[4:8], 666666)
	binary.LittleEndian.PutUint32(cont[8:12], 1000)
	body = append(body, cont...)
	body[0] = byte(len(body))

	fi, err := parseFrameDescriptor(body, 0)
	if err != nil {
		t.Fatalf("parseFrameDescriptor: %v", err)
	}
	if fi.MinFrameInterval != 166666 || fi.MaxFrameInterval != 666666 || fi.FrameIntervalStep != 1000 {
		t.Errorf("unexpected continuous interval fields: %+v", fi)
	}
	if len(fi.Intervals) != 0 {
		t.Errorf("expected no discrete intervals, got %v", fi.Intervals)
	}
}

func TestParseFrameDescriptorDiscreteIntervals(t *testing.T) {
	body := frameBody(2, false, 640, 480, 0, 0, 0, 333333, 333333, 666666, 1000000)

	fi, err := parseFrameDescriptor(body, 0)
	if err != nil {
		t.Fatalf("parseFrameDescriptor: %v", err)
	}
	want := []uint32{333333, 666666, 1000000}
	if len(fi.Intervals) != len(want) {
		t.Fatalf("got %d intervals, want %d", len(fi.Intervals), len(want))
	}
	for i, v := range want {
		if fi.Intervals[i] != v {
			t.Errorf("Intervals[%d] = %d, want %d", i, fi.Intervals[i], v)
		}
	}
}

func TestParseFrameDescriptorTooShortReturnsError(t *testing.T) {
	if _, err := parseFrameDescriptor(make([]byte, 10), 0); err == nil {
		t.Fatal("expected an error for a too-short frame descriptor")
	}
}

func TestParseFormatMJPEG(t *testing.T) {
	body := []byte{5, csInterface, vsFormatMJPEG, 1, 2}
	f, err := parseFormatMJPEG(body, 0)
	if err != nil {
		t.Fatalf("parseFormatMJPEG: %v", err)
	}
	if f.FormatIndex != 1 || f.FourCC != "MJPG" {
		t.Errorf("unexpected format: %+v", f)
	}
}

func TestParseFormatUncompressed(t *testing.T) {
	body := make([]byte, 27)
	body[0] = 27
	body[1] = csInterface
	body[2] = vsFormatUncompressed
	body[3] = 1
	// GUID wire bytes for fourcc "YUY2" followed by the fixed UVC format suffix.
	// guidFromUSBBytes and fourCCFromGUID each reverse the first 4 bytes, so
	// the two reversals cancel and the fourcc lands in wire order here.
	body[4] = 0 // bNumFrameDescriptors, unused by this parser
	copy(body[5:21], []byte{'Y', 'U', 'Y', '2', 0, 0, 0x10, 0, 0x80, 0, 0, 0xAA, 0, 0x38, 0x9B, 0x71})
	body[21] = 16 // bBitsPerPixel

	f, err := parseFormatUncompressed(body, 0)
	if err != nil {
		t.Fatalf("parseFormatUncompressed: %v", err)
	}
	if f.FourCC != "YUY2" {
		t.Errorf("FourCC = %q, want YUY2", f.FourCC)
	}
	if f.BitsPerPixel != 16 {
		t.Errorf("BitsPerPixel = %d, want 16", f.BitsPerPixel)
	}
}

func TestParseStillImageFrame(t *testing.T) {
	body := []byte{0, 0, 0, 0, 2}
	body = append(body, 0x80, 0x02, 0xE0, 0x01) // 640x480
	body = append(body, 0x00, 0x05, 0x00, 0x04) // 1280x1024
	body = append(body, 1, byte(vsFormatMJPEG))

	s := parseStillImageFrame(body)
	if s == nil {
		t.Fatal("expected a non-nil still image frame")
	}
	if len(s.Dimensions) != 2 {
		t.Fatalf("got %d dimensions, want 2", len(s.Dimensions))
	}
	if s.Dimensions[0].Width != 640 || s.Dimensions[0].Height != 480 {
		t.Errorf("unexpected first dimension: %+v", s.Dimensions[0])
	}
	if len(s.Compressions) != 1 || s.Compressions[0] != byte(vsFormatMJPEG) {
		t.Errorf("unexpected compressions: %v", s.Compressions)
	}
}

func TestParseStillImageFrameTooShortReturnsNil(t *testing.T) {
	if got := parseStillImageFrame([]byte{1, 2}); got != nil {
		t.Errorf("expected nil for a too-short still image frame descriptor, got %+v", got)
	}
}

func headerDescriptor(bcdUVC uint16, clockFreq uint32) []byte {
	body := make([]byte, 12)
	body[0] = 12
	body[1] = csInterface
	body[2] = vcHeader
	binary.LittleEndian.PutUint16(body[3:5], bcdUVC)
	binary.LittleEndian.PutUint32(body[7:11], clockFreq)
	return body
}

func cameraTerminalDescriptor(unitID uint8, bitmap []byte) []byte {
	body := make([]byte, 15+len(bitmap))
	body[0] = byte(len(body))
	body[1] = csInterface
	body[2] = vcInputTerminal
	body[3] = unitID
	binary.LittleEndian.PutUint16(body[4:6], ittCamera)
	body[6] = 0 // AssociatedTerminal
	binary.LittleEndian.PutUint16(body[8:10], 100)  // ObjectiveFocalLenMin
	binary.LittleEndian.PutUint16(body[10:12], 200) // ObjectiveFocalLenMax
	binary.LittleEndian.PutUint16(body[12:14], 50)  // OcularFocalLength
	body[14] = byte(len(bitmap))
	copy(body[15:], bitmap)
	return body
}

func outputTerminalDescriptor(unitID, sourceID uint8) []byte {
	return []byte{9, csInterface, vcOutputTerminal, unitID, 0x01, 0x01, 0, sourceID, 0}
}

func processingUnitDescriptor(unitID, sourceID uint8, maxMult uint16, bitmap []byte) []byte {
	body := make([]byte, 8+len(bitmap)+1)
	body[0] = byte(len(body))
	body[1] = csInterface
	body[2] = vcProcessingUnit
	body[3] = unitID
	body[4] = sourceID
	binary.LittleEndian.PutUint16(body[5:7], maxMult)
	body[7] = byte(len(bitmap))
	copy(body[8:], bitmap)
	return body
}

func extensionUnitDescriptor(unitID uint8, guidBytes [16]byte, sourceIDs []uint8, bitmap []byte) []byte {
	numPins := len(sourceIDs)
	pinsEnd := 22 + numPins
	length := pinsEnd + 1 + len(bitmap)
	body := make([]byte, length)
	body[0] = byte(length)
	body[1] = csInterface
	body[2] = vcExtensionUnit
	body[3] = unitID
	copy(body[4:20], guidBytes[:])
	body[20] = 0 // bNumControls, unused by the parser
	body[21] = byte(numPins)
	copy(body[22:22+numPins], sourceIDs)
	body[pinsEnd] = byte(len(bitmap))
	copy(body[pinsEnd+1:], bitmap)
	return body
}

func TestParseVCInterfaceBuildsHeaderAndUnits(t *testing.T) {
	var data []byte
	data = append(data, headerDescriptor(0x0110, 48000000)...)
	data = append(data, cameraTerminalDescriptor(1, []byte{0x01, 0x00})...)
	data = append(data, outputTerminalDescriptor(2, 1)...)
	data = append(data, processingUnitDescriptor(3, 1, 8, []byte{0xFF, 0x00})...)
	data = append(data, extensionUnitDescriptor(4, [16]byte{}, []uint8{3}, []byte{0x03, 0x00})...)
	// A well-formed but unrecognised subtype should be skipped, not rejected.
	data = append(data, []byte{4, csInterface, 0x7F, 0x00}...)

	alt := &usb.InterfaceAltSetting{InterfaceNumber: 0, Extra: data}
	vc, err := parseVCInterface(alt)
	if err != nil {
		t.Fatalf("parseVCInterface: %v", err)
	}
	if vc.BcdUVC != 0x0110 || vc.ClockFrequency != 48000000 {
		t.Errorf("header fields: bcdUVC=0x%04x clockFreq=%d", vc.BcdUVC, vc.ClockFrequency)
	}
	if len(vc.Units) != 4 {
		t.Fatalf("got %d units, want 4", len(vc.Units))
	}

	ct, ok := vc.Unit(1).(*CameraTerminal)
	if !ok {
		t.Fatalf("unit 1 is %T, want *CameraTerminal", vc.Unit(1))
	}
	if ct.ControlBitmap() != 0x0001 {
		t.Errorf("camera terminal bitmap = 0x%x, want 0x0001", ct.ControlBitmap())
	}

	ot, ok := vc.Unit(2).(*OutputTerminal)
	if !ok || ot.SourceID != 1 {
		t.Fatalf("unit 2 unexpected: %+v", vc.Unit(2))
	}

	pu, ok := vc.Unit(3).(*ProcessingUnit)
	if !ok || pu.SourceID != 1 || pu.MaxMultiplier != 8 {
		t.Fatalf("unit 3 unexpected: %+v", vc.Unit(3))
	}

	xu, ok := vc.Unit(4).(*ExtensionUnit)
	if !ok || xu.NumInputPins != 1 || xu.SourceIDs[0] != 3 {
		t.Fatalf("unit 4 unexpected: %+v", vc.Unit(4))
	}
}

func TestParseVCInterfaceTruncatedHeaderReturnsError(t *testing.T) {
	alt := &usb.InterfaceAltSetting{Extra: []byte{12, csInterface, vcHeader, 0, 0}}
	if _, err := parseVCInterface(alt); err == nil {
		t.Fatal("expected an error for a descriptor whose bLength overruns the buffer")
	}
}

func TestParseVCInterfaceNonCameraInputTerminalSkipsControlBitmap(t *testing.T) {
	body := []byte{8, csInterface, vcInputTerminal, 5, 0x02, 0x02, 0, 0}
	alt := &usb.InterfaceAltSetting{Extra: body}
	vc, err := parseVCInterface(alt)
	if err != nil {
		t.Fatalf("parseVCInterface: %v", err)
	}
	ot, ok := vc.Unit(5).(*OutputTerminal)
	if !ok {
		t.Fatalf("expected a non-camera input terminal to parse as *OutputTerminal, got %T", vc.Unit(5))
	}
	if ot.TerminalType != ittMediaTransportInput {
		t.Errorf("TerminalType = 0x%04x, want 0x%04x", ot.TerminalType, ittMediaTransportInput)
	}
}

func TestParseVSInterfaceParsesAltSettingsAndAssignsEndpoints(t *testing.T) {
	formatBody := []byte{5, csInterface, vsFormatMJPEG, 1, 1}
	frame := frameBody(1, false, 640, 480, 0, 0, 0, 333333)

	alt0 := usb.InterfaceAltSetting{
		InterfaceNumber:  1,
		AlternateSetting: 0,
		Extra:            append(append([]byte{}, formatBody...), frame...),
	}
	isoEP := usb.Endpoint{Attributes: byte(usb.TransferTypeIsochronous), MaxPacketSize: 1024}
	alt1 := usb.InterfaceAltSetting{
		InterfaceNumber:  1,
		AlternateSetting: 1,
		Endpoints:        []usb.Endpoint{isoEP},
	}

	iface := &usb.Interface{AltSettings: []usb.InterfaceAltSetting{alt0, alt1}}
	vs, err := parseVSInterface(iface)
	if err != nil {
		t.Fatalf("parseVSInterface: %v", err)
	}
	if vs.Number != 1 {
		t.Errorf("Number = %d, want 1", vs.Number)
	}
	if len(vs.Formats) != 1 || vs.Formats[0].FourCC != "MJPG" {
		t.Fatalf("unexpected formats: %+v", vs.Formats)
	}
	if len(vs.Formats[0].Frames) != 1 || vs.Formats[0].Frames[0].Width != 640 {
		t.Fatalf("unexpected frames: %+v", vs.Formats[0].Frames)
	}
	if len(vs.AltSettings) != 2 {
		t.Fatalf("got %d alt settings, want 2", len(vs.AltSettings))
	}
	if vs.AltSettings[1].IsoEndpoint == nil || vs.AltSettings[1].MaxPacketSize != 1024 {
		t.Errorf("expected alt setting 1 to carry the iso endpoint, got %+v", vs.AltSettings[1])
	}
}

func TestVSInterfaceByNumber(t *testing.T) {
	vs1 := &VSInterface{Number: 1}
	vs2 := &VSInterface{Number: 2}
	d := &Descriptors{VS: []*VSInterface{vs1, vs2}}

	if got := d.VSInterfaceByNumber(-1); got != vs1 {
		t.Errorf("negative n should return the first VS interface, got %+v", got)
	}
	if got := d.VSInterfaceByNumber(2); got != vs2 {
		t.Errorf("expected interface 2, got %+v", got)
	}
	if got := d.VSInterfaceByNumber(9); got != nil {
		t.Errorf("expected nil for an unknown interface number, got %+v", got)
	}
}

func TestParseConfigDispatchesVCAndVS(t *testing.T) {
	vcAlt := usb.InterfaceAltSetting{
		InterfaceNumber:   0,
		InterfaceClass:    ccVideo,
		InterfaceSubClass: scVideoControl,
		Extra:             headerDescriptor(0x0100, 6000000),
	}
	vsFormat := []byte{5, csInterface, vsFormatMJPEG, 1, 1}
	vsAlt := usb.InterfaceAltSetting{
		InterfaceNumber:   1,
		InterfaceClass:    ccVideo,
		InterfaceSubClass: scVideoStreaming,
		Extra:             vsFormat,
	}

	cfg := &usb.ConfigDescriptor{Interfaces: []usb.Interface{
		{AltSettings: []usb.InterfaceAltSetting{vcAlt}},
		{AltSettings: []usb.InterfaceAltSetting{vsAlt}},
	}}

	d, err := ParseConfig(cfg)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if d.VC == nil || d.VC.BcdUVC != 0x0100 {
		t.Fatalf("expected a parsed VC interface, got %+v", d.VC)
	}
	if len(d.VS) != 1 || d.VS[0].Formats[0].FourCC != "MJPG" {
		t.Fatalf("expected one parsed VS interface, got %+v", d.VS)
	}
}

func TestParseConfigSkipsInterfacesWithNoAltSettings(t *testing.T) {
	cfg := &usb.ConfigDescriptor{Interfaces: []usb.Interface{{}}}
	d, err := ParseConfig(cfg)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if d.VC != nil || len(d.VS) != 0 {
		t.Errorf("expected an empty result, got %+v", d)
	}
}
