package uvc

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	usb "github.com/corevid/uvccore"
)

// Descriptors is the immutable, typed model produced by ParseConfig: the
// single Video Control interface plus every Video Streaming interface found
// in a device's active configuration.
type Descriptors struct {
	VC *VCInterface
	VS []*VSInterface
}

// VSInterfaceByNumber finds a parsed VS interface by its bInterfaceNumber.
func (d *Descriptors) VSInterfaceByNumber(n int) *VSInterface {
	if n < 0 {
		if len(d.VS) > 0 {
			return d.VS[0]
		}
		return nil
	}
	for _, vs := range d.VS {
		if int(vs.Number) == n {
			return vs
		}
	}
	return nil
}

// ParseConfig walks a device's parsed USB configuration descriptor and
// builds the Video Control/Video Streaming model. This mirrors config.go's
// ConfigDescriptor.Unmarshal linear walk (bLength/bDescriptorType), but
// operates over each interface's already-isolated "Extra" class-specific
// bytes and additionally dispatches on bDescriptorSubtype.
func ParseConfig(cfg *usb.ConfigDescriptor) (*Descriptors, error) {
	d := &Descriptors{}

	for i := range cfg.Interfaces {
		iface := &cfg.Interfaces[i]
		if len(iface.AltSettings) == 0 {
			continue
		}
		first := iface.AltSettings[0]

		switch {
		case first.InterfaceClass == ccVideo && first.InterfaceSubClass == scVideoControl:
			vc, err := parseVCInterface(&first)
			if err != nil {
				return nil, err
			}
			d.VC = vc

		case first.InterfaceClass == ccVideo && first.InterfaceSubClass == scVideoStreaming:
			vs, err := parseVSInterface(iface)
			if err != nil {
				return nil, err
			}
			d.VS = append(d.VS, vs)
		}
	}

	return d, nil
}

func parseVCInterface(alt *usb.InterfaceAltSetting) (*VCInterface, error) {
	vc := &VCInterface{
		Number:    alt.InterfaceNumber,
		unitIndex: make(map[uint8]VCUnit),
	}

	data := alt.Extra
	pos := 0
	for pos < len(data) {
		if pos+2 > len(data) {
			return nil, &DescriptorError{Offset: pos, Reason: "truncated descriptor header"}
		}

		length := int(data[pos])
		descType := data[pos+1]

		if length < 2 {
			return nil, &DescriptorError{Offset: pos, Reason: "bLength < 2"}
		}
		if pos+length > len(data) {
			return nil, &DescriptorError{Offset: pos, Reason: "descriptor overruns interface extra bytes"}
		}

		if descType != csInterface {
			pos += length
			continue
		}
		if length < 3 {
			return nil, &DescriptorError{Offset: pos, Reason: "class-specific descriptor too short for subtype"}
		}

		subtype := data[pos+2]
		body := data[pos : pos+length]

		switch subtype {
		case vcHeader:
			if len(body) >= 12 {
				vc.BcdUVC = binary.LittleEndian.Uint16(body[3:5])
				vc.ClockFrequency = binary.LittleEndian.Uint32(body[7:11])
			}

		case vcInputTerminal:
			unit, err := parseInputTerminal(body, pos)
			if err != nil {
				return nil, err
			}
			if unit != nil {
				vc.Units = append(vc.Units, unit)
				vc.unitIndex[unit.UnitID()] = unit
			}

		case vcOutputTerminal:
			if len(body) < 9 {
				return nil, &DescriptorError{Offset: pos, Reason: "output terminal descriptor too short"}
			}
			unit := &OutputTerminal{
				unitBase:           unitBase{id: body[3], offset: pos},
				TerminalType:       binary.LittleEndian.Uint16(body[4:6]),
				AssociatedTerminal: body[6],
				SourceID:           body[7],
			}
			vc.Units = append(vc.Units, unit)
			vc.unitIndex[unit.UnitID()] = unit

		case vcSelectorUnit:
			if len(body) < 5 {
				return nil, &DescriptorError{Offset: pos, Reason: "selector unit descriptor too short"}
			}
			numPins := int(body[4])
			if len(body) < 5+numPins {
				return nil, &DescriptorError{Offset: pos, Reason: "selector unit pin list truncated"}
			}
			unit := &SelectorUnit{
				unitBase:  unitBase{id: body[3], offset: pos},
				SourceIDs: append([]uint8(nil), body[5:5+numPins]...),
			}
			vc.Units = append(vc.Units, unit)
			vc.unitIndex[unit.UnitID()] = unit

		case vcProcessingUnit:
			unit, err := parseProcessingUnit(body, pos)
			if err != nil {
				return nil, err
			}
			vc.Units = append(vc.Units, unit)
			vc.unitIndex[unit.UnitID()] = unit

		case vcExtensionUnit:
			unit, err := parseExtensionUnit(body, pos)
			if err != nil {
				return nil, err
			}
			vc.Units = append(vc.Units, unit)
			vc.unitIndex[unit.UnitID()] = unit

		default:
			// Unknown but well-formed: skip, length already validated above.
		}

		pos += length
	}

	return vc, nil
}

func parseInputTerminal(body []byte, offset int) (VCUnit, error) {
	if len(body) < 8 {
		return nil, &DescriptorError{Offset: offset, Reason: "input terminal descriptor too short"}
	}
	terminalType := binary.LittleEndian.Uint16(body[4:6])

	if terminalType != ittCamera {
		// A non-camera input terminal (media transport, vendor-specific);
		// model it the same as an output terminal's shape since it carries
		// no control bitmap of its own.
		return &OutputTerminal{
			unitBase:     unitBase{id: body[3], offset: offset},
			TerminalType: terminalType,
		}, nil
	}

	if len(body) < 15 {
		return nil, &DescriptorError{Offset: offset, Reason: "camera terminal descriptor too short"}
	}
	controlSize := int(body[14])
	if len(body) < 15+controlSize {
		return nil, &DescriptorError{Offset: offset, Reason: "camera terminal control bitmap truncated"}
	}

	ct := &CameraTerminal{
		unitBase:             unitBase{id: body[3], offset: offset, controls: bitmapToUint64(body[15 : 15+controlSize])},
		TerminalType:         terminalType,
		AssociatedTerminal:   body[6],
		ObjectiveFocalLenMin: binary.LittleEndian.Uint16(body[8:10]),
		ObjectiveFocalLenMax: binary.LittleEndian.Uint16(body[10:12]),
		OcularFocalLength:    binary.LittleEndian.Uint16(body[12:14]),
	}
	return ct, nil
}

func parseProcessingUnit(body []byte, offset int) (*ProcessingUnit, error) {
	if len(body) < 8 {
		return nil, &DescriptorError{Offset: offset, Reason: "processing unit descriptor too short"}
	}
	controlSize := int(body[7])
	if len(body) < 8+controlSize {
		return nil, &DescriptorError{Offset: offset, Reason: "processing unit control bitmap truncated"}
	}
	var maxMult uint16
	if len(body) >= 8+controlSize+1 {
		maxMult = binary.LittleEndian.Uint16(body[5:7])
	}
	return &ProcessingUnit{
		unitBase:      unitBase{id: body[3], offset: offset, controls: bitmapToUint64(body[8 : 8+controlSize])},
		SourceID:      body[4],
		MaxMultiplier: maxMult,
	}, nil
}

func parseExtensionUnit(body []byte, offset int) (*ExtensionUnit, error) {
	if len(body) < 22 {
		return nil, &DescriptorError{Offset: offset, Reason: "extension unit descriptor too short"}
	}
	guid, err := guidFromUSBBytes(body[4:20])
	if err != nil {
		return nil, &DescriptorError{Offset: offset, Reason: fmt.Sprintf("malformed extension unit GUID: %v", err)}
	}
	numPins := int(body[21])
	pinsEnd := 22 + numPins
	if len(body) < pinsEnd+1 {
		return nil, &DescriptorError{Offset: offset, Reason: "extension unit pin list truncated"}
	}
	controlSize := int(body[pinsEnd])
	bitmapStart := pinsEnd + 1
	if len(body) < bitmapStart+controlSize {
		return nil, &DescriptorError{Offset: offset, Reason: "extension unit control bitmap truncated"}
	}
	return &ExtensionUnit{
		unitBase:     unitBase{id: body[3], offset: offset, controls: bitmapToUint64(body[bitmapStart : bitmapStart+controlSize])},
		GUID:         guid,
		NumInputPins: uint8(numPins),
		SourceIDs:    append([]uint8(nil), body[22:22+numPins]...),
		ControlSize:  uint8(controlSize),
	}, nil
}

func bitmapToUint64(b []byte) uint64 {
	var v uint64
	for i, byteVal := range b {
		if i >= 8 {
			break
		}
		v |= uint64(byteVal) << (8 * i)
	}
	return v
}

// guidFromUSBBytes parses a 16-byte little-endian-mixed GUID as USB
// descriptors encode it (first three fields little-endian, last two
// big-endian) into a standard uuid.UUID.
func guidFromUSBBytes(b []byte) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.UUID{}, fmt.Errorf("guid must be 16 bytes, got %d", len(b))
	}
	var be [16]byte
	be[0], be[1], be[2], be[3] = b[3], b[2], b[1], b[0]
	be[4], be[5] = b[5], b[4]
	be[6], be[7] = b[7], b[6]
	copy(be[8:], b[8:16])
	return uuid.FromBytes(be[:])
}

func parseVSInterface(iface *usb.Interface) (*VSInterface, error) {
	if len(iface.AltSettings) == 0 {
		return nil, &DescriptorError{Reason: "video streaming interface has no alt settings"}
	}
	vs := &VSInterface{Number: iface.AltSettings[0].InterfaceNumber}

	if err := parseVSFormats(&iface.AltSettings[0], vs); err != nil {
		return nil, err
	}

	for _, alt := range iface.AltSettings {
		a := VSAltSetting{AltSetting: alt.AlternateSetting}
		for ei := range alt.Endpoints {
			ep := &alt.Endpoints[ei]
			switch usb.TransferType(ep.Attributes & 0x03) {
			case usb.TransferTypeIsochronous:
				a.IsoEndpoint = ep
				a.MaxPacketSize = effectiveMaxPacketSize(ep)
			case usb.TransferTypeBulk:
				a.BulkEndpoint = ep
			}
		}
		vs.AltSettings = append(vs.AltSettings, a)
	}

	return vs, nil
}

// effectiveMaxPacketSize folds in the high-bandwidth multiplier (USB 2.0,
// bits 11:12 of wMaxPacketSize) or the SuperSpeed companion descriptor's
// MaxBurst+1 multiplier (decision recorded in DESIGN.md / SPEC_FULL §3.2.3).
func effectiveMaxPacketSize(ep *usb.Endpoint) uint32 {
	if ep.SSCompanion != nil {
		return uint32(ep.MaxPacketSize) * (uint32(ep.SSCompanion.MaxBurst) + 1)
	}
	base := uint32(ep.MaxPacketSize) & 0x7FF
	mult := ((uint32(ep.MaxPacketSize) >> 11) & 0x3) + 1
	return base * mult
}

func parseVSFormats(alt *usb.InterfaceAltSetting, vs *VSInterface) error {
	data := alt.Extra
	pos := 0
	var current *StreamFormat

	for pos < len(data) {
		if pos+2 > len(data) {
			return &DescriptorError{Offset: pos, Reason: "truncated descriptor header"}
		}
		length := int(data[pos])
		descType := data[pos+1]
		if length < 2 {
			return &DescriptorError{Offset: pos, Reason: "bLength < 2"}
		}
		if pos+length > len(data) {
			return &DescriptorError{Offset: pos, Reason: "descriptor overruns interface extra bytes"}
		}
		if descType != csInterface {
			pos += length
			continue
		}
		if length < 3 {
			return &DescriptorError{Offset: pos, Reason: "class-specific descriptor too short for subtype"}
		}

		subtype := data[pos+2]
		body := data[pos : pos+length]

		switch subtype {
		case vsFormatUncompressed:
			f, err := parseFormatUncompressed(body, pos)
			if err != nil {
				return err
			}
			vs.Formats = append(vs.Formats, f)
			current = f

		case vsFormatMJPEG:
			f, err := parseFormatMJPEG(body, pos)
			if err != nil {
				return err
			}
			vs.Formats = append(vs.Formats, f)
			current = f

		case vsFormatFrameBased:
			f, err := parseFormatFrameBased(body, pos)
			if err != nil {
				return err
			}
			vs.Formats = append(vs.Formats, f)
			current = f

		case vsFrameUncompressed, vsFrameMJPEG, vsFrameFrameBased:
			if current == nil {
				return &DescriptorError{Offset: pos, Reason: "frame descriptor with no preceding format descriptor"}
			}
			fi, err := parseFrameDescriptor(body, pos)
			if err != nil {
				return err
			}
			current.Frames = append(current.Frames, fi)

		case vsStillImageFrame:
			if current == nil {
				break
			}
			current.Still = parseStillImageFrame(body)

		case vsColorFormat:
			if current == nil {
				break
			}
			if len(body) >= 6 {
				current.Color = &ColorFormat{
					ColorPrimaries:          body[3],
					TransferCharacteristics: body[4],
					MatrixCoefficients:      body[5],
				}
			}

		default:
			// vsInputHeader/vsOutputHeader and any unrecognised-but-well-formed
			// subtype are skipped.
		}

		pos += length
	}

	if err := validateFormatIndices(vs.Formats); err != nil {
		return err
	}

	return nil
}

func validateFormatIndices(formats []*StreamFormat) error {
	for i, f := range formats {
		if int(f.FormatIndex) != i+1 {
			return &DescriptorError{
				Offset: 0,
				Reason: fmt.Sprintf("format index %d is not the 1-based position %d", f.FormatIndex, i+1),
			}
		}
	}
	return nil
}

func parseFormatUncompressed(body []byte, offset int) (*StreamFormat, error) {
	if len(body) < 27 {
		return nil, &DescriptorError{Offset: offset, Reason: "uncompressed format descriptor too short"}
	}
	guid, err := guidFromUSBBytes(body[5:21])
	if err != nil {
		return nil, &DescriptorError{Offset: offset, Reason: fmt.Sprintf("malformed format GUID: %v", err)}
	}
	return &StreamFormat{
		FormatIndex:  body[3],
		GUID:         guid,
		FourCC:       fourCCFromGUID(guid),
		BitsPerPixel: body[21],
		subtype:      vsFormatUncompressed,
	}, nil
}

func parseFormatMJPEG(body []byte, offset int) (*StreamFormat, error) {
	if len(body) < 5 {
		return nil, &DescriptorError{Offset: offset, Reason: "MJPEG format descriptor too short"}
	}
	return &StreamFormat{
		FormatIndex:  body[3],
		FourCC:       "MJPG",
		BitsPerPixel: 0,
		subtype:      vsFormatMJPEG,
	}, nil
}

func parseFormatFrameBased(body []byte, offset int) (*StreamFormat, error) {
	if len(body) < 26 {
		return nil, &DescriptorError{Offset: offset, Reason: "frame-based format descriptor too short"}
	}
	guid, err := guidFromUSBBytes(body[10:26])
	if err != nil {
		return nil, &DescriptorError{Offset: offset, Reason: fmt.Sprintf("malformed format GUID: %v", err)}
	}
	return &StreamFormat{
		FormatIndex:  body[3],
		GUID:         guid,
		FourCC:       fourCCFromGUID(guid),
		BitsPerPixel: body[5],
		subtype:      vsFormatFrameBased,
	}, nil
}

// fourCCFromGUID extracts the fourcc embedded in the first 4 bytes of a UVC
// format GUID, canonicalised by trimming trailing spaces (case preserved),
// per spec §4.1.
func fourCCFromGUID(g uuid.UUID) string {
	raw := g[:4]
	// guid.UUID stores RFC4122 big-endian order; the fourcc occupies the
	// first field as the device sent it, which guidFromUSBBytes reconstructed
	// from body[0:4] reversed into be[0:4]. Undo that reversal to recover the
	// original ASCII byte order.
	fourcc := []byte{raw[3], raw[2], raw[1], raw[0]}
	end := len(fourcc)
	for end > 0 && fourcc[end-1] == ' ' {
		end--
	}
	return string(fourcc[:end])
}

// parseFrameDescriptor parses a VS_FRAME_* descriptor. Uncompressed, MJPEG
// and frame-based frame descriptors all share this layout from bFrameIndex
// through bFrameIntervalType and the variable interval tail that follows it.
func parseFrameDescriptor(body []byte, offset int) (*FrameInfo, error) {
	if len(body) < 26 {
		return nil, &DescriptorError{Offset: offset, Reason: "frame descriptor too short"}
	}

	fi := &FrameInfo{
		FrameIndex:     body[3],
		StillSupported: body[4]&0x01 != 0,
		Width:          binary.LittleEndian.Uint16(body[5:7]),
		Height:         binary.LittleEndian.Uint16(body[7:9]),
		MinBitRate:     binary.LittleEndian.Uint32(body[9:13]),
		MaxBitRate:     binary.LittleEndian.Uint32(body[13:17]),
	}

	fi.MaxVideoFrameBufferSize = binary.LittleEndian.Uint32(body[17:21])
	fi.DefaultFrameInterval = binary.LittleEndian.Uint32(body[21:25])
	frameIntervalTypeOffset := 25

	if len(body) <= frameIntervalTypeOffset {
		return fi, nil
	}
	frameIntervalType := int(body[frameIntervalTypeOffset])
	pos := frameIntervalTypeOffset + 1

	if frameIntervalType == 0 {
		if len(body) < pos+12 {
			return fi, nil
		}
		fi.MinFrameInterval = binary.LittleEndian.Uint32(body[pos : pos+4])
		fi.MaxFrameInterval = binary.LittleEndian.Uint32(body[pos+4 : pos+8])
		fi.FrameIntervalStep = binary.LittleEndian.Uint32(body[pos+8 : pos+12])
	} else {
		for i := 0; i < frameIntervalType; i++ {
			start := pos + i*4
			if len(body) < start+4 {
				break
			}
			fi.Intervals = append(fi.Intervals, binary.LittleEndian.Uint32(body[start:start+4]))
		}
	}

	return fi, nil
}

func parseStillImageFrame(body []byte) *StillImageFrame {
	if len(body) < 5 {
		return nil
	}
	numImageSizes := int(body[4])
	s := &StillImageFrame{}
	pos := 5
	for i := 0; i < numImageSizes && pos+4 <= len(body); i++ {
		s.Dimensions = append(s.Dimensions, StillDimension{
			Width:  binary.LittleEndian.Uint16(body[pos : pos+2]),
			Height: binary.LittleEndian.Uint16(body[pos+2 : pos+4]),
		})
		pos += 4
	}
	if pos < len(body) {
		numCompressions := int(body[pos])
		pos++
		for i := 0; i < numCompressions && pos < len(body); i++ {
			s.Compressions = append(s.Compressions, body[pos])
			pos++
		}
	}
	return s
}
