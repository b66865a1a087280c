// Package uvc implements a host-side USB Video Class streaming engine: it
// parses a camera's class-specific descriptors, negotiates a stream via the
// PROBE/COMMIT handshake, schedules isochronous transfers, and reassembles
// the packetised wire data into complete frames.
package uvc

import (
	"time"

	"github.com/google/uuid"

	usb "github.com/corevid/uvccore"
)

// UnitType distinguishes the VCUnit variants a VC interface can contain.
type UnitType uint8

const (
	UnitTypeCameraTerminal UnitType = iota
	UnitTypeOutputTerminal
	UnitTypeProcessingUnit
	UnitTypeSelectorUnit
	UnitTypeExtensionUnit
)

func (t UnitType) String() string {
	switch t {
	case UnitTypeCameraTerminal:
		return "camera_terminal"
	case UnitTypeOutputTerminal:
		return "output_terminal"
	case UnitTypeProcessingUnit:
		return "processing_unit"
	case UnitTypeSelectorUnit:
		return "selector_unit"
	case UnitTypeExtensionUnit:
		return "extension_unit"
	default:
		return "unknown_unit"
	}
}

// VCUnit is implemented by every Video Control unit variant. Fields common
// to all variants (unit ID, descriptor offset, advertised control bitmap)
// live in unitBase and are exposed through this interface so callers can
// operate on a VCInterface's units without a type switch for the common
// case.
type VCUnit interface {
	UnitID() uint8
	Type() UnitType
	Offset() int
	ControlBitmap() uint64
}

type unitBase struct {
	id       uint8
	offset   int
	controls uint64
}

func (u *unitBase) UnitID() uint8         { return u.id }
func (u *unitBase) Offset() int           { return u.offset }
func (u *unitBase) ControlBitmap() uint64 { return u.controls }

// CameraTerminal models a VC_INPUT_TERMINAL whose terminal type is
// ITT_CAMERA; input terminals of any other type are parsed as OutputTerminal.
type CameraTerminal struct {
	unitBase
	TerminalType          uint16
	AssociatedTerminal    uint8
	ObjectiveFocalLenMin  uint16
	ObjectiveFocalLenMax  uint16
	OcularFocalLength     uint16
}

func (*CameraTerminal) Type() UnitType { return UnitTypeCameraTerminal }

// OutputTerminal models a VC_OUTPUT_TERMINAL.
type OutputTerminal struct {
	unitBase
	TerminalType       uint16
	AssociatedTerminal uint8
	SourceID           uint8
}

func (*OutputTerminal) Type() UnitType { return UnitTypeOutputTerminal }

// ProcessingUnit models a VC_PROCESSING_UNIT.
type ProcessingUnit struct {
	unitBase
	SourceID      uint8
	MaxMultiplier uint16
}

func (*ProcessingUnit) Type() UnitType { return UnitTypeProcessingUnit }

// SelectorUnit models a VC_SELECTOR_UNIT.
type SelectorUnit struct {
	unitBase
	SourceIDs []uint8
}

func (*SelectorUnit) Type() UnitType { return UnitTypeSelectorUnit }

// ExtensionUnit models a VC_EXTENSION_UNIT: a vendor-defined unit identified
// by a 16-byte GUID, each of whose selectors may be annotated by a quirks
// entry keyed on that GUID.
type ExtensionUnit struct {
	unitBase
	GUID         uuid.UUID
	NumInputPins uint8
	SourceIDs    []uint8
	ControlSize  uint8

	// Names maps a selector to a human-readable name/type hint merged in
	// from the quirks registry; nil until Session.ApplyQuirks finds a
	// document for this unit's GUID.
	Names map[uint8]ControlAnnotation
}

func (*ExtensionUnit) Type() UnitType { return UnitTypeExtensionUnit }

// ControlAnnotation is the quirks-merged, human-facing description of a
// single control selector.
type ControlAnnotation struct {
	Name          string
	Kind          string // "bool", "range", "enum", "raw"
	Notes         string
	GetInfoExpect *uint8 // nil if the quirks file didn't specify one
}

// VCInterface is one parsed Video Control interface.
type VCInterface struct {
	Number         uint8
	BcdUVC         uint16
	ClockFrequency uint32
	Units          []VCUnit
	unitIndex      map[uint8]VCUnit
}

// Unit looks up a unit by ID using the dense index built at parse time.
func (v *VCInterface) Unit(id uint8) VCUnit {
	if v.unitIndex == nil {
		return nil
	}
	return v.unitIndex[id]
}

// VSAltSetting is one alternate setting of a Video Streaming interface.
type VSAltSetting struct {
	AltSetting    uint8
	IsoEndpoint   *usb.Endpoint
	BulkEndpoint  *usb.Endpoint
	MaxPacketSize uint32 // wMaxPacketSize with the HS/SS multiplier folded in
}

// VSInterface is one parsed Video Streaming interface.
type VSInterface struct {
	Number      uint8
	Formats     []*StreamFormat
	AltSettings []VSAltSetting
}

// StreamFormat describes one codec offered by a VSInterface.
type StreamFormat struct {
	FormatIndex  uint8
	GUID         uuid.UUID
	FourCC       string
	BitsPerPixel uint8
	Frames       []*FrameInfo
	Still        *StillImageFrame
	Color        *ColorFormat

	// subtype records which VS_FORMAT_* descriptor produced this entry.
	// Format selection and ConfigureStream compare FourCC and do not read it.
	subtype uint8
}

// FrameInfo is a supported (width, height) configuration of a StreamFormat.
type FrameInfo struct {
	FrameIndex              uint8
	Width                   uint16
	Height                  uint16
	MinBitRate              uint32
	MaxBitRate              uint32
	MaxVideoFrameBufferSize uint32
	DefaultFrameInterval    uint32

	// Discrete intervals, if FrameIntervalType > 0.
	Intervals []uint32
	// Continuous range, if FrameIntervalType == 0.
	MinFrameInterval  uint32
	MaxFrameInterval  uint32
	FrameIntervalStep uint32

	StillSupported bool
}

// ClosestInterval returns the supported frame interval closest to the
// requested one, per the negotiator's "prefer largest interval <= requested,
// else smallest available" rule (spec §4.3 step 1).
func (f *FrameInfo) ClosestInterval(requested uint32) uint32 {
	if len(f.Intervals) == 0 {
		// Continuous range: clamp to [min, max] in steps of step.
		if requested <= f.MinFrameInterval {
			return f.MinFrameInterval
		}
		if requested >= f.MaxFrameInterval {
			return f.MaxFrameInterval
		}
		if f.FrameIntervalStep == 0 {
			return requested
		}
		steps := (requested - f.MinFrameInterval) / f.FrameIntervalStep
		return f.MinFrameInterval + steps*f.FrameIntervalStep
	}

	var best uint32
	haveBest := false
	var smallest uint32
	for i, iv := range f.Intervals {
		if i == 0 || iv < smallest {
			smallest = iv
		}
		if iv <= requested && (!haveBest || iv > best) {
			best = iv
			haveBest = true
		}
	}
	if haveBest {
		return best
	}
	return smallest
}

// StillImageFrame models a VS_STILL_IMAGE_FRAME descriptor. Still capture
// itself is out of scope; this retains the descriptor data because several
// quirks reference the still-capture capability bit.
type StillImageFrame struct {
	Dimensions   []StillDimension
	Compressions []uint8
}

// StillDimension is one (width, height) pair a still frame descriptor
// advertises.
type StillDimension struct {
	Width  uint16
	Height uint16
}

// ColorFormat models a VS_COLORFORMAT descriptor.
type ColorFormat struct {
	ColorPrimaries          uint8
	TransferCharacteristics uint8
	MatrixCoefficients      uint8
}

// Codec is the caller's preferred compression for ConfigureStream.
type Codec int

const (
	CodecAuto Codec = iota
	CodecMJPEG
	CodecYUYV
	CodecH264
	CodecH265
	CodecFrameBased
)

// matchesFourCC reports whether a StreamFormat's FourCC satisfies this codec
// preference. CodecAuto matches anything.
func (c Codec) matchesFourCC(fourcc string) bool {
	switch c {
	case CodecAuto:
		return true
	case CodecMJPEG:
		return fourcc == "MJPG"
	case CodecYUYV:
		return fourcc == "YUY2"
	case CodecH264:
		return fourcc == "H264"
	case CodecH265:
		return fourcc == "H265" || fourcc == "HEVC"
	case CodecFrameBased:
		return true
	default:
		return false
	}
}

// StreamingControl is the UVC PROBE/COMMIT payload, sized 26, 34, or 48
// bytes depending on the device's reported UVC version (spec §3).
type StreamingControl struct {
	Hint                   uint16
	FormatIndex            uint8
	FrameIndex             uint8
	FrameInterval          uint32
	KeyFrameRate           uint16
	PFrameRate             uint16
	CompQuality            uint16
	CompWindowSize         uint16
	Delay                  uint16
	MaxVideoFrameSize      uint32
	MaxPayloadTransferSize uint32

	// UVC 1.1+ (34-byte) fields.
	ClockFrequency   uint32
	FramingInfo      uint8
	PreferredVersion uint8
	MinVersion       uint8
	MaxVersion       uint8

	// UVC 1.5+ (48-byte) fields.
	Usage                     uint8
	BitDepthLuma              uint8
	Settings                  uint8
	MaxNumberOfRefFramesPlus1 uint8
	RateControlModes          uint16
	LayoutPerStream           uint64
}

// Size returns the wire size of this StreamingControl for the given bcdUVC.
func Size(bcdUVC uint16) int {
	switch {
	case bcdUVC >= 0x0150:
		return 48
	case bcdUVC >= 0x0110:
		return 34
	default:
		return 26
	}
}

// TransferState is a TransferSlot's position in the resubmission lifecycle.
type TransferState int

const (
	TransferStateSubmitted TransferState = iota
	TransferStateCompleted
	TransferStateRecycled
)

// TransferSlot is one in-flight isochronous transfer buffer.
type TransferSlot struct {
	Buffer  []byte
	Packets []IsoPacketResult
	State   TransferState
}

// IsoPacketResult is one packet's outcome on transfer completion.
type IsoPacketResult struct {
	Status       int
	ActualLength int
}

// FrameBuffer is the frame currently being accumulated by the reassembler.
type FrameBuffer struct {
	Data      []byte
	FID       bool
	HavePTS   bool
	PTS       uint32
	Errored   bool
	Truncated bool
}

// CompletedFrame is an immutable, fully reassembled (and, for H.264/H.265,
// bitstream-normalised) video frame.
type CompletedFrame struct {
	FourCC        string
	Width         uint16
	Height        uint16
	Payload       []byte
	HostTimestamp time.Time
	HavePTS       bool
	PTS           uint32
	Sequence      uint64
	Truncated     bool
}

// Config is the full set of knobs a Session accepts, per spec §6.
type Config struct {
	VendorID           uint16
	ProductID          uint16
	SerialNumber       string
	StreamingInterface int // -1 picks the first VS interface found

	Width, Height int
	FPS           int
	Codec         Codec

	NumTransfers       int
	PacketsPerTransfer int
	FrameQueueSize     int

	DeliverPartial  bool
	DropOnOverflow  bool
	AutoDetachVC    bool
	ControlTimeout  time.Duration
}

// DefaultConfig returns a Config populated with spec §6's defaults.
func DefaultConfig() Config {
	return Config{
		StreamingInterface: -1,
		Codec:              CodecAuto,
		NumTransfers:       12,
		PacketsPerTransfer: 32,
		FrameQueueSize:     4,
		DeliverPartial:     false,
		DropOnOverflow:     true,
		AutoDetachVC:       true,
		ControlTimeout:     2000 * time.Millisecond,
	}
}

// Stats accumulates the counters spec §5/§8 require be observable:
// out-of-order transfer completions, dropped frames, parameter-set drops and
// post-stop callback touches. Nothing in this package increments
// PostStopCallbacks, so it always reads zero; scheduler.stop returns only
// after every feeder goroutine and the consumer goroutine have exited.
type Stats struct {
	OutOfOrderCompletions uint64
	DroppedFrames         uint64
	ParameterSetDrops     uint64
	PostStopCallbacks     uint64
}
