package uvc

// USB Video Class interface class/subclass codes (USB-IF UVC 1.5 spec,
// Table A-1/A-2).
const (
	ccVideo = 0x0E

	scVideoControl             = 0x01
	scVideoStreaming           = 0x02
	scVideoInterfaceCollection = 0x03
)

// Class-specific descriptor types (UVC Table A-3), layered on top of the
// standard bDescriptorType values the root usb package already defines.
const (
	csUndefined     = 0x20
	csDevice        = 0x21
	csConfiguration = 0x22
	csString        = 0x23
	csInterface     = 0x24
	csEndpoint      = 0x25
)

// VideoControl interface descriptor subtypes (UVC Table A-5).
const (
	vcDescriptorUndefined = 0x00
	vcHeader              = 0x01
	vcInputTerminal       = 0x02
	vcOutputTerminal      = 0x03
	vcSelectorUnit        = 0x04
	vcProcessingUnit      = 0x05
	vcExtensionUnit       = 0x06
)

// VideoStreaming interface descriptor subtypes (UVC Table A-6).
const (
	vsUndefined          = 0x00
	vsInputHeader        = 0x01
	vsOutputHeader       = 0x02
	vsStillImageFrame    = 0x03
	vsFormatUncompressed = 0x04
	vsFrameUncompressed  = 0x05
	vsFormatMJPEG        = 0x06
	vsFrameMJPEG         = 0x07
	vsFormatMPEG2TS      = 0x0A
	vsFormatDV           = 0x0C
	vsColorFormat        = 0x0D
	vsFormatFrameBased   = 0x10
	vsFrameFrameBased    = 0x11
	vsFormatStreamBased  = 0x12
)

// Terminal types (UVC Table 2-1/2-2).
const (
	ttVendorSpecific        = 0x0100
	ttStreaming             = 0x0101
	ittVendorSpecific       = 0x0200
	ittCamera               = 0x0201
	ittMediaTransportInput  = 0x0202
)

// Class-specific VideoControl/VideoStreaming request codes (UVC Table A-8).
const (
	reqSetCur  = 0x01
	reqGetCur  = 0x81
	reqGetMin  = 0x82
	reqGetMax  = 0x83
	reqGetRes  = 0x84
	reqGetLen  = 0x85
	reqGetInfo = 0x86
	reqGetDef  = 0x87
)

// VideoStreaming interface control selectors (UVC Table 4-47).
const (
	vsProbeControl  = 0x01
	vsCommitControl = 0x02
)

// GET_INFO capability bits (UVC 4.1.2).
const (
	infoSupportsGet           = 1 << 0
	infoSupportsSet           = 1 << 1
	infoDisabledByAutoControl = 1 << 2
	infoAutoUpdate            = 1 << 3
	infoAsync                 = 1 << 4
	infoDisabledByCommit      = 1 << 5
)

// bmRequestType values for UVC class-specific control transfers.
const (
	reqTypeClassInterfaceIn  = 0xA1
	reqTypeClassInterfaceOut = 0x21
)
