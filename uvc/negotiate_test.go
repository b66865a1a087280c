package uvc

import (
	"testing"

	usb "github.com/corevid/uvccore"
)

func TestMarshalUnmarshalStreamingControlRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"UVC 1.0, 26 bytes", 26},
		{"UVC 1.1, 34 bytes", 34},
		{"UVC 1.5, 48 bytes", 48},
	}

	sc := StreamingControl{
		Hint:                      0x0001,
		FormatIndex:               2,
		FrameIndex:                3,
		FrameInterval:             333333,
		KeyFrameRate:              1,
		PFrameRate:                2,
		CompQuality:               5000,
		CompWindowSize:            10,
		Delay:                     100,
		MaxVideoFrameSize:         1920 * 1080 * 2,
		MaxPayloadTransferSize:    3072,
		ClockFrequency:            48000000,
		FramingInfo:               3,
		PreferredVersion:          1,
		MinVersion:                1,
		MaxVersion:                1,
		Usage:                     0,
		BitDepthLuma:              8,
		Settings:                  1,
		MaxNumberOfRefFramesPlus1: 1,
		RateControlModes:          0,
		LayoutPerStream:           0,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := marshalStreamingControl(&sc, tt.size)
			if len(buf) != tt.size {
				t.Fatalf("marshaled length = %d, want %d", len(buf), tt.size)
			}
			got := unmarshalStreamingControl(buf)

			want := sc
			if tt.size < 34 {
				want.ClockFrequency, want.FramingInfo, want.PreferredVersion = 0, 0, 0
				want.MinVersion, want.MaxVersion = 0, 0
			}
			if tt.size < 48 {
				want.Usage, want.BitDepthLuma, want.Settings = 0, 0, 0
				want.MaxNumberOfRefFramesPlus1, want.RateControlModes, want.LayoutPerStream = 0, 0, 0
			}
			if got != want {
				t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, want)
			}
		})
	}
}

func TestUnmarshalStreamingControlTooShortReturnsZeroValue(t *testing.T) {
	got := unmarshalStreamingControl(make([]byte, 10))
	if got != (StreamingControl{}) {
		t.Errorf("expected the zero value for a too-short buffer, got %+v", got)
	}
}

func TestSizeByBcdUVC(t *testing.T) {
	tests := []struct {
		bcdUVC uint16
		want   int
	}{
		{0x0100, 26},
		{0x0110, 34},
		{0x0150, 48},
	}
	for _, tt := range tests {
		if got := Size(tt.bcdUVC); got != tt.want {
			t.Errorf("Size(0x%04x) = %d, want %d", tt.bcdUVC, got, tt.want)
		}
	}
}

func TestSelectFormatAndFrameMatchesCodecAndResolution(t *testing.T) {
	vs := &VSInterface{
		Formats: []*StreamFormat{
			{FormatIndex: 1, FourCC: "MJPG", Frames: []*FrameInfo{
				{FrameIndex: 1, Width: 640, Height: 480, DefaultFrameInterval: 333333, Intervals: []uint32{333333, 666666}},
			}},
			{FormatIndex: 2, FourCC: "YUY2", Frames: []*FrameInfo{
				{FrameIndex: 1, Width: 640, Height: 480, DefaultFrameInterval: 666666, Intervals: []uint32{666666}},
			}},
		},
	}

	format, frame, interval, err := selectFormatAndFrame(vs, CodecMJPEG, 640, 480, 30)
	if err != nil {
		t.Fatalf("selectFormatAndFrame: %v", err)
	}
	if format.FourCC != "MJPG" {
		t.Errorf("picked format %q, want MJPG", format.FourCC)
	}
	if frame.Width != 640 || frame.Height != 480 {
		t.Errorf("picked frame %dx%d, want 640x480", frame.Width, frame.Height)
	}
	if interval != 333333 {
		t.Errorf("interval = %d, want 333333 (closest to requested 30fps)", interval)
	}
}

func TestSelectFormatAndFrameNoMatch(t *testing.T) {
	vs := &VSInterface{
		Formats: []*StreamFormat{
			{FormatIndex: 1, FourCC: "MJPG", Frames: []*FrameInfo{
				{FrameIndex: 1, Width: 1280, Height: 720},
			}},
		},
	}

	if _, _, _, err := selectFormatAndFrame(vs, CodecMJPEG, 640, 480, 30); err == nil {
		t.Fatal("expected an error when no frame matches the requested resolution")
	}
}

func TestSelectFormatAndFrameCodecAutoMatchesAnything(t *testing.T) {
	vs := &VSInterface{
		Formats: []*StreamFormat{
			{FormatIndex: 1, FourCC: "H264", Frames: []*FrameInfo{
				{FrameIndex: 1, Width: 1920, Height: 1080, DefaultFrameInterval: 333333},
			}},
		},
	}

	format, _, _, err := selectFormatAndFrame(vs, CodecAuto, 1920, 1080, 0)
	if err != nil {
		t.Fatalf("selectFormatAndFrame: %v", err)
	}
	if format.FourCC != "H264" {
		t.Errorf("got %q, want H264", format.FourCC)
	}
}

func TestPickAltSettingChoosesSmallestFittingPacketSize(t *testing.T) {
	vs := &VSInterface{
		AltSettings: []VSAltSetting{
			{AltSetting: 0, IsoEndpoint: nil},
			{AltSetting: 1, IsoEndpoint: &usb.Endpoint{}, MaxPacketSize: 1024},
			{AltSetting: 2, IsoEndpoint: &usb.Endpoint{}, MaxPacketSize: 3072},
			{AltSetting: 3, IsoEndpoint: &usb.Endpoint{}, MaxPacketSize: 2048},
		},
	}

	alt, _, err := pickAltSetting(vs, 2000)
	if err != nil {
		t.Fatalf("pickAltSetting: %v", err)
	}
	if alt != 3 {
		t.Errorf("got alt setting %d, want 3 (smallest packet size that still covers 2000 bytes)", alt)
	}
}

func TestPickAltSettingNoneFit(t *testing.T) {
	vs := &VSInterface{
		AltSettings: []VSAltSetting{
			{AltSetting: 1, IsoEndpoint: &usb.Endpoint{}, MaxPacketSize: 512},
		},
	}

	if _, _, err := pickAltSetting(vs, 4096); err == nil {
		t.Fatal("expected an error when no alt setting's packet size covers the requirement")
	}
}
