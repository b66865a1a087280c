package uvc

import "testing"

func startCoded(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, annexBStartCode...)
		out = append(out, n...)
	}
	return out
}

func TestHasStartCode(t *testing.T) {
	if !hasStartCode([]byte{0x00, 0x00, 0x00, 0x01, 0xAA}) {
		t.Error("4-byte start code not detected")
	}
	if !hasStartCode([]byte{0x00, 0x00, 0x01, 0xAA}) {
		t.Error("3-byte start code not detected")
	}
	if hasStartCode([]byte{0x00, 0x01, 0x00, 0xAA}) {
		t.Error("should not have matched a non-start-code byte pattern")
	}
}

func TestToAnnexBAlreadyAnnexB(t *testing.T) {
	in := startCoded([]byte{0x67, 0x01, 0x02})
	out := toAnnexB(in)
	if string(out) != string(in) {
		t.Error("input already in Annex-B form should pass through unchanged")
	}
}

func TestToAnnexBRewritesLengthPrefixed(t *testing.T) {
	nal := []byte{0x65, 0xAA, 0xBB}
	lengthPrefixed := append([]byte{0x00, 0x00, 0x00, byte(len(nal))}, nal...)

	out := toAnnexB(lengthPrefixed)
	want := startCoded(nal)
	if string(out) != string(want) {
		t.Errorf("got %x, want %x", out, want)
	}
}

func TestToAnnexBBailsOutOnGarbageLengthPrefix(t *testing.T) {
	// Length field claims far more data than is present; must not panic or
	// fabricate a rewrite, just return the original bytes.
	garbage := []byte{0x00, 0x00, 0x00, 0x7F, 0xAA, 0xBB}
	out := toAnnexB(garbage)
	if string(out) != string(garbage) {
		t.Error("malformed length-prefixed input should be returned unchanged")
	}
}

func TestSplitAnnexB(t *testing.T) {
	nal1 := []byte{0x67, 0x01}
	nal2 := []byte{0x68, 0x02, 0x03}
	in := startCoded(nal1, nal2)

	got := splitAnnexB(in)
	if len(got) != 2 {
		t.Fatalf("got %d NALUs, want 2", len(got))
	}
	if string(got[0]) != string(nal1) {
		t.Errorf("nal1 = %x, want %x", got[0], nal1)
	}
	if string(got[1]) != string(nal2) {
		t.Errorf("nal2 = %x, want %x", got[1], nal2)
	}
}

func TestSplitAnnexBNoStartCode(t *testing.T) {
	if got := splitAnnexB([]byte{0x01, 0x02, 0x03}); got != nil {
		t.Errorf("expected nil for input with no start code, got %v", got)
	}
}

func h264SPS() []byte { return []byte{h264NALSPS, 0x01} }
func h264PPS() []byte { return []byte{h264NALPPS, 0x02} }
func h264IDR() []byte { return []byte{h264NALIDR, 0x03} }

func TestBitstreamNormaliseH264ParamsBeforeIDRPassesThrough(t *testing.T) {
	n := newBitstreamNormaliser(CodecH264, &Stats{})
	frame := &CompletedFrame{FourCC: "H264", Payload: startCoded(h264SPS(), h264PPS(), h264IDR())}

	n.Normalise(frame)

	want := startCoded(h264SPS(), h264PPS(), h264IDR())
	if string(frame.Payload) != string(want) {
		t.Errorf("got %x, want %x", frame.Payload, want)
	}
	if !n.haveParams {
		t.Error("normaliser should have cached params after seeing SPS+PPS")
	}
}

func TestBitstreamNormaliseDropsIDRBeforeAnyParamsSeen(t *testing.T) {
	stats := &Stats{}
	n := newBitstreamNormaliser(CodecH264, stats)
	frame := &CompletedFrame{FourCC: "H264", Payload: startCoded(h264IDR())}

	n.Normalise(frame)

	if frame.Payload != nil {
		t.Error("IDR frame with no cached parameter sets should be dropped")
	}
	if stats.ParameterSetDrops != 1 {
		t.Errorf("ParameterSetDrops = %d, want 1", stats.ParameterSetDrops)
	}
}

func TestBitstreamNormalisePrependsCachedParamsBeforeLaterIDR(t *testing.T) {
	n := newBitstreamNormaliser(CodecH264, &Stats{})

	first := &CompletedFrame{FourCC: "H264", Payload: startCoded(h264SPS(), h264PPS(), h264IDR())}
	n.Normalise(first)

	second := &CompletedFrame{FourCC: "H264", Payload: startCoded(h264IDR())}
	n.Normalise(second)

	want := startCoded(h264SPS(), h264PPS(), h264IDR())
	if string(second.Payload) != string(want) {
		t.Errorf("got %x, want %x", second.Payload, want)
	}
}

func TestBitstreamNormaliseNonIDRFramePassesThroughWithoutParams(t *testing.T) {
	n := newBitstreamNormaliser(CodecH264, &Stats{})
	nonIDR := []byte{1, 0x09}
	frame := &CompletedFrame{FourCC: "H264", Payload: startCoded(nonIDR)}

	n.Normalise(frame)

	want := startCoded(nonIDR)
	if string(frame.Payload) != string(want) {
		t.Errorf("got %x, want %x", frame.Payload, want)
	}
}

func TestBitstreamNormaliseIgnoresNonH26xCodec(t *testing.T) {
	n := newBitstreamNormaliser(CodecMJPEG, &Stats{})
	original := []byte{0xFF, 0xD8, 0x01, 0x02}
	frame := &CompletedFrame{FourCC: "MJPG", Payload: original}

	n.Normalise(frame)

	if string(frame.Payload) != string(original) {
		t.Error("non-H.26x frame should never be touched by Normalise")
	}
}

func TestBitstreamNormaliseH265RequiresVPSSPSPPS(t *testing.T) {
	stats := &Stats{}
	n := newBitstreamNormaliser(CodecH265, stats)

	vps := []byte{h265NALVPS << 1, 0x01}
	sps := []byte{h265NALSPS << 1, 0x02}
	idr := []byte{h265NALIDRWRADL << 1, 0x03}

	frame := &CompletedFrame{FourCC: "H265", Payload: startCoded(vps, sps, idr)}
	n.Normalise(frame)

	// PPS never seen, so params are still incomplete: the IDR must be dropped.
	if frame.Payload != nil {
		t.Error("H.265 IDR without PPS ever seen should be dropped")
	}
	if stats.ParameterSetDrops != 1 {
		t.Errorf("ParameterSetDrops = %d, want 1", stats.ParameterSetDrops)
	}
}
