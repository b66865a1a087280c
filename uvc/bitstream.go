package uvc

// bitstreamNormaliser implements spec §4.6: it rewrites H.264/H.265 frames
// into Annex-B with SPS/PPS/VPS present before every IDR, caching the most
// recently seen parameter sets across frames of one stream (each H.264/H.265
// StreamHandle gets its own normaliser, not a package-level singleton, so two
// concurrent streams never share state).
type bitstreamNormaliser struct {
	codec Codec

	sps []byte
	pps []byte
	vps []byte // H.265 only

	haveParams  bool
	dropUntilOK bool
	stats       *Stats
}

func newBitstreamNormaliser(codec Codec, stats *Stats) *bitstreamNormaliser {
	return &bitstreamNormaliser{codec: codec, stats: stats}
}

const (
	h264NALSPS = 7
	h264NALPPS = 8
	h264NALIDR = 5

	h265NALVPS      = 32
	h265NALSPS      = 33
	h265NALPPS      = 34
	h265NALIDRWRADL = 19
	h265NALIDRNLP   = 20
)

// Normalise rewrites frame.Payload in place (by replacing the field) if it
// is H.264 or H.265 and needs Annex-B conversion and/or parameter-set
// prepending. Non-H.26x frames pass through untouched.
func (n *bitstreamNormaliser) Normalise(frame *CompletedFrame) {
	if frame.FourCC != "H264" && frame.FourCC != "H265" {
		return
	}

	annexB := toAnnexB(frame.Payload)
	nalus := splitAnnexB(annexB)

	haveIDR := false
	haveParamsBeforeIDR := false
	sawSPS, sawPPS, sawVPS := false, false, false

	isH265 := frame.FourCC == "H265"

	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		if isH265 {
			t := (nalu[0] >> 1) & 0x3F
			switch t {
			case h265NALVPS:
				n.vps = cloneNALU(nalu)
				sawVPS = true
			case h265NALSPS:
				n.sps = cloneNALU(nalu)
				sawSPS = true
			case h265NALPPS:
				n.pps = cloneNALU(nalu)
				sawPPS = true
			case h265NALIDRWRADL, h265NALIDRNLP:
				if !haveIDR {
					haveParamsBeforeIDR = sawVPS && sawSPS && sawPPS
				}
				haveIDR = true
			}
		} else {
			t := nalu[0] & 0x1F
			switch t {
			case h264NALSPS:
				n.sps = cloneNALU(nalu)
				sawSPS = true
			case h264NALPPS:
				n.pps = cloneNALU(nalu)
				sawPPS = true
			case h264NALIDR:
				if !haveIDR {
					haveParamsBeforeIDR = sawSPS && sawPPS
				}
				haveIDR = true
			}
		}
	}

	if sawSPS && sawPPS && (!isH265 || sawVPS) {
		n.haveParams = true
		n.dropUntilOK = false
	}

	if n.dropUntilOK {
		if n.stats != nil {
			n.stats.ParameterSetDrops++
		}
		frame.Payload = nil
		return
	}

	if !haveIDR {
		frame.Payload = annexB
		return
	}

	if haveParamsBeforeIDR {
		frame.Payload = annexB
		return
	}

	if !n.haveParams {
		n.dropUntilOK = true
		if n.stats != nil {
			n.stats.ParameterSetDrops++
		}
		frame.Payload = nil
		return
	}

	frame.Payload = n.prependCached(annexB, isH265)
}

func (n *bitstreamNormaliser) prependCached(annexB []byte, isH265 bool) []byte {
	var out []byte
	if isH265 && n.vps != nil {
		out = append(out, annexBStartCode...)
		out = append(out, n.vps...)
	}
	if n.sps != nil {
		out = append(out, annexBStartCode...)
		out = append(out, n.sps...)
	}
	if n.pps != nil {
		out = append(out, annexBStartCode...)
		out = append(out, n.pps...)
	}
	return append(out, annexB...)
}

func cloneNALU(b []byte) []byte {
	return append([]byte(nil), b...)
}

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// toAnnexB returns payload unchanged if it already starts with an Annex-B
// start code anywhere in its first 64 bytes; otherwise it is treated as
// length-prefixed (AVC/HVCC-style) and rewritten with 4-byte start codes in
// place of each big-endian length prefix (spec §4.6 Detection).
func toAnnexB(payload []byte) []byte {
	scanLen := len(payload)
	if scanLen > 64 {
		scanLen = 64
	}
	if hasStartCode(payload[:scanLen]) {
		return payload
	}

	out := make([]byte, 0, len(payload)+16)
	pos := 0
	for pos+4 <= len(payload) {
		n := int(payload[pos])<<24 | int(payload[pos+1])<<16 | int(payload[pos+2])<<8 | int(payload[pos+3])
		pos += 4
		if n < 0 || pos+n > len(payload) {
			// Not actually length-prefixed; bail out and return the original
			// bytes rather than emit a corrupt rewrite.
			return payload
		}
		out = append(out, annexBStartCode...)
		out = append(out, payload[pos:pos+n]...)
		pos += n
	}
	if pos != len(payload) {
		return payload
	}
	return out
}

func hasStartCode(b []byte) bool {
	for i := 0; i+3 <= len(b); i++ {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			return true
		}
		if i+4 <= len(b) && b[i] == 0 && b[i+1] == 0 && b[i+2] == 0 && b[i+3] == 1 {
			return true
		}
	}
	return false
}

// splitAnnexB splits an Annex-B byte stream into its constituent NAL units
// (start codes stripped).
func splitAnnexB(b []byte) [][]byte {
	var starts []int
	for i := 0; i+3 <= len(b); i++ {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			starts = append(starts, i+3)
		}
	}
	if len(starts) == 0 {
		return nil
	}
	nalus := make([][]byte, 0, len(starts))
	for i, s := range starts {
		end := len(b)
		if i+1 < len(starts) {
			nextStart := starts[i+1] - 3
			// Trim the trailing zero of a 4-byte start code belonging to the
			// next NAL unit.
			for nextStart > s && b[nextStart-1] == 0 {
				nextStart--
			}
			end = nextStart
		} else {
			for end > s && b[end-1] == 0 {
				end--
			}
		}
		if end > s {
			nalus = append(nalus, b[s:end])
		}
	}
	return nalus
}
