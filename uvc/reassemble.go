package uvc

import "time"

// payloadHeader is one UVC stream payload header (spec §4.5): byte 0 is
// bHeaderLength, byte 1 is the flag bitmap, followed by an optional PTS and
// SCR depending on those flags.
type payloadHeader struct {
	length  int
	fid     bool
	eof     bool
	havePTS bool
	pts     uint32
	haveSCR bool
	still   bool
	err     bool
}

const (
	headerFlagFID   = 1 << 0
	headerFlagEOF   = 1 << 1
	headerFlagPTS   = 1 << 2
	headerFlagSCR   = 1 << 3
	headerFlagStill = 1 << 5
	headerFlagErr   = 1 << 6
)

// parsePayloadHeader parses the header prefix of one iso packet payload. It
// returns a FrameTruncated error when the packet is shorter than 2 bytes,
// when the header length byte is below 2 or claims more bytes than the
// packet has, or when the PTS/SCR fields its flags announce do not fit
// inside that header length.
func parsePayloadHeader(packet []byte) (payloadHeader, error) {
	if len(packet) < 2 {
		return payloadHeader{}, &FrameError{Kind: FrameTruncated}
	}
	length := int(packet[0])
	if length < 2 || length > len(packet) {
		return payloadHeader{}, &FrameError{Kind: FrameTruncated}
	}
	flags := packet[1]
	h := payloadHeader{
		length:  length,
		fid:     flags&headerFlagFID != 0,
		eof:     flags&headerFlagEOF != 0,
		havePTS: flags&headerFlagPTS != 0,
		haveSCR: flags&headerFlagSCR != 0,
		still:   flags&headerFlagStill != 0,
		err:     flags&headerFlagErr != 0,
	}

	pos := 2
	if h.havePTS {
		if pos+4 > length {
			return payloadHeader{}, &FrameError{Kind: FrameTruncated}
		}
		h.pts = uint32(packet[pos]) | uint32(packet[pos+1])<<8 | uint32(packet[pos+2])<<16 | uint32(packet[pos+3])<<24
		pos += 4
	}
	if h.haveSCR {
		pos += 6
	}
	if pos > length {
		return payloadHeader{}, &FrameError{Kind: FrameTruncated}
	}
	return h, nil
}

// reassembler implements spec §4.5's single frame-in-progress state machine.
// It is fed one packet at a time by the iso scheduler's single consumer
// goroutine, so it needs no locking of its own.
type reassembler struct {
	fourCC         string
	width, height  uint16
	expectedSize   uint32 // dwMaxVideoFrameSize from the negotiated StreamingControl; 0 for MJPEG
	deliverPartial bool

	haveBuffer bool
	buf        FrameBuffer

	sequence uint64
	dropped  uint64
}

func newReassembler(fourCC string, width, height uint16, expectedSize uint32, deliverPartial bool) *reassembler {
	return &reassembler{fourCC: fourCC, width: width, height: height, expectedSize: expectedSize, deliverPartial: deliverPartial}
}

// Feed processes one non-empty iso packet, returning a CompletedFrame
// whenever this packet finishes one (by explicit EOF or by an implicit FID
// toggle boundary).
func (r *reassembler) Feed(packet []byte) (*CompletedFrame, error) {
	h, err := parsePayloadHeader(packet)
	if err != nil {
		return nil, err
	}
	payload := packet[h.length:]

	if !r.haveBuffer {
		r.startBuffer(h)
	} else if h.fid != r.buf.FID {
		completed := r.finishBuffer(false)
		r.startBuffer(h)
		if h.err {
			r.buf.Errored = true
		}
		if len(payload) > 0 {
			r.buf.Data = append(r.buf.Data, payload...)
		}
		if h.havePTS && !r.buf.HavePTS {
			r.buf.HavePTS = true
			r.buf.PTS = h.pts
		}
		if completed != nil {
			return completed, nil
		}
		if h.eof {
			return r.finishBuffer(true), nil
		}
		return nil, nil
	}

	if h.err {
		r.buf.Errored = true
	}
	if h.havePTS && !r.buf.HavePTS {
		r.buf.HavePTS = true
		r.buf.PTS = h.pts
	}
	if len(payload) > 0 {
		r.buf.Data = append(r.buf.Data, payload...)
	}

	if h.eof {
		return r.finishBuffer(true), nil
	}
	return nil, nil
}

// MarkErrored flags the in-progress buffer, if any, as errored. Used when
// the iso scheduler reports a non-OK packet status for a packet that would
// otherwise have been silently dropped.
func (r *reassembler) MarkErrored() {
	if r.haveBuffer {
		r.buf.Errored = true
	}
}

func (r *reassembler) startBuffer(h payloadHeader) {
	r.buf = FrameBuffer{FID: h.fid}
	r.haveBuffer = true
}

// finishBuffer completes the in-progress buffer and returns the resulting
// frame, or nil if the buffer was discarded (error, or a truncated
// non-MJPEG frame with deliver_partial unset). sawEOF distinguishes a clean
// completion from an implicit FID-toggle boundary (spec §4.5 completion
// policy: a short completion without EOF is truncated).
func (r *reassembler) finishBuffer(sawEOF bool) *CompletedFrame {
	buf := r.buf
	r.haveBuffer = false
	r.buf = FrameBuffer{}

	if len(buf.Data) == 0 {
		return nil
	}

	truncated := !sawEOF
	if r.expectedSize > 0 {
		if uint32(len(buf.Data)) < r.expectedSize {
			truncated = true
		} else if uint32(len(buf.Data)) > r.expectedSize {
			buf.Errored = true
		}
	}

	if buf.Errored {
		r.sequence++
		r.dropped++
		return nil
	}

	if r.fourCC == "MJPG" {
		if len(buf.Data) < 2 || buf.Data[0] != 0xFF || buf.Data[1] != 0xD8 {
			r.sequence++
			r.dropped++
			return nil
		}
	} else if truncated && !r.deliverPartial {
		r.sequence++
		r.dropped++
		return nil
	}

	seq := r.sequence
	r.sequence++

	return &CompletedFrame{
		FourCC:        r.fourCC,
		Width:         r.width,
		Height:        r.height,
		Payload:       buf.Data,
		HostTimestamp: time.Now(),
		HavePTS:       buf.HavePTS,
		PTS:           buf.PTS,
		Sequence:      seq,
		Truncated:     truncated,
	}
}
