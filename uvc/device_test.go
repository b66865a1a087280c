package uvc

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/corevid/uvccore/uvc/quirks"
	"github.com/google/uuid"
)

func TestSessionVSInterfaceDefaultsToFirst(t *testing.T) {
	vs1 := &VSInterface{Number: 1}
	vs2 := &VSInterface{Number: 2}
	s := &Session{cfg: Config{StreamingInterface: -1}, vs: []*VSInterface{vs1, vs2}}

	if got := s.vsInterface(); got != vs1 {
		t.Errorf("expected the first VS interface by default, got %+v", got)
	}
}

func TestSessionVSInterfaceSelectsByNumber(t *testing.T) {
	vs1 := &VSInterface{Number: 1}
	vs2 := &VSInterface{Number: 2}
	s := &Session{cfg: Config{StreamingInterface: 2}, vs: []*VSInterface{vs1, vs2}}

	if got := s.vsInterface(); got != vs2 {
		t.Errorf("expected VS interface 2, got %+v", got)
	}
}

func TestSessionVSInterfaceNotFound(t *testing.T) {
	s := &Session{cfg: Config{StreamingInterface: 9}, vs: []*VSInterface{{Number: 1}}}
	if got := s.vsInterface(); got != nil {
		t.Errorf("expected nil for an unknown interface number, got %+v", got)
	}
}

func TestSessionControlsReturnsValidatedSet(t *testing.T) {
	s := &Session{controls: map[controlKey]uint8{
		{unitID: 2, selector: 1}: 0x03,
	}}

	got := s.Controls()
	if len(got) != 1 {
		t.Fatalf("got %d controls, want 1", len(got))
	}
	if got[0].UnitID != 2 || got[0].Selector != 1 || got[0].Capabilities != 0x03 {
		t.Errorf("unexpected control info: %+v", got[0])
	}
}

func TestSessionApplyQuirksMergesExtensionUnitNames(t *testing.T) {
	guid := uuid.New()
	sel := uint8(0x03)
	xu := &ExtensionUnit{unitBase: unitBase{id: 7}, GUID: guid}
	vc := &VCInterface{Units: []VCUnit{xu}}

	s := &Session{vc: vc, names: make(nameTable)}

	// Build the registry the same way a caller would: load it from a
	// directory containing one matching document.
	dir := t.TempDir()
	writeQuirksFixture(t, dir, guid, sel, "Noise Reduction")
	loaded, err := quirks.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	s.ApplyQuirks(loaded)

	key, ok := s.names["Noise Reduction"]
	if !ok {
		t.Fatal("expected ApplyQuirks to register the control name")
	}
	if key.unitID != 7 || key.selector != sel {
		t.Errorf("unexpected key: %+v", key)
	}
	if xu.Names == nil || xu.Names[sel].Name != "Noise Reduction" {
		t.Errorf("expected the Extension Unit's own Names map to be populated too, got %+v", xu.Names)
	}
}

func writeQuirksFixture(t *testing.T, dir string, guid uuid.UUID, selector uint8, name string) {
	t.Helper()
	content := `{"schema_version": 1, "guid": "` + guid.String() + `", "name": "test device", ` +
		`"controls": [{"selector": ` + strconv.Itoa(int(selector)) + `, "name": "` + name + `", "type": "bool"}]}`
	if err := os.WriteFile(filepath.Join(dir, "fixture.json"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
}

func TestStreamHandleOnPacketDeliversCompletedFrame(t *testing.T) {
	h := &StreamHandle{
		session:     &Session{},
		reassembler: newReassembler("MJPG", 640, 480, 0, false),
		frames:      make(chan *CompletedFrame, 1),
	}

	h.onPacket(mjpegPacket(false, true, []byte{0xFF, 0xD8, 0x01}))

	select {
	case frame := <-h.frames:
		if frame == nil {
			t.Fatal("expected a non-nil frame")
		}
	default:
		t.Fatal("expected a frame to be enqueued")
	}
}

func TestStreamHandleOnPacketDropsOnOverflowWhenConfigured(t *testing.T) {
	h := &StreamHandle{
		session:        &Session{},
		reassembler:    newReassembler("MJPG", 640, 480, 0, false),
		frames:         make(chan *CompletedFrame, 1),
		dropOnOverflow: true,
	}

	h.onPacket(mjpegPacket(false, true, []byte{0xFF, 0xD8, 0x01}))
	h.onPacket(mjpegPacket(true, true, []byte{0xFF, 0xD8, 0x02}))

	if h.session.stats.DroppedFrames != 1 {
		t.Errorf("DroppedFrames = %d, want 1", h.session.stats.DroppedFrames)
	}
	if len(h.frames) != 1 {
		t.Errorf("expected exactly one queued frame, got %d", len(h.frames))
	}
}

func TestStreamHandleNextFrameReturnsFatalAfterChannelClosed(t *testing.T) {
	h := &StreamHandle{frames: make(chan *CompletedFrame)}
	h.fatal = &TransferError{Kind: TransferNoDevice}
	close(h.frames)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := h.NextFrame(ctx)
	if err == nil {
		t.Fatal("expected an error once the frames channel is closed")
	}
}

func TestStreamHandleNextFrameRespectsContextCancellation(t *testing.T) {
	h := &StreamHandle{frames: make(chan *CompletedFrame)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.NextFrame(ctx)
	if err != ctx.Err() {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
