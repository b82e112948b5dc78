package capture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestPatternBackend(t *testing.T) {
	h, err := newPatternBackend().Open(context.Background(), Descriptor{Kind: KindPattern, Target: "bars"}, Hints{Width: 160, Height: 120})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !h.Ready() {
		t.Fatal("pattern handle should be ready")
	}

	raw, err := h.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if b := raw.Image.Bounds(); b.Dx() != 160 || b.Dy() != 120 {
		t.Errorf("bounds = %v", b)
	}
	if _, err := (Encoder{Quality: 70}).Encode(raw); err != nil {
		t.Errorf("pattern frame does not encode: %v", err)
	}

	_ = h.Close()
	if _, err := h.Read(); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("read after close err = %v", err)
	}
}

func TestPatternBackendUnknownName(t *testing.T) {
	_, err := newPatternBackend().Open(context.Background(), Descriptor{Kind: KindPattern, Target: "plaid"}, Hints{})
	if err == nil {
		t.Fatal("expected an error for an unknown pattern")
	}
}

func TestPipelineBackendReadsFrames(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs cat")
	}

	a := []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0x02, 0xFF, 0xD9}
	path := filepath.Join(t.TempDir(), "stream.mjpeg")
	if err := os.WriteFile(path, append(append([]byte(nil), a...), b...), 0o644); err != nil {
		t.Fatal(err)
	}

	h, err := newPipelineBackend().Open(context.Background(),
		Descriptor{Kind: KindPipeline, Target: "cat " + path},
		Hints{ReadTimeout: time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	// The pump keeps only the newest frame, so a slow reader may miss one.
	var got [][]byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		raw, err := h.Read()
		if errors.Is(err, errPipelineExited) {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got = append(got, raw.JPEG)
	}

	if len(got) == 0 {
		t.Fatal("no frames read")
	}
	if last := got[len(got)-1]; !bytes.Equal(last, b) {
		t.Errorf("last frame = % x, want % x", last, b)
	}
	if h.Ready() {
		t.Error("handle should not be ready after the process exited")
	}
}

func TestPipelineBackendReadTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs sleep")
	}

	h, err := newPipelineBackend().Open(context.Background(),
		Descriptor{Kind: KindPipeline, Target: "sleep 5"},
		Hints{ReadTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := h.Read(); !errors.Is(err, ErrReadFailure) {
		t.Errorf("err = %v, want ErrReadFailure", err)
	}
	_ = h.Close()
	_ = h.Close()
}

func TestParserFor(t *testing.T) {
	if parserFor("/usr/bin/ffmpeg -i x") == nil {
		t.Error("ffmpeg should get a parser")
	}
	if parserFor("rpicam-vid -o -") == nil {
		t.Error("rpicam should get a parser")
	}
	if parserFor("cat file") != nil {
		t.Error("cat should not get a parser")
	}
}
