package streaming

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/rovercam/internal/capture"
)

func newTestHub(size int) *Hub {
	return NewHub(size, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func frameN(n uint64) capture.Frame {
	return capture.Frame{Seq: n, JPEG: []byte{0xFF, 0xD8, byte(n), 0xFF, 0xD9}}
}

func TestWritePartFraming(t *testing.T) {
	payloads := [][]byte{
		{0x00},
		[]byte("--frame\r\n"),
		bytes.Repeat([]byte{0xFF, 0xD8}, 1000),
	}
	for _, p := range payloads {
		var buf bytes.Buffer
		if err := WritePart(&buf, p); err != nil {
			t.Fatalf("WritePart: %v", err)
		}
		want := append([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n"), p...)
		want = append(want, '\r', '\n')
		if !bytes.Equal(buf.Bytes(), want) {
			t.Errorf("part for %d byte payload = %q", len(p), buf.Bytes())
		}
	}
}

type countingWriter struct{ writes int }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return len(p), nil
}

func TestWritePartSingleWrite(t *testing.T) {
	w := &countingWriter{}
	if err := WritePart(w, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if w.writes != 1 {
		t.Errorf("writes = %d, want 1", w.writes)
	}
}

func TestConsumerReceivesInOrder(t *testing.T) {
	hub := newTestHub(4)
	c := hub.Subscribe()
	defer c.Close()

	for i := uint64(1); i <= 3; i++ {
		hub.Publish(frameN(i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := uint64(1); i <= 3; i++ {
		f, err := c.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if f.Seq != i {
			t.Errorf("seq = %d, want %d", f.Seq, i)
		}
	}
}

func TestConsumerDropsOldest(t *testing.T) {
	hub := newTestHub(2)
	c := hub.Subscribe()
	defer c.Close()

	for i := uint64(1); i <= 5; i++ {
		hub.Publish(frameN(i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, want := range []uint64{4, 5} {
		f, err := c.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if f.Seq != want {
			t.Errorf("seq = %d, want %d", f.Seq, want)
		}
	}
	if d := c.Dropped(); d != 3 {
		t.Errorf("dropped = %d, want 3", d)
	}
}

func TestNoHistoryReplay(t *testing.T) {
	hub := newTestHub(2)
	hub.Publish(frameN(1))

	c := hub.Subscribe()
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, a new consumer must not see earlier frames", err)
	}

	if f, ok := hub.Latest(); !ok || f.Seq != 1 {
		t.Errorf("Latest = %+v, %v", f, ok)
	}
}

func TestConsumerClose(t *testing.T) {
	hub := newTestHub(2)
	c := hub.Subscribe()
	if hub.Count() != 1 {
		t.Fatalf("count = %d", hub.Count())
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Next(context.Background())
		errCh <- err
	}()

	c.Close()
	c.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrConsumerClosed) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
	if hub.Count() != 0 {
		t.Errorf("count = %d after close", hub.Count())
	}

	// Publishing after close must not panic or block.
	hub.Publish(frameN(9))
}

func TestHubStop(t *testing.T) {
	hub := newTestHub(2)
	c := hub.Subscribe()
	hub.Stop()

	if _, err := c.Next(context.Background()); !errors.Is(err, ErrConsumerClosed) {
		t.Errorf("err = %v", err)
	}
	late := hub.Subscribe()
	if _, err := late.Next(context.Background()); !errors.Is(err, ErrConsumerClosed) {
		t.Errorf("late subscriber err = %v", err)
	}
}

// readPart reads one multipart part and returns its payload.
func readPart(r *bufio.Reader) ([]byte, error) {
	for _, want := range []string{"--frame\r\n", "Content-Type: image/jpeg\r\n", "\r\n"} {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		if line != want {
			return nil, errors.New("unexpected line " + strings.TrimSpace(line))
		}
	}
	var payload []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		payload = append(payload, b)
		if bytes.HasSuffix(payload, []byte{0xFF, 0xD9, '\r', '\n'}) {
			return payload[:len(payload)-2], nil
		}
	}
}

func TestServeHTTPTwoClients(t *testing.T) {
	hub := newTestHub(2)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx1, cancel1 := context.WithCancel(context.Background())
	req1, _ := http.NewRequestWithContext(ctx1, http.MethodGet, srv.URL, nil)
	resp1, err := http.DefaultClient.Do(req1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp1.Body.Close()

	resp2, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()

	if ct := resp2.Header.Get("Content-Type"); ct != ContentType {
		t.Errorf("content type = %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Count() != 2 {
		t.Fatalf("consumers = %d, want 2", hub.Count())
	}

	// Drop the first client and make sure the second keeps receiving.
	cancel1()
	for hub.Count() != 1 && time.Now().Before(deadline) {
		hub.Publish(frameN(0))
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Count() != 1 {
		t.Fatalf("consumers = %d after disconnect, want 1", hub.Count())
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for i := uint64(1); ; i++ {
			select {
			case <-stop:
				return
			case <-time.After(2 * time.Millisecond):
				hub.Publish(frameN(i % 200))
			}
		}
	}()

	r := bufio.NewReader(resp2.Body)
	for i := 0; i < 10; i++ {
		payload, err := readPart(r)
		if err != nil {
			t.Fatalf("part %d: %v", i, err)
		}
		if !bytes.HasPrefix(payload, []byte{0xFF, 0xD8}) {
			t.Errorf("part %d payload = % x", i, payload)
		}
	}
}
