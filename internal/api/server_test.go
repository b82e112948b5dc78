package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smazurov/rovercam/internal/capture"
	"github.com/smazurov/rovercam/internal/events"
	"github.com/smazurov/rovercam/internal/link"
	"github.com/smazurov/rovercam/internal/streaming"
)

type fakeCamera struct{ state capture.State }

func (f fakeCamera) Status() capture.SupervisorStatus {
	return capture.SupervisorStatus{State: f.state, Source: "front"}
}

// bufPort is an in-memory serial port.
type bufPort struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (p *bufPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Write(b)
}

func (p *bufPort) Close() error { return nil }

func (p *bufPort) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.String()
}

type testEnv struct {
	srv  *httptest.Server
	hub  *streaming.Hub
	port *bufPort
	bus  *events.Bus
}

func newTestEnv(t *testing.T, connected bool) *testEnv {
	t.Helper()

	port := &bufPort{}
	ch := link.New(link.Options{
		Device: "/dev/ttyTEST",
		Opener: link.OpenerFunc(func(string, int) (link.Port, error) {
			if !connected {
				return nil, errors.New("no such device")
			}
			return port, nil
		}),
	})
	_ = ch.Connect(context.Background())
	t.Cleanup(func() { _ = ch.Close() })

	hub := streaming.NewHub(streaming.DefaultBufferSize, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(hub.Stop)

	bus := events.New()
	server := NewServer(&Options{
		Camera:   fakeCamera{state: capture.StateStreaming},
		Feed:     hub,
		Link:     ch,
		EventBus: bus,
		ListPorts: func() ([]link.PortInfo, error) {
			return []link.PortInfo{{Name: "/dev/ttyACM0", USB: true, VID: "2341", PID: "0043"}}, nil
		},
	})
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, hub: hub, port: port, bus: bus}
}

func (e *testEnv) post(t *testing.T, path, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(data)
}

func TestNewServerRegistersOperations(t *testing.T) {
	hub := streaming.NewHub(streaming.DefaultBufferSize, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(hub.Stop)

	server := NewServer(&Options{
		Camera: fakeCamera{state: capture.StateProbing},
		Feed:   hub,
		Link:   link.New(link.Options{Device: "/dev/ttyTEST"}),
	})

	paths := server.GetAPI().OpenAPI().Paths
	for _, path := range []string{"/api/status", "/api/link", "/api/health"} {
		if paths[path] == nil || paths[path].Get == nil {
			t.Errorf("GET %s not documented", path)
		}
	}
	for _, path := range []string{"/joystick", "/run"} {
		if paths[path] == nil || paths[path].Post == nil {
			t.Errorf("POST %s not documented", path)
		}
	}

	schemas := server.GetAPI().OpenAPI().Components.Schemas.Map()
	for _, name := range []string{"SupervisorStatus", "ChannelStatus"} {
		if _, ok := schemas[name]; !ok {
			t.Errorf("schema %s missing", name)
		}
	}

	srv := httptest.NewServer(server.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/openapi.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("openapi.json status = %d", resp.StatusCode)
	}
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("openapi.json: %v", err)
	}
}

func TestJoystickForwardsOneLine(t *testing.T) {
	env := newTestEnv(t, true)

	status, body := env.post(t, "/joystick", `{"x": 1, "y": -1}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %s", status, body)
	}
	if body != `{"status":"ok","sent":{"x":1,"y":-1}}` {
		t.Errorf("body = %s", body)
	}
	if got := env.port.String(); got != "{\"x\":1,\"y\":-1}\n" {
		t.Errorf("link received %q", got)
	}
}

func TestRunForwardsProgramOnOneLine(t *testing.T) {
	env := newTestEnv(t, true)

	program := "{\n  \"blocks\": [\n    {\"op\": \"forward\", \"value\": 2},\n    {\"op\": \"stop\"}\n  ]\n}"
	status, body := env.post(t, "/run", program)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %s", status, body)
	}

	want := `{"blocks":[{"op":"forward","value":2},{"op":"stop"}]}`
	if got := env.port.String(); got != want+"\n" {
		t.Errorf("link received %q", got)
	}
	var res struct {
		Status string          `json:"status"`
		Sent   json.RawMessage `json:"sent"`
	}
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		t.Fatal(err)
	}
	if res.Status != "ok" || string(res.Sent) != want {
		t.Errorf("response = %s", body)
	}
}

func TestCommandMalformedBody(t *testing.T) {
	env := newTestEnv(t, true)

	for _, path := range []string{"/joystick", "/run"} {
		for _, body := range []string{"not json", "", `{"x": 1`, "{'x': 1}"} {
			t.Run(path+" "+body, func(t *testing.T) {
				status, resp := env.post(t, path, body)
				if status != http.StatusBadRequest {
					t.Fatalf("status = %d, body = %s", status, resp)
				}
				var res commandResult
				if err := json.Unmarshal([]byte(resp), &res); err != nil {
					t.Fatalf("error body is not JSON: %s", resp)
				}
				if res.Status != "error" || res.Message == "" {
					t.Errorf("response = %s", resp)
				}
			})
		}
	}
	if got := env.port.String(); got != "" {
		t.Errorf("malformed bodies reached the link: %q", got)
	}
}

func TestCommandRejectsNonObject(t *testing.T) {
	env := newTestEnv(t, true)

	for _, body := range []string{`[1, 2]`, `"forward"`, `42`, `null`} {
		t.Run(body, func(t *testing.T) {
			status, resp := env.post(t, "/run", body)
			if status != http.StatusBadRequest || !strings.Contains(resp, `"status":"error"`) {
				t.Errorf("status = %d, body = %s", status, resp)
			}
		})
	}
	if got := env.port.String(); got != "" {
		t.Errorf("link received %q", got)
	}
}

func TestCommandWithoutBody(t *testing.T) {
	env := newTestEnv(t, true)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/joystick", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing allow-origin header")
	}
	var res commandResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Status != "error" || res.Message == "" {
		t.Errorf("response = %+v", res)
	}
}

func TestCommandBodyTooLarge(t *testing.T) {
	env := newTestEnv(t, true)

	body := `{"pad":"` + strings.Repeat("x", controlReadLimit) + `"}`
	status, resp := env.post(t, "/run", body)
	if status != http.StatusRequestEntityTooLarge || !strings.Contains(resp, `"status":"error"`) {
		t.Errorf("status = %d, body = %.80s", status, resp)
	}
	if got := env.port.String(); got != "" {
		t.Errorf("link received %d bytes", len(got))
	}
}

func TestCommandWithoutLinkStillOK(t *testing.T) {
	env := newTestEnv(t, false)

	status, body := env.post(t, "/joystick", `{"x":0,"y":0}`)
	if status != http.StatusOK || body != `{"status":"ok","sent":{"x":0,"y":0}}` {
		t.Errorf("status = %d, body = %s", status, body)
	}
}

func TestControlSocket(t *testing.T) {
	env := newTestEnv(t, true)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/control"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	exchange := func(kind int, msg string) commandResult {
		t.Helper()
		if err := conn.WriteMessage(kind, []byte(msg)); err != nil {
			t.Fatal(err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, reply, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		var res commandResult
		if err := json.Unmarshal(reply, &res); err != nil {
			t.Fatalf("reply %q: %v", reply, err)
		}
		return res
	}

	if res := exchange(websocket.TextMessage, `{"x": 0.5, "y": 0}`); res.Status != "ok" || string(res.Sent) != `{"x":0.5,"y":0}` {
		t.Errorf("reply = %+v", res)
	}
	if res := exchange(websocket.TextMessage, `nope`); res.Status != "error" {
		t.Errorf("reply = %+v", res)
	}
	if res := exchange(websocket.BinaryMessage, `{"x":1}`); res.Status != "error" {
		t.Errorf("reply = %+v", res)
	}

	if got := env.port.String(); got != "{\"x\":0.5,\"y\":0}\n" {
		t.Errorf("link received %q", got)
	}
}

func TestSnapshot(t *testing.T) {
	env := newTestEnv(t, true)

	resp, err := http.Get(env.srv.URL + "/api/snapshot")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status before any frame = %d", resp.StatusCode)
	}

	jpg := []byte{0xFF, 0xD8, 0x42, 0xFF, 0xD9}
	env.hub.Publish(capture.Frame{Seq: 7, JPEG: jpg})

	resp, err = http.Get(env.srv.URL + "/api/snapshot")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q", ct)
	}
	if resp.Header.Get("X-Frame-Seq") != "7" {
		t.Errorf("frame seq header = %q", resp.Header.Get("X-Frame-Seq"))
	}
	if !bytes.Equal(data, jpg) {
		t.Errorf("body = % x", data)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, true)
	env.hub.Publish(capture.Frame{Seq: 3, JPEG: []byte{0xFF, 0xD8, 0xFF, 0xD9}, Placeholder: true})

	resp, err := http.Get(env.srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var st struct {
		Camera struct {
			State  string `json:"state"`
			Source string `json:"source"`
		} `json:"camera"`
		Stream struct {
			Consumers   int    `json:"consumers"`
			LastSeq     uint64 `json:"last_seq"`
			Placeholder bool   `json:"placeholder"`
		} `json:"stream"`
		Link struct {
			Device    string `json:"device"`
			Connected bool   `json:"connected"`
		} `json:"link"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Camera.State != "streaming" || st.Camera.Source != "front" {
		t.Errorf("camera = %+v", st.Camera)
	}
	if st.Stream.LastSeq != 3 || !st.Stream.Placeholder || st.Stream.Consumers != 0 {
		t.Errorf("stream = %+v", st.Stream)
	}
	if !st.Link.Connected || st.Link.Device != "/dev/ttyTEST" {
		t.Errorf("link = %+v", st.Link)
	}
}

func TestLinkPorts(t *testing.T) {
	env := newTestEnv(t, true)

	resp, err := http.Get(env.srv.URL + "/api/link/ports")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out struct {
		Ports []link.PortInfo `json:"ports"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Ports) != 1 || out.Ports[0].Name != "/dev/ttyACM0" || !out.Ports[0].USB {
		t.Errorf("ports = %+v", out.Ports)
	}
}

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t, true)

	for _, path := range []string{"/api/health", "/api/version"} {
		resp, err := http.Get(env.srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, true)

	req, _ := http.NewRequest(http.MethodOptions, env.srv.URL+"/joystick", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing allow-origin header")
	}
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("content type = %s", resp.Header.Get("Content-Type"))
	}

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if line := sc.Text(); strings.HasPrefix(line, "data:") {
				lines <- line
			}
		}
	}()

	next := func() string {
		select {
		case l := <-lines:
			return l
		case <-ctx.Done():
			t.Fatal("timeout waiting for event")
			return ""
		}
	}

	if first := next(); !strings.Contains(first, `"state":"streaming"`) {
		t.Errorf("first event = %s", first)
	}

	// The subscription is set up before the first event is sent.
	env.bus.Publish(events.LinkStateChangedEvent{Device: "/dev/ttyACM0", Connected: true})
	if ev := next(); !strings.Contains(ev, `"device":"/dev/ttyACM0"`) {
		t.Errorf("event = %s", ev)
	}
}

// readPartPayload reads one multipart part from the video feed.
func readPartPayload(r *bufio.Reader) ([]byte, error) {
	header, err := r.Peek(len("--frame\r\nContent-Type: image/jpeg\r\n\r\n"))
	if err != nil {
		return nil, err
	}
	if string(header) != "--frame\r\nContent-Type: image/jpeg\r\n\r\n" {
		return nil, errors.New("bad part header")
	}
	_, _ = r.Discard(len(header))

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

func TestVideoFeedPlaceholderWithoutCamera(t *testing.T) {
	env := newTestEnv(t, true)

	tuning := capture.DefaultTuning()
	tuning.Backoff = 50 * time.Millisecond
	tuning.PlaceholderInterval = 10 * time.Millisecond
	tuning.SettleDelay = 0
	tuning.DrainPause = 0

	sup := capture.NewSupervisor(capture.Options{
		Sources: []capture.Descriptor{{Kind: capture.KindV4L2, Target: "/dev/video9"}},
		Backend: capture.BackendFunc(func(context.Context, capture.Descriptor, capture.Hints) (capture.Handle, error) {
			return nil, errors.New("no such device")
		}),
		Tuning:  tuning,
		Quality: capture.DefaultJPEGQuality,
		Sink:    env.hub,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	resp, err := http.Get(env.srv.URL + "/video_feed")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Fatalf("content type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	var first []byte
	for i := 0; i < 3; i++ {
		payload, err := readPartPayload(r)
		if err != nil {
			t.Fatalf("part %d: %v", i, err)
		}
		if !bytes.HasPrefix(payload, []byte{0xFF, 0xD8}) {
			t.Fatalf("part %d is not a JPEG", i)
		}
		if first == nil {
			first = payload
		} else if !bytes.Equal(first, payload) {
			t.Errorf("placeholder part %d differs from the first", i)
		}
	}
}
