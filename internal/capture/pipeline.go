package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/rovercam/internal/logging"
	"github.com/smazurov/rovercam/internal/process"
)

const defaultReadTimeout = 2 * time.Second

var errPipelineExited = errors.New("pipeline exited")

type pipelineBackend struct{}

func newPipelineBackend() Backend { return pipelineBackend{} }

// Open starts the command line in d.Target. Its stdout must be an MJPEG byte
// stream, for example "ffmpeg -f v4l2 -i /dev/video0 -f mjpeg -".
func (pipelineBackend) Open(_ context.Context, d Descriptor, h Hints) (Handle, error) {
	logger := logging.GetLogger("pipeline")

	proc := process.NewProcess(d.Name(), d.Target, logger)
	proc.SetLogParser(logger, parserFor(d.Target))

	stdout, err := proc.Start()
	if err != nil {
		return nil, err
	}

	timeout := h.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}

	p := &pipelineHandle{
		proc:    proc,
		frames:  make(chan []byte, 1),
		timeout: timeout,
	}
	go p.pump(NewJPEGScanner(stdout))
	return p, nil
}

// parserFor picks a stderr log parser from the executable name.
func parserFor(command string) process.LogParser {
	exe, _, _ := strings.Cut(strings.TrimSpace(command), " ")
	switch base := filepath.Base(exe); {
	case base == "ffmpeg":
		return process.ParseFFmpegLevel
	case strings.HasPrefix(base, "libcamera"), strings.HasPrefix(base, "rpicam"):
		return process.ParseLibcameraLevel
	default:
		return nil
	}
}

type pipelineHandle struct {
	proc    *process.Process
	frames  chan []byte
	timeout time.Duration

	closeOnce sync.Once
}

// pump keeps only the newest frame so a slow reader never stalls the subprocess.
func (p *pipelineHandle) pump(sc *bufio.Scanner) {
	defer close(p.frames)
	for sc.Scan() {
		frame := append([]byte(nil), sc.Bytes()...)
		select {
		case p.frames <- frame:
		default:
			select {
			case <-p.frames:
			default:
			}
			p.frames <- frame
		}
	}
}

func (p *pipelineHandle) Ready() bool {
	select {
	case <-p.proc.Done():
		return false
	default:
		return true
	}
}

func (p *pipelineHandle) Read() (RawFrame, error) {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case frame, ok := <-p.frames:
		if !ok {
			return RawFrame{}, fmt.Errorf("%w: exit code %d", errPipelineExited, p.proc.ExitCode())
		}
		return RawFrame{JPEG: frame, CapturedAt: time.Now()}, nil
	case <-timer.C:
		return RawFrame{}, fmt.Errorf("%w: no frame within %s", ErrReadFailure, p.timeout)
	}
}

func (p *pipelineHandle) Close() error {
	p.closeOnce.Do(func() {
		p.proc.Stop()
	})
	return nil
}
