package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/smazurov/rovercam/internal/capture"
	"github.com/smazurov/rovercam/internal/logging"
	"github.com/spf13/cobra"
)

// ProbeResult is the outcome of opening one descriptor.
type ProbeResult struct {
	Source   string
	Err      error
	Bytes    int
	Elapsed  time.Duration
	Attempts int
}

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	var sources string
	var width, height, fps, reads int
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Try each camera source once",
		Long: `Opens every configured camera source in priority order, reads one frame and reports ` +
			`whether it produced a valid JPEG. Exits non-zero when no source works.`,
		Args: cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})

			descs, err := capture.ParseDescriptors(sources)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(2)
			}

			ctx, cancel := context.WithCancel(c.Context())
			defer cancel()

			hints := capture.Hints{Width: width, Height: height, FPS: fps, ReadTimeout: timeout}
			results := ProbeSources(ctx, capture.NewDefaultRegistry(), descs, hints, reads)
			if PrintProbeResults(os.Stdout, results) == 0 {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVar(&sources, "sources", "v4l2:/dev/video0,index:0", "Camera sources in priority order")
	cmd.Flags().IntVar(&width, "width", 640, "Requested frame width")
	cmd.Flags().IntVar(&height, "height", 480, "Requested frame height")
	cmd.Flags().IntVar(&fps, "fps", 30, "Requested frame rate")
	cmd.Flags().IntVar(&reads, "reads", 5, "Reads to attempt per source before giving up")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "Per-read timeout")

	return cmd
}

// ProbeSources opens each descriptor, reads until one frame encodes or
// reads attempts are spent, and closes the handle again.
func ProbeSources(ctx context.Context, backend capture.Backend, descs []capture.Descriptor, hints capture.Hints, reads int) []ProbeResult {
	if reads < 1 {
		reads = 1
	}
	enc := capture.Encoder{Quality: capture.DefaultJPEGQuality}

	results := make([]ProbeResult, 0, len(descs))
	for _, d := range descs {
		start := time.Now()
		res := ProbeResult{Source: d.String()}

		h, err := backend.Open(ctx, d, hints)
		if err != nil {
			res.Err = err
			res.Elapsed = time.Since(start)
			results = append(results, res)
			continue
		}
		if cfg, ok := h.(capture.Configurer); ok {
			_ = cfg.Configure(hints)
		}

		res.Err = capture.ErrDeviceUnavailable
		if h.Ready() {
			for res.Attempts < reads && ctx.Err() == nil {
				res.Attempts++
				raw, readErr := h.Read()
				if readErr != nil {
					res.Err = readErr
					if !errors.Is(readErr, capture.ErrReadFailure) {
						break
					}
					continue
				}
				data, encErr := enc.Encode(raw)
				if encErr != nil {
					res.Err = encErr
					continue
				}
				res.Err = nil
				res.Bytes = len(data)
				break
			}
		}
		_ = h.Close()

		res.Elapsed = time.Since(start)
		results = append(results, res)
	}
	return results
}

// PrintProbeResults writes one line per result and returns how many succeeded.
func PrintProbeResults(w io.Writer, results []ProbeResult) int {
	ok := 0
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "FAIL  %-32s %v (%s)\n", r.Source, r.Err, r.Elapsed.Round(time.Millisecond))
			continue
		}
		ok++
		fmt.Fprintf(w, "OK    %-32s %d bytes after %d read(s) (%s)\n",
			r.Source, r.Bytes, r.Attempts, r.Elapsed.Round(time.Millisecond))
	}
	return ok
}
