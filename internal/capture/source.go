package capture

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Kind selects the backend that opens a descriptor.
type Kind string

// Backend kinds.
const (
	KindIndex    Kind = "index"    // OpenCV device index
	KindV4L2     Kind = "v4l2"     // V4L2 device path, MJPEG mode
	KindPipeline Kind = "pipeline" // subprocess writing MJPEG to stdout
	KindPattern  Kind = "pattern"  // synthetic test pattern
)

var knownKinds = []Kind{KindIndex, KindV4L2, KindPipeline, KindPattern}

// Descriptor names one way of opening a camera. Textual form is kind:target[#label].
type Descriptor struct {
	Kind   Kind   `json:"kind" example:"v4l2" doc:"Backend kind"`
	Target string `json:"target" example:"/dev/video0" doc:"Device index, path or command line"`
	Label  string `json:"label,omitempty" example:"front" doc:"Human readable name"`
}

// Name returns the label, or kind:target when no label is set.
func (d Descriptor) Name() string {
	if d.Label != "" {
		return d.Label
	}
	return string(d.Kind) + ":" + d.Target
}

func (d Descriptor) String() string {
	s := string(d.Kind) + ":" + d.Target
	if d.Label != "" {
		s += "#" + d.Label
	}
	return s
}

// ParseDescriptor parses a single kind:target[#label] string. The text after
// the last '#' is a label only when it contains no whitespace, so pipeline
// command lines keep any '#' followed by more arguments.
func ParseDescriptor(s string) (Descriptor, error) {
	s = strings.TrimSpace(s)
	kind, rest, ok := strings.Cut(s, ":")
	if !ok || rest == "" {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrInvalidDescriptor, s)
	}

	d := Descriptor{Kind: Kind(strings.ToLower(kind))}
	if !isKnownKind(d.Kind) {
		return Descriptor{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidDescriptor, kind)
	}

	if i := strings.LastIndex(rest, "#"); i != -1 && !strings.ContainsFunc(rest[i+1:], unicode.IsSpace) {
		d.Label = rest[i+1:]
		rest = rest[:i]
	}
	d.Target = strings.TrimSpace(rest)
	if d.Target == "" {
		return Descriptor{}, fmt.Errorf("%w: empty target in %q", ErrInvalidDescriptor, s)
	}

	if d.Kind == KindIndex {
		if n, err := strconv.Atoi(d.Target); err != nil || n < 0 {
			return Descriptor{}, fmt.Errorf("%w: index must be a non-negative integer, got %q", ErrInvalidDescriptor, d.Target)
		}
	}
	return d, nil
}

// ParseDescriptors parses a comma separated priority list. A comma only
// starts a new descriptor when it is followed by a known kind prefix, so
// pipeline command lines may contain commas.
func ParseDescriptors(s string) ([]Descriptor, error) {
	var parts []string
	for _, piece := range strings.Split(s, ",") {
		if len(parts) > 0 && !hasKindPrefix(piece) {
			parts[len(parts)-1] += "," + piece
			continue
		}
		parts = append(parts, piece)
	}

	var out []Descriptor
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		d, err := ParseDescriptor(part)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no sources configured", ErrInvalidDescriptor)
	}
	return out, nil
}

func hasKindPrefix(s string) bool {
	kind, _, ok := strings.Cut(strings.TrimSpace(s), ":")
	return ok && isKnownKind(Kind(strings.ToLower(kind)))
}

func isKnownKind(k Kind) bool {
	for _, known := range knownKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Hints are the requested capture parameters. Backends apply what they can.
type Hints struct {
	Width       int
	Height      int
	FPS         int
	ReadTimeout time.Duration
}

// RawFrame is one frame as delivered by a backend: either JPEG bytes or a
// decoded image.
type RawFrame struct {
	JPEG       []byte
	Image      image.Image
	CapturedAt time.Time
}

// Handle is an open camera. It is owned by exactly one Session.
type Handle interface {
	// Read returns the next frame. A miss wraps ErrReadFailure; any other
	// error means the handle is unusable.
	Read() (RawFrame, error)
	// Ready reports whether the handle can deliver frames.
	Ready() bool
	// Close releases the device. It is idempotent and never fails the caller.
	Close() error
}

// Configurer is implemented by handles that accept capture hints after open.
type Configurer interface {
	Configure(h Hints) error
}

// Backend opens descriptors of one kind. Open never retries.
type Backend interface {
	Open(ctx context.Context, d Descriptor, h Hints) (Handle, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, d Descriptor, h Hints) (Handle, error)

// Open calls f.
func (f BackendFunc) Open(ctx context.Context, d Descriptor, h Hints) (Handle, error) {
	return f(ctx, d, h)
}

// Registry dispatches Open to the backend registered for the descriptor kind.
type Registry struct {
	mu       sync.RWMutex
	backends map[Kind]Backend
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[Kind]Backend)}
}

// NewDefaultRegistry returns a registry with every backend this build supports.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindIndex, newIndexBackend())
	r.Register(KindV4L2, newV4L2Backend())
	r.Register(KindPipeline, newPipelineBackend())
	r.Register(KindPattern, newPatternBackend())
	return r
}

// Register sets the backend for kind, replacing any previous one.
func (r *Registry) Register(kind Kind, b Backend) {
	r.mu.Lock()
	r.backends[kind] = b
	r.mu.Unlock()
}

// Open implements Backend.
func (r *Registry) Open(ctx context.Context, d Descriptor, h Hints) (Handle, error) {
	r.mu.RLock()
	b, ok := r.backends[d.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, d.Kind)
	}
	return b.Open(ctx, d, h)
}
