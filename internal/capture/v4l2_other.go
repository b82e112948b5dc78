//go:build !linux

package capture

import (
	"context"
	"fmt"
)

func newV4L2Backend() Backend {
	return BackendFunc(func(context.Context, Descriptor, Hints) (Handle, error) {
		return nil, fmt.Errorf("%w: v4l2 is only available on linux", ErrUnsupportedBackend)
	})
}
