//go:build !gocv

package capture

import (
	"context"
	"fmt"
)

func newIndexBackend() Backend {
	return BackendFunc(func(context.Context, Descriptor, Hints) (Handle, error) {
		return nil, fmt.Errorf("%w: index sources need a build with -tags gocv", ErrUnsupportedBackend)
	})
}
