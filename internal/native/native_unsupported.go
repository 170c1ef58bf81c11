//go:build !((linux || darwin) && (amd64 || arm64))

package native

import (
	"fmt"
	"runtime"

	"github.com/tinyrange/rvvm/internal/hv"
)

// LibraryEnv overrides the librvvm path when no explicit path is given.
const LibraryEnv = "RVVM_LIBRARY"

// Open always fails: purego callbacks are unavailable on this platform.
func Open(path string) (hv.Runtime, error) {
	return nil, fmt.Errorf("%w: native backend on %s/%s", hv.ErrRuntimeUnavailable, runtime.GOOS, runtime.GOARCH)
}
