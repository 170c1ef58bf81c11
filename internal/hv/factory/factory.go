// Package factory selects a runtime backend by name.
package factory

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/rvvm/internal/hv"
	"github.com/tinyrange/rvvm/internal/native"
	"github.com/tinyrange/rvvm/internal/softvm"
)

const (
	BackendAuto   = "auto"
	BackendSoft   = "soft"
	BackendNative = "native"
)

// Open returns the named backend. "auto" (or "") prefers librvvm and falls
// back to the in-process runtime when the library cannot be loaded.
func Open(backend string, libraryPath string) (hv.Runtime, error) {
	switch backend {
	case BackendSoft:
		return softvm.Open()
	case BackendNative:
		return native.Open(libraryPath)
	case BackendAuto, "":
		rt, err := native.Open(libraryPath)
		if err == nil {
			return rt, nil
		}
		if !errors.Is(err, hv.ErrRuntimeUnavailable) {
			return nil, err
		}
		slog.Debug("factory: librvvm unavailable, using in-process runtime", "error", err)
		return softvm.Open()
	default:
		return nil, fmt.Errorf("unsupported backend %q", backend)
	}
}
