package native

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyrange/rvvm/internal/hv"
)

// openOrSkip skips unless librvvm is available, either through RVVM_LIBRARY
// or the default search path.
func openOrSkip(t *testing.T) hv.Runtime {
	t.Helper()
	rt, err := Open(os.Getenv(LibraryEnv))
	if errors.Is(err, hv.ErrRuntimeUnavailable) {
		t.Skipf("librvvm not available: %v", err)
	}
	require.NoError(t, err)
	return rt
}

func TestNativeMachineLifecycle(t *testing.T) {
	rt := openOrSkip(t)
	require.Equal(t, "native", rt.Name())

	m, err := rt.NewMachine(hv.MachineConfig{Harts: 1, MemBase: hv.DefaultMemBase, MemSize: 4096})
	require.NoError(t, err)
	defer m.Close()

	require.True(t, m.WriteRAM(hv.DefaultMemBase, []byte("rvvm")))
	out := make([]byte, 4)
	require.True(t, m.ReadRAM(out, hv.DefaultMemBase))
	require.Equal(t, "rvvm", string(out))
	require.Nil(t, m.GetMMIO(-1))
}

func TestNewMachineRejectsZeroHarts(t *testing.T) {
	rt := openOrSkip(t)

	_, err := rt.NewMachine(hv.MachineConfig{Harts: 0, MemBase: hv.DefaultMemBase, MemSize: 4096})
	require.Error(t, err)
}
