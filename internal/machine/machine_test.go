package machine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onepass-dev/onepass/internal/asm"
)

// TestAcquireReleaseRoundTripsFreeState is spec.md §8 property 8:
// acquire-then-release on a temp GPR leaves the allocator's free-set and
// MachineState bit-identical.
func TestAcquireReleaseRoundTripsFreeState(t *testing.T) {
	m := New()
	before := m.State().Clone()
	freeBefore := append([]asm.Register(nil), m.freeGPR...)

	r, ok := m.AcquireTempGPR()
	require.True(t, ok)
	m.ReleaseTempGPR(r)

	require.Equal(t, freeBefore, m.freeGPR)
	require.Empty(t, m.usedGPR)
	require.Equal(t, before, m.State())
}

func TestAcquireLocationsPrefersRegisterThenStack(t *testing.T) {
	m := New()
	n := len(m.freeGPR)

	reqs := make([]Request, n+1)
	for i := range reqs {
		reqs[i] = Request{Type: I32, Value: MVWasmStack(i)}
	}
	locs := m.AcquireLocations(nil, reqs)

	for i := 0; i < n; i++ {
		require.Truef(t, locs[i].IsGPR(), "request %d should have been satisfied from the free GPR pool", i)
	}
	require.True(t, locs[n].IsMemory(), "request past the free pool should fall back to a frame slot")
	require.Empty(t, m.freeGPR)
}

// TestReleaseLocationsClearsMachineState checks the other half of
// allocator soundness (property 1): once a Location is fully released, its
// MachineValue no longer appears live in MachineState.
func TestReleaseLocationsClearsMachineState(t *testing.T) {
	m := New()
	locs := m.AcquireLocations(nil, []Request{{Type: I32, Value: MVWasmStack(0)}})
	require.True(t, locs[0].IsGPR())
	live := m.State()
	require.NotEqual(t, MVUndefined(), live.Register(locs[0].Reg))

	m.ReleaseLocations(locs)
	cleared := m.State()
	require.Equal(t, MVUndefined(), cleared.Register(locs[0].Reg))
}

// TestReleaseLocationsKeepStateLeavesStateIntact exercises the branch-edge
// sibling of ReleaseLocations: the physical register returns to the free
// pool, but the MachineState entry is deliberately left alone so a suspend
// point recorded at the branch itself still reconstructs correctly.
func TestReleaseLocationsKeepStateLeavesStateIntact(t *testing.T) {
	m := New()
	locs := m.AcquireLocations(nil, []Request{{Type: I32, Value: MVWasmStack(0)}})
	before := m.State()
	want := before.Register(locs[0].Reg)

	m.ReleaseLocationsKeepState(locs)

	require.Contains(t, m.freeGPR, locs[0].Reg)
	after := m.State()
	require.Equal(t, want, after.Register(locs[0].Reg))
}
