package statemap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onepass-dev/onepass/internal/asm/amd64"
	"github.com/onepass-dev/onepass/internal/machine"
)

// TestReconstructMatchesRecordedState is spec.md §8 property 2: state
// reconstructibility. Applying the diff chain back from a recorded suspend
// point must yield a MachineState whose contents agree with what was live
// at the moment Record was called.
func TestReconstructMatchesRecordedState(t *testing.T) {
	initial := machine.MachineState{}
	sm := New(initial, 0)

	enclosing := machine.MachineState{}
	cur := enclosing.Clone()
	cur.SetRegister(amd64.RegAX, machine.MVWasmStack(0))
	cur.PushStackValue(machine.MVWasmStack(1))
	cur.VMInstructionIndex = 3

	id := sm.Record(Loop, 10, 10, enclosing, noPrev, cur)

	got := sm.Reconstruct(id)
	require.Equal(t, cur, got)
}

// TestReconstructChainsThroughMultipleDiffs checks that a second suspend
// point recorded against the first's resulting state reconstructs
// correctly by walking the whole back-link chain, not just one hop.
func TestReconstructChainsThroughMultipleDiffs(t *testing.T) {
	initial := machine.MachineState{}
	sm := New(initial, 0)

	s1 := initial.Clone()
	s1.SetRegister(amd64.RegAX, machine.MVWasmStack(0))
	id1 := sm.Record(Trappable, 5, 5, initial, noPrev, s1)

	s2 := s1.Clone()
	s2.SetRegister(amd64.RegCX, machine.MVWasmStack(1))
	s2.PushStackValue(machine.MVWasmStack(2))
	id2 := sm.Record(Call, 20, 20, s1, id1, s2)

	require.Equal(t, s1, sm.Reconstruct(id1))
	require.Equal(t, s2, sm.Reconstruct(id2))
}

// TestLookupFindsExactNativeOffset exercises the sorted per-kind suspend
// table a trap/interrupt handler binary-searches by native offset.
func TestLookupFindsExactNativeOffset(t *testing.T) {
	sm := New(machine.MachineState{}, 0)
	sm.Record(Loop, 16, 16, machine.MachineState{}, noPrev, machine.MachineState{})
	sm.Record(Loop, 32, 32, machine.MachineState{}, noPrev, machine.MachineState{})

	sp, ok := sm.Lookup(Loop, 32)
	require.True(t, ok)
	require.Equal(t, int32(32), sp.NativeOffset)

	_, ok = sm.Lookup(Loop, 17)
	require.False(t, ok)
}
