package breakpoint

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineBreakpoint_Properties(t *testing.T) {
	bp := NewLineBreakpoint("file:///src/Foo.java", 10)
	assert.True(t, bp.Enabled())
	assert.False(t, bp.Hidden())
	assert.Equal(t, "", bp.Condition())
	assert.Equal(t, ValidityUnknown, bp.Validity().Validity)

	var events []PropertyEvent
	bp.AddPropertyListener(func(ev PropertyEvent) {
		events = append(events, ev)
	})

	bp.SetLine(10) // unchanged
	bp.SetLine(12)
	bp.SetURL("file:///src/Bar.java")
	bp.SetEnabled(false)
	bp.SetCondition("x > 1")
	bp.SetHidden(true)

	require.Len(t, events, 5)
	assert.Equal(t, PropLine, events[0].Property)
	assert.Equal(t, 10, events[0].Old)
	assert.Equal(t, 12, events[0].New)
	assert.Equal(t, PropURL, events[1].Property)
	assert.Equal(t, PropEnabled, events[2].Property)
	assert.Equal(t, PropCondition, events[3].Property)
	assert.Equal(t, PropHidden, events[4].Property)
	for _, ev := range events {
		assert.Same(t, bp, ev.Source)
	}
}

func TestSetValidity_AlwaysFires(t *testing.T) {
	bp := NewLineBreakpoint("file:///src/Foo.java", 10)

	var got []ValidityState
	bp.AddPropertyListener(func(ev PropertyEvent) {
		if ev.Property == PropValidity {
			got = append(got, ev.New.(ValidityState))
		}
	})

	bp.SetValidity(ValidityInvalid, "no code at line")
	bp.SetValidity(ValidityInvalid, "no code at line")

	require.Len(t, got, 2)
	assert.Equal(t, "no code at line", got[0].String())
	assert.Equal(t, ValidityState{Validity: ValidityInvalid, Message: "no code at line"}, bp.Validity())
}

func TestListeners_DetachAndPanic(t *testing.T) {
	bp := NewFunctionBreakpoint("main.main")

	calls := 0
	bp.AddPropertyListener(func(PropertyEvent) { panic("boom") })
	detach := bp.AddPropertyListener(func(PropertyEvent) { calls++ })
	assert.Equal(t, 2, bp.ListenerCount())

	bp.SetEnabled(false)
	assert.Equal(t, 1, calls)

	detach()
	detach()
	assert.Equal(t, 1, bp.ListenerCount())

	bp.SetEnabled(true)
	assert.Equal(t, 1, calls)
}

func TestListeners_DetachDuringFire(t *testing.T) {
	bp := NewLineBreakpoint("file:///a.go", 1)

	var detach func()
	n := 0
	detach = bp.AddPropertyListener(func(PropertyEvent) {
		n++
		detach()
	})
	bp.SetLine(2)
	bp.SetLine(3)
	assert.Equal(t, 1, n)
}

func TestBreakpoint_IDsIncrease(t *testing.T) {
	a := NewLineBreakpoint("file:///a.go", 1)
	b := NewFunctionBreakpoint("f")
	assert.Less(t, a.ID(), b.ID())
	assert.Equal(t, fmt.Sprintf("breakpoint[%d] func f", b.ID()), b.String())
}

func TestParseValidity(t *testing.T) {
	for _, v := range []Validity{ValidityUnknown, ValidityValid, ValidityInvalid, ValidityPending} {
		got, err := ParseValidity(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	got, err := ParseValidity("")
	require.NoError(t, err)
	assert.Equal(t, ValidityUnknown, got)

	_, err = ParseValidity("verified")
	assert.Error(t, err)
}
