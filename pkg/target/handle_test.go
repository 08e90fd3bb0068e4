package target

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hitzhangjie/bpmirror/pkg/breakpoint"
)

type change struct {
	v   breakpoint.Validity
	msg string
}

func TestHandle(t *testing.T) {
	h := NewHandle(breakpoint.ValidityPending, "")
	v, msg := h.Validity()
	assert.Equal(t, breakpoint.ValidityPending, v)
	assert.Equal(t, "", msg)

	var a, b []change
	cancelA := h.OnValidityChange(func(v breakpoint.Validity, msg string) { a = append(a, change{v, msg}) })
	h.OnValidityChange(func(v breakpoint.Validity, msg string) { b = append(b, change{v, msg}) })
	assert.Equal(t, 2, h.Subscribers())

	h.Set(breakpoint.ValidityValid, "ok")
	assert.Equal(t, []change{{breakpoint.ValidityValid, "ok"}}, a)
	assert.Equal(t, a, b)

	cancelA()
	cancelA()
	h.Set(breakpoint.ValidityInvalid, "gone")
	assert.Len(t, a, 1)
	assert.Len(t, b, 2)

	h.Close()
	assert.Equal(t, 0, h.Subscribers())
	h.Set(breakpoint.ValidityValid, "late")
	assert.Len(t, b, 2)
	v, msg = h.Validity()
	assert.Equal(t, breakpoint.ValidityInvalid, v)
	assert.Equal(t, "gone", msg)

	h.OnValidityChange(func(breakpoint.Validity, string) {})()
	assert.Equal(t, 0, h.Subscribers())
}

func TestHandle_UnsubscribeDuringSet(t *testing.T) {
	h := NewHandle(breakpoint.ValidityPending, "")

	n := 0
	var cancel func()
	cancel = h.OnValidityChange(func(breakpoint.Validity, string) {
		n++
		cancel()
	})
	h.Set(breakpoint.ValidityValid, "")
	h.Set(breakpoint.ValidityInvalid, "")
	assert.Equal(t, 1, n)
}
