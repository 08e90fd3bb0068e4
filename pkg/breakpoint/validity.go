package breakpoint

import (
	"fmt"
	"log"
	"sort"
)

// Validity 断点在目标调试器中是否生效
type Validity int

const (
	ValidityUnknown Validity = iota
	ValidityValid
	ValidityInvalid
	ValidityPending
)

func (v Validity) String() string {
	switch v {
	case ValidityValid:
		return "valid"
	case ValidityInvalid:
		return "invalid"
	case ValidityPending:
		return "pending"
	default:
		return "unknown"
	}
}

// ParseValidity parses the lower-case names produced by Validity.String.
func ParseValidity(s string) (Validity, error) {
	switch s {
	case "valid":
		return ValidityValid, nil
	case "invalid":
		return ValidityInvalid, nil
	case "pending":
		return ValidityPending, nil
	case "unknown", "":
		return ValidityUnknown, nil
	}
	return ValidityUnknown, fmt.Errorf("invalid validity: %s", s)
}

// ValidityState 有效性状态及附带的说明信息
type ValidityState struct {
	Validity Validity
	Message  string
}

// String returns the message, the part shown next to the breakpoint.
func (s ValidityState) String() string {
	return s.Message
}

func sortUint64s(keys []uint64) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}

// safeCall keeps one misbehaving listener from breaking delivery to the rest.
func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[bpmirror] breakpoint listener panic: %v", r)
		}
	}()
	fn()
}
