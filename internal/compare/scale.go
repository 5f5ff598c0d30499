package compare

import (
	"fmt"
	"math"
	"strings"
)

// Scale is the unit the caller's values are expressed in.
type Scale int

const (
	// ScaleTPM means values are raw transcripts per million.
	ScaleTPM Scale = iota + 1
	// ScaleLog2TPM means values are already log2(TPM+1).
	ScaleLog2TPM
)

// ParseScale maps a user-facing scale name to a Scale.
func ParseScale(s string) (Scale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tpm", "raw":
		return ScaleTPM, nil
	case "log2(tpm+1)", "log2", "log2tpm", "log":
		return ScaleLog2TPM, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidScale, s)
}

// Valid reports whether s is one of the two known scales.
func (s Scale) Valid() bool {
	return s == ScaleTPM || s == ScaleLog2TPM
}

func (s Scale) String() string {
	switch s {
	case ScaleTPM:
		return "TPM"
	case ScaleLog2TPM:
		return "log2(TPM+1)"
	}
	return fmt.Sprintf("Scale(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Scale) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, ErrInvalidScale
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scale) UnmarshalText(b []byte) error {
	v, err := ParseScale(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Log2p1 returns log2(v+1) for every value in a new slice.
func Log2p1(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Log2(v + 1)
	}
	return out
}

// foldChangeValues returns the values the fold change is computed on: raw TPM is
// log-transformed, log2(TPM+1) input is used as is.
func (s Scale) foldChangeValues(values []float64) []float64 {
	if s == ScaleTPM {
		return Log2p1(values)
	}
	return values
}
