package compare

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData means a group has too few samples for the rank-sum test.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrUnknownGroup means a requested group label is absent from the input.
	ErrUnknownGroup = errors.New("unknown group")
	// ErrInvalidScale means the scale is neither TPM nor log2(TPM+1).
	ErrInvalidScale = errors.New("invalid scale")
)

// PairError records why a pair was left out of a comparison.
type PairError struct {
	Group1 string `json:"group1"`
	Group2 string `json:"group2"`
	Err    error  `json:"-"`
}

func (e *PairError) Error() string {
	return fmt.Sprintf("%s vs %s: %v", e.Group1, e.Group2, e.Err)
}

func (e *PairError) Unwrap() error { return e.Err }

// MarshalJSON includes the error text, which encoding/json would otherwise drop.
func (e PairError) MarshalJSON() ([]byte, error) {
	reason := ""
	if e.Err != nil {
		reason = e.Err.Error()
	}
	return json.Marshal(struct {
		Group1 string `json:"group1"`
		Group2 string `json:"group2"`
		Reason string `json:"reason"`
	}{e.Group1, e.Group2, reason})
}
