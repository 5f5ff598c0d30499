package service

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownPreset = errors.New("unknown comparison preset")
	ErrTumorRequired = errors.New("tumor is required")
	// ErrNoComparablePairs means every pair of the comparison was skipped.
	ErrNoComparablePairs = errors.New("no comparable group pairs")
	ErrInvalidThreshold  = errors.New("invalid threshold")
	ErrInvalidDirection  = errors.New("direction must be over or under")
	// ErrNoPairedSamples means the two genes share no sample of the tumor.
	ErrNoPairedSamples = errors.New("no paired samples")
)

// NoCellLinesError reports an empty cell line selection together with the observed range of
// expression in the requested scale.
type NoCellLinesError struct {
	Gene string
	Min  float64
	Max  float64
}

func (e *NoCellLinesError) Error() string {
	return fmt.Sprintf("no cell lines match the threshold for %s (observed range %.3g to %.3g)", e.Gene, e.Min, e.Max)
}
