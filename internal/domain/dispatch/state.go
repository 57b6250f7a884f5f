package dispatch

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusDraft                 Status = "draft"
	StatusManifestLoaded        Status = "manifest-loaded"
	StatusStoreCountsCalculated Status = "store-counts-calculated"
	StatusDistributed           Status = "distributed"
	StatusError                 Status = "error"
)

// store-counts-calculated loops on itself so the calculator can be re-run, and steps back to
// manifest-loaded when a parameter refresh invalidates its bounds. Every other edge moves forward.
var transitions = map[Status][]Status{
	StatusDraft:                 {StatusManifestLoaded, StatusError},
	StatusManifestLoaded:        {StatusStoreCountsCalculated, StatusError},
	StatusStoreCountsCalculated: {StatusStoreCountsCalculated, StatusManifestLoaded, StatusDistributed, StatusError},
	StatusDistributed:           {},
	StatusError:                 {},
}

func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := transitions[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

func (s Status) IsTerminal() bool {
	return s == StatusDistributed || s == StatusError
}

func CanTransition(from Status, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ValidateTransition(from Status, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	if from == StatusDistributed {
		return fmt.Errorf("%w: %s -> %s", ErrRunDistributed, from, to)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// CanDelete reports whether a run may be abandoned. Distributed runs are kept for export.
func CanDelete(status Status) bool {
	return status != StatusDistributed
}
