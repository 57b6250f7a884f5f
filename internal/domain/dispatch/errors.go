package dispatch

import (
	"errors"
	"fmt"

	"stockdispatch/internal/errs"
)

var (
	ErrRunIDRequired     = errs.WithKind(errors.New("run id is required"), errs.KindInput)
	ErrRunNameRequired   = errs.WithKind(errors.New("run name is required"), errs.KindInput)
	ErrManifestEmpty     = errs.WithKind(errors.New("manifest is empty or only contains the header"), errs.KindInput)
	ErrManifestHeader    = errs.WithKind(errors.New("manifest is missing a required column"), errs.KindInput)
	ErrInvalidParameters = errs.WithKind(errors.New("constraint minimums must be positive"), errs.KindInput)
	ErrInvalidProcedure  = errs.WithKind(errors.New("invalid allocation procedure"), errs.KindInput)

	ErrInvalidStatus      = errs.WithKind(errors.New("invalid run status"), errs.KindState)
	ErrInvalidTransition  = errs.WithKind(errors.New("invalid run status transition"), errs.KindState)
	ErrRunHasLineItems    = errs.WithKind(errors.New("run already has line items"), errs.KindState)
	ErrRunDistributed     = errs.WithKind(errors.New("run is already distributed"), errs.KindState)
	ErrAllocationInFlight = errs.WithKind(errors.New("allocation already in flight for run"), errs.KindState)
	ErrNothingToExport    = errs.WithKind(errors.New("nothing to export"), errs.KindState)

	ErrNoActiveParameters = errs.WithKind(errors.New("no active constraint parameters"), errs.KindState)
	ErrNoActiveProcedure  = errs.WithKind(errors.New("no active allocation procedure"), errs.KindState)
)

// PartialError reports a stage that stopped after committing some of its writes.
type PartialError struct {
	Stage     string
	Processed int
	Total     int
	Err       error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%s stopped after %d/%d items: %v", e.Stage, e.Processed, e.Total, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

func (e *PartialError) Kind() errs.Kind { return errs.KindPersistence }

// CollaboratorError carries a failure reported by an external collaborator, message kept verbatim.
type CollaboratorError struct {
	Collaborator string
	Message      string
	Err          error
}

func (e *CollaboratorError) Error() string {
	if e.Collaborator == "" {
		return e.Message
	}
	return e.Collaborator + ": " + e.Message
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

func (e *CollaboratorError) Kind() errs.Kind { return errs.KindCollaborator }
