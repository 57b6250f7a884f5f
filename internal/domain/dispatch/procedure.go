package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ProcedureKind string

const (
	ProcedureBuiltin ProcedureKind = "builtin"
	ProcedureProcess ProcedureKind = "process"
	ProcedureHTTP    ProcedureKind = "http"
)

// Procedure is the allocation procedure snapshotted on a run. Payload is kind specific JSON.
type Procedure struct {
	Name    string
	Kind    ProcedureKind
	Payload json.RawMessage
}

func ParseProcedureKind(raw string) (ProcedureKind, error) {
	switch kind := ProcedureKind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case ProcedureBuiltin, ProcedureProcess, ProcedureHTTP:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidProcedure, raw)
	}
}

func (p Procedure) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: procedure name is required", ErrInvalidProcedure)
	}
	if _, err := ParseProcedureKind(string(p.Kind)); err != nil {
		return err
	}
	if len(p.Payload) > 0 && !json.Valid(p.Payload) {
		return fmt.Errorf("%w: procedure %q payload is not valid json", ErrInvalidProcedure, p.Name)
	}
	return nil
}
