package allocator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"stockdispatch/internal/domain/dispatch"
	"stockdispatch/internal/ports"
)

// BuiltinConfig is the payload of a `builtin` procedure.
type BuiltinConfig struct {
	Algorithm string `json:"algorithm,omitempty"`
}

// Registry maps a snapshotted procedure onto an Allocator.
type Registry struct {
	weighted *Weighted
	dsn      string
	client   *http.Client
}

var _ ports.AllocatorResolver = (*Registry)(nil)

func NewRegistry(weighted *Weighted, dsn string, client *http.Client) *Registry {
	return &Registry{weighted: weighted, dsn: dsn, client: client}
}

func (r *Registry) Resolve(ref ports.AllocationProcedureRef) (ports.Allocator, error) {
	kind, err := dispatch.ParseProcedureKind(ref.Kind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case dispatch.ProcedureBuiltin:
		cfg, err := decodeBuiltin(ref)
		if err != nil {
			return nil, err
		}
		if r.weighted == nil {
			return nil, fmt.Errorf("%w: builtin %q is not available", dispatch.ErrInvalidProcedure, cfg.Algorithm)
		}
		return r.weighted, nil
	case dispatch.ProcedureProcess:
		cfg, err := decodeProcess(ref)
		if err != nil {
			return nil, err
		}
		return NewProcess(cfg, r.dsn), nil
	default:
		cfg, err := decodeHTTP(ref)
		if err != nil {
			return nil, err
		}
		return NewHTTP(cfg, r.client), nil
	}
}

// ValidatePayload checks that a procedure payload decodes for its kind.
func ValidatePayload(procedure dispatch.Procedure) error {
	if err := procedure.Validate(); err != nil {
		return err
	}

	ref := ports.AllocationProcedureRef{
		Name:    procedure.Name,
		Kind:    string(procedure.Kind),
		Payload: procedure.Payload,
	}
	var err error
	switch procedure.Kind {
	case dispatch.ProcedureBuiltin:
		_, err = decodeBuiltin(ref)
	case dispatch.ProcedureProcess:
		_, err = decodeProcess(ref)
	default:
		_, err = decodeHTTP(ref)
	}
	return err
}

func decodeBuiltin(ref ports.AllocationProcedureRef) (BuiltinConfig, error) {
	var cfg BuiltinConfig
	if err := decodePayload(ref, &cfg); err != nil {
		return BuiltinConfig{}, err
	}
	cfg.Algorithm = strings.ToLower(strings.TrimSpace(cfg.Algorithm))
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmWeighted
	}
	if cfg.Algorithm != AlgorithmWeighted {
		return BuiltinConfig{}, fmt.Errorf("%w: unknown builtin algorithm %q", dispatch.ErrInvalidProcedure, cfg.Algorithm)
	}
	return cfg, nil
}

func decodeProcess(ref ports.AllocationProcedureRef) (ProcessConfig, error) {
	var cfg ProcessConfig
	if err := decodePayload(ref, &cfg); err != nil {
		return ProcessConfig{}, err
	}
	if strings.TrimSpace(cfg.Program) == "" {
		return ProcessConfig{}, fmt.Errorf("%w: procedure %q requires program", dispatch.ErrInvalidProcedure, ref.Name)
	}
	return cfg, nil
}

func decodeHTTP(ref ports.AllocationProcedureRef) (HTTPConfig, error) {
	var cfg HTTPConfig
	if err := decodePayload(ref, &cfg); err != nil {
		return HTTPConfig{}, err
	}
	url := strings.TrimSpace(cfg.URL)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return HTTPConfig{}, fmt.Errorf("%w: procedure %q requires an http(s) url", dispatch.ErrInvalidProcedure, ref.Name)
	}
	return cfg, nil
}

func decodePayload(ref ports.AllocationProcedureRef, out any) error {
	raw := bytes.TrimSpace(ref.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: procedure %q payload: %v", dispatch.ErrInvalidProcedure, ref.Name, err)
	}
	return nil
}
