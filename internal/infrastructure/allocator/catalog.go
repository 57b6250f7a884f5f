package allocator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"stockdispatch/internal/domain/dispatch"
)

const catalogVersion = 1

type procedureEntry struct {
	Kind           string            `toml:"kind"`
	Algorithm      string            `toml:"algorithm"`
	Program        string            `toml:"program"`
	Args           []string          `toml:"args"`
	Dir            string            `toml:"dir"`
	URL            string            `toml:"url"`
	Headers        map[string]string `toml:"headers"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
}

type procedureFile struct {
	Version    int                       `toml:"version"`
	Active     string                    `toml:"active"`
	Procedures map[string]procedureEntry `toml:"procedures"`
}

// Catalog is the set of procedures declared in a procedures file.
type Catalog struct {
	Active     string
	Procedures []dispatch.Procedure
}

// LoadCatalog reads a procedures TOML file. Procedures come back sorted by name.
func LoadCatalog(path string) (Catalog, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return Catalog{}, errors.New("procedures file is required")
	}

	raw, err := os.ReadFile(trimmed)
	if err != nil {
		return Catalog{}, err
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (Catalog, error) {
	var file procedureFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return Catalog{}, err
	}
	if file.Version != catalogVersion {
		return Catalog{}, fmt.Errorf("unsupported procedures file version %d: expected version = %d", file.Version, catalogVersion)
	}

	names := make([]string, 0, len(file.Procedures))
	for name := range file.Procedures {
		names = append(names, name)
	}
	sort.Strings(names)

	out := Catalog{Active: strings.TrimSpace(file.Active)}
	for _, name := range names {
		procedure, err := buildProcedure(strings.TrimSpace(name), file.Procedures[name])
		if err != nil {
			return Catalog{}, err
		}
		if err := ValidatePayload(procedure); err != nil {
			return Catalog{}, err
		}
		out.Procedures = append(out.Procedures, procedure)
	}

	if out.Active != "" {
		if _, ok := file.Procedures[out.Active]; !ok {
			return Catalog{}, fmt.Errorf("%w: active procedure %q is not declared", dispatch.ErrInvalidProcedure, out.Active)
		}
	}
	return out, nil
}

func buildProcedure(name string, entry procedureEntry) (dispatch.Procedure, error) {
	kind, err := dispatch.ParseProcedureKind(entry.Kind)
	if err != nil {
		return dispatch.Procedure{}, fmt.Errorf("procedures.%s.kind: %w", name, err)
	}

	var payload any
	switch kind {
	case dispatch.ProcedureBuiltin:
		payload = BuiltinConfig{Algorithm: entry.Algorithm}
	case dispatch.ProcedureProcess:
		payload = ProcessConfig{
			Program:        entry.Program,
			Args:           entry.Args,
			Dir:            entry.Dir,
			TimeoutSeconds: entry.TimeoutSeconds,
		}
	default:
		payload = HTTPConfig{
			URL:            entry.URL,
			Headers:        entry.Headers,
			TimeoutSeconds: entry.TimeoutSeconds,
		}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return dispatch.Procedure{}, fmt.Errorf("encode procedures.%s payload: %w", name, err)
	}
	return dispatch.Procedure{Name: name, Kind: kind, Payload: encoded}, nil
}
