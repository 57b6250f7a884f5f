package allocator

import (
	"encoding/json"

	"github.com/invopop/jsonschema"

	"stockdispatch/internal/ports"
)

// ContractSchema returns the JSON Schemas of the request a procedure receives and the
// result it must print, for authors of process and http procedures.
func ContractSchema() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
	}

	doc := map[string]*jsonschema.Schema{
		"request": reflector.Reflect(&ports.AllocationRequest{}),
		"result":  reflector.Reflect(&ports.AllocationResult{}),
	}
	return json.MarshalIndent(doc, "", "  ")
}
