// Package tools provides the engine's built-in self-referential tools:
// retrying the last failed action and recalling previously generated
// assets. Capability tools (media generation, search, messaging) live with
// their capabilities and register themselves the same way.
package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// reflectSchema derives a plain JSON Schema object from an args struct.
func reflectSchema(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)
	raw, err := json.Marshal(schema)
	if err != nil {
		// Reflection over our own static structs cannot fail at runtime.
		panic(err)
	}
	return raw
}
