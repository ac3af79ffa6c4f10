package capture

import (
	"encoding/json"
)

// ExtractFields pulls the named fields out of a form or JSON object body.
// Every requested name is present in the result, empty when not submitted.
// Non-string JSON values are kept as their JSON text.
func ExtractFields(body Body, names ...string) []Field {
	found := make(map[string]string, len(names))

	switch body.Kind {
	case BodyForm:
		for _, f := range body.Fields {
			if _, seen := found[f.Name]; !seen {
				found[f.Name] = f.Value
			}
		}
	case BodyJSON:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body.Raw, &obj); err == nil {
			for _, name := range names {
				raw, ok := obj[name]
				if !ok {
					continue
				}
				var s string
				if err := json.Unmarshal(raw, &s); err == nil {
					found[name] = s
				} else {
					found[name] = string(raw)
				}
			}
		}
	}

	out := make([]Field, 0, len(names))
	for _, name := range names {
		out = append(out, Field{Name: name, Value: found[name]})
	}
	return out
}
