package capability

import "encoding/json"

// Mask is the sentinel clients see in place of stored password values, and
// the sentinel they send back to mean "keep the existing value".
const Mask = "***"

// Secret is a string whose JSON form is the mask whenever the value is
// non-empty. The stored value never leaves the process through serialization.
type Secret string

// MarshalJSON emits the mask for non-empty values.
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal(Mask)
}

// UnmarshalJSON accepts either a real value or the mask. The mask is kept
// verbatim; Resolve restores the prior value afterwards.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Secret(v)
	return nil
}

// Resolve returns the prior value when the incoming secret is the mask,
// otherwise the incoming value.
func (s Secret) Resolve(prior string) string {
	if string(s) == Mask {
		return prior
	}
	return string(s)
}

// passwordFields returns the names of password-typed fields in a schema.
func passwordFields(schema []ConfigField) map[string]bool {
	out := map[string]bool{}
	for _, f := range schema {
		if f.Type == FieldPassword {
			out[f.Name] = true
		}
	}
	return out
}

// MaskConfig returns a copy of config with every non-empty password field
// replaced by the mask.
func MaskConfig(config map[string]string, schema []ConfigField) map[string]string {
	pw := passwordFields(schema)
	masked := make(map[string]string, len(config))
	for k, v := range config {
		if pw[k] && v != "" {
			masked[k] = Mask
		} else {
			masked[k] = v
		}
	}
	return masked
}

// ResolveMasked returns a copy of incoming in which every password field
// carrying the mask is restored from prior. Round-trip law:
// ResolveMasked(MaskConfig(c, schema), schema, c) == c.
func ResolveMasked(incoming map[string]string, schema []ConfigField, prior map[string]string) map[string]string {
	pw := passwordFields(schema)
	resolved := make(map[string]string, len(incoming))
	for k, v := range incoming {
		if pw[k] && v == Mask {
			resolved[k] = prior[k]
		} else {
			resolved[k] = v
		}
	}
	return resolved
}
