package config

// Secret is a string type that redacts itself whenever it is printed,
// marshaled, or dumped. Used for every credential field in Config.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString ensures %#v (debug dumps, panics) also redacts the value.
func (s Secret) GoString() string {
	return "[REDACTED]"
}

// MarshalJSON ensures secrets are redacted when marshaled to JSON.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// MarshalYAML ensures secrets are redacted when marshaled to YAML,
// used by Config.String() for startup config dumps.
func (s Secret) MarshalYAML() (interface{}, error) {
	return "[REDACTED]", nil
}
