package config

import "encoding/json"

const redacted = "[REDACTED]"

// Secret holds a storage or model credential. Every formatting and
// marshalling path prints it redacted; only Value returns the raw text.
type Secret string

func (s Secret) masked() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) String() string   { return s.masked() }
func (s Secret) GoString() string { return "Secret(" + redacted + ")" }

// Value returns the raw credential for handing to an SDK client.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a credential was configured.
func (s Secret) IsSet() bool { return s != "" }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.masked()) }
func (s Secret) MarshalText() ([]byte, error) { return []byte(s.masked()), nil }

// UnmarshalText takes the raw value, so koanf and env loading see it.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
