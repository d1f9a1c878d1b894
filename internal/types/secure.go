package types

import "log/slog"

const redacted = "***REDACTED***"

// SecretString carries a credential: a billing key, a gateway instance token
// or a DSN. Every formatting path (fmt verbs including %#v, slog, JSON)
// renders the placeholder; only Unmask yields the value.
type SecretString string

func (s SecretString) String() string   { return redacted }
func (s SecretString) GoString() string { return `types.SecretString("` + redacted + `")` }

func (s SecretString) LogValue() slog.Value { return slog.StringValue(redacted) }

func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// IsSet reports whether a value is present without exposing it.
func (s SecretString) IsSet() bool { return s != "" }

// Unmask returns the plaintext. Call it only where the secret is handed to a
// transport: an HTTP header, the SMTP dialer, a DSN parser.
func (s SecretString) Unmask() string { return string(s) }
