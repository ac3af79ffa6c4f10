package capture

import (
	"encoding/json"
	"strings"
	"time"
)

// Kind identifies which decoy route produced an interaction.
type Kind string

const (
	KindHomepage        Kind = "homepage_access"
	KindAdminAccess     Kind = "admin_access"
	KindAdminLogin      Kind = "admin_login_attempt"
	KindPhpMyAdmin      Kind = "phpmyadmin_access"
	KindPhpMyAdminLogin Kind = "phpmyadmin_login_attempt"
	KindWordPress       Kind = "wordpress_access"
	KindWordPressLogin  Kind = "wordpress_login_attempt"
	KindAPILogin        Kind = "api_login_attempt"
	KindAPIUsers        Kind = "api_users_access"
	KindSSH             Kind = "ssh_attempt"
	KindSensitiveFile   Kind = "sensitive_file_access"
	KindUnknownPath     Kind = "unknown_path_access"
	KindHoneypotAdmin   Kind = "honeypot_admin_access"
)

// BodyKind describes how a captured body was interpreted.
type BodyKind string

const (
	BodyNone BodyKind = "none"
	BodyJSON BodyKind = "json"
	BodyForm BodyKind = "form"
	BodyText BodyKind = "text"
)

// Header is a single header line. Duplicate names produce multiple entries.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Field is a decoded form or credential field.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Body holds the captured request body. Raw is kept byte-for-byte (up to the
// configured cap) regardless of Kind; Fields is populated for form bodies.
type Body struct {
	Kind      BodyKind `json:"kind"`
	Raw       []byte   `json:"raw,omitempty"`
	Fields    []Field  `json:"fields,omitempty"`
	Truncated bool     `json:"truncated"`
}

// JSON returns the body as structured JSON when Kind is BodyJSON.
func (b Body) JSON() (json.RawMessage, bool) {
	if b.Kind != BodyJSON {
		return nil, false
	}
	return json.RawMessage(b.Raw), true
}

// Text returns the raw body as a string.
func (b Body) Text() string {
	return string(b.Raw)
}

// Record is one captured interaction. ID is zero until the store assigns it.
type Record struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	SourceAddress string    `json:"source_address"`
	UserAgent     string    `json:"user_agent"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	// RawPath is the path exactly as it appeared on the request line,
	// percent-encoding intact.
	RawPath       string    `json:"raw_path"`
	Query         string    `json:"query"`
	Headers       []Header  `json:"headers"`
	Body          Body      `json:"body"`
	Kind          Kind      `json:"interaction_kind"`
	Credentials   []Field   `json:"credentials"`
	Signals       []string  `json:"signals"`
}

// HeaderValues returns every value recorded for name (case-insensitive).
func (r Record) HeaderValues(name string) []string {
	var out []string
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// Credential returns the value of the named credential field.
func (r Record) Credential(name string) (string, bool) {
	for _, f := range r.Credentials {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}
