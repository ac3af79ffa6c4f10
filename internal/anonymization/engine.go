package anonymization

import (
	"regexp"
	"slices"
	"strings"

	"github.com/PPraveen007/Decoy/internal/capture"
)

// DefaultSensitiveHeaders are redacted from records served by the ops API.
var DefaultSensitiveHeaders = []string{
	"Authorization",
	"Cookie",
	"Proxy-Authorization",
	"X-API-Key",
	"X-Auth-Token",
}

// AnonymizationEngine hides secrets in copies of captured records before they
// leave the process. Stored records are never modified.
type AnonymizationEngine struct {
	enabled          bool
	sensitiveHeaders []string
	secretField      *regexp.Regexp
	patterns         []textPattern
}

// textPattern is one redaction rule for free text, applied in slice order.
type textPattern struct {
	pattern     *regexp.Regexp
	replacement string
}

// AnonymizationResult describes what a redaction pass changed.
type AnonymizationResult struct {
	Record         capture.Record
	RedactedFields map[string]string
	RedactionCount int
}

func NewAnonymizationEngine(enabled bool, sensitiveHeaders []string) *AnonymizationEngine {
	if len(sensitiveHeaders) == 0 {
		sensitiveHeaders = DefaultSensitiveHeaders
	}
	return &AnonymizationEngine{
		enabled:          enabled,
		sensitiveHeaders: sensitiveHeaders,
		secretField:      regexp.MustCompile(`(?i)(pass|pwd|secret|token)`),
		patterns: []textPattern{
			{
				pattern:     regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]+`),
				replacement: "[REDACTED_JWT_TOKEN]",
			},
			{
				pattern:     regexp.MustCompile(`(?i)(api[_-]?key|api[_-]?secret)=[^&\s]+`),
				replacement: "${1}=[REDACTED]",
			},
			{
				pattern:     regexp.MustCompile(`(?i)((?:pass|pwd|password)[a-z_]*)=[^&\s]+`),
				replacement: "${1}=[REDACTED]",
			},
		},
	}
}

// ShouldRedact reports whether a header name is sensitive.
func (ae *AnonymizationEngine) ShouldRedact(headerName string) bool {
	return slices.ContainsFunc(ae.sensitiveHeaders, func(h string) bool {
		return strings.EqualFold(h, headerName)
	})
}

// IsSecretField reports whether a credential field holds a secret rather than
// an identity.
func (ae *AnonymizationEngine) IsSecretField(name string) bool {
	return ae.secretField.MatchString(name)
}

// AnonymizeRecord returns a redacted copy of rec: sensitive header values,
// secret credential values and the raw body of credential submissions.
func (ae *AnonymizationEngine) AnonymizeRecord(rec capture.Record) *AnonymizationResult {
	result := &AnonymizationResult{
		Record:         rec,
		RedactedFields: make(map[string]string),
	}
	if !ae.enabled {
		return result
	}

	out := &result.Record
	out.Headers = make([]capture.Header, len(rec.Headers))
	for i, h := range rec.Headers {
		out.Headers[i] = h
		if ae.ShouldRedact(h.Name) {
			out.Headers[i].Value = redactedLabel(h.Name)
			result.RedactedFields[h.Name] = "[REDACTED]"
			result.RedactionCount++
		}
	}

	out.Credentials = ae.MaskCredentials(rec.Credentials)
	secrets := 0
	for i := range rec.Credentials {
		if out.Credentials[i].Value != rec.Credentials[i].Value {
			result.RedactedFields[rec.Credentials[i].Name] = "[REDACTED]"
			secrets++
		}
	}
	result.RedactionCount += secrets

	if secrets > 0 {
		// Secrets also sit in the raw body and the decoded form fields.
		out.Body.Raw = nil
		out.Body.Fields = ae.MaskCredentials(rec.Body.Fields)
		result.RedactedFields["body"] = "[REDACTED]"
		result.RedactionCount++
	}

	if q := ae.AnonymizeText(rec.Query); q != rec.Query {
		out.Query = q
		result.RedactedFields["query"] = "[REDACTED]"
		result.RedactionCount++
	}
	return result
}

// MaskCredentials replaces secret field values, keeping identities readable.
func (ae *AnonymizationEngine) MaskCredentials(fields []capture.Field) []capture.Field {
	if fields == nil {
		return nil
	}
	out := make([]capture.Field, len(fields))
	for i, f := range fields {
		out[i] = f
		if f.Value != "" && ae.IsSecretField(f.Name) {
			out[i].Value = redactedLabel(f.Name)
		}
	}
	return out
}

// AnonymizeText applies the pattern rules to free text such as a query string.
func (ae *AnonymizationEngine) AnonymizeText(s string) string {
	if s == "" {
		return s
	}
	for _, p := range ae.patterns {
		s = p.pattern.ReplaceAllString(s, p.replacement)
	}
	return s
}

func redactedLabel(name string) string {
	return "[REDACTED_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "]"
}
