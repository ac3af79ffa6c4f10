package capture

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// DefaultMaxBodyBytes caps how much of a request body is kept per record.
const DefaultMaxBodyBytes = 64 * 1024

// maxMultipartFieldBytes bounds a single decoded multipart value.
const maxMultipartFieldBytes = 8 * 1024

// Classifier tags a record with attack signals. Implementations must not
// retain or mutate the record.
type Classifier interface {
	Classify(rec Record) []string
}

// Normalizer turns inbound requests into Records. It never fails: malformed
// input degrades to an opaque text body.
type Normalizer struct {
	maxBodyBytes int64
	classifier   Classifier
	now          func() time.Time
}

// NewNormalizer creates a Normalizer. maxBodyBytes <= 0 selects DefaultMaxBodyBytes.
// classifier may be nil.
func NewNormalizer(maxBodyBytes int64, classifier Classifier) *Normalizer {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Normalizer{
		maxBodyBytes: maxBodyBytes,
		classifier:   classifier,
		now:          time.Now,
	}
}

// MaxBodyBytes returns the configured body cap.
func (n *Normalizer) MaxBodyBytes() int64 {
	return n.maxBodyBytes
}

// Normalize builds a Record for r tagged with kind. The request body is consumed.
func (n *Normalizer) Normalize(r *http.Request, kind Kind) (rec Record) {
	if kind == "" {
		kind = KindUnknownPath
	}
	rec = Record{
		Timestamp: n.now().UTC(),
		Kind:      kind,
		Headers:   []Header{},
		Body:      Body{Kind: BodyNone},
	}

	// Anything below works on attacker data; a bug there must not cost the
	// record or the body bytes already read.
	var (
		raw       []byte
		truncated bool
	)
	defer func() {
		if p := recover(); p != nil {
			rec.Body = opaqueBody(raw, truncated)
		}
	}()

	if r == nil {
		return rec
	}

	rec.SourceAddress = sourceAddress(r.RemoteAddr)
	rec.UserAgent = r.Header.Get("User-Agent")
	rec.Method = r.Method
	rec.RawPath = rawPath(r)
	if r.URL != nil {
		rec.Path = r.URL.Path
		rec.Query = r.URL.RawQuery
	} else {
		rec.Path = r.RequestURI
	}
	rec.Headers = orderedHeaders(r)
	raw, truncated = n.readRaw(r)
	rec.Body = interpretBody(raw, truncated, r.Header.Get("Content-Type"))
	rec.Signals = n.classify(rec)
	return rec
}

// classify runs the classifier; a panic there costs only the signals.
func (n *Normalizer) classify(rec Record) (signals []string) {
	if n.classifier == nil {
		return nil
	}
	defer func() {
		if recover() != nil {
			signals = nil
		}
	}()
	return n.classifier.Classify(rec)
}

// rawPath returns the request-target path as sent, before percent-decoding.
func rawPath(r *http.Request) string {
	target, _, _ := strings.Cut(r.RequestURI, "?")
	if strings.HasPrefix(target, "/") || target == "*" {
		return target
	}
	if r.URL != nil {
		return r.URL.EscapedPath()
	}
	return target
}

func sourceAddress(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

// orderedHeaders flattens r.Header into a deterministic list: canonical name
// ascending, values in the order they were received.
func orderedHeaders(r *http.Request) []Header {
	names := make([]string, 0, len(r.Header)+1)
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Header, 0, len(names)+1)
	sawHost := false
	for _, name := range names {
		if strings.EqualFold(name, "Host") {
			sawHost = true
		}
		for _, v := range r.Header[name] {
			out = append(out, Header{Name: name, Value: v})
		}
	}
	if !sawHost && r.Host != "" {
		out = append(out, Header{Name: "Host", Value: r.Host})
		sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	}
	return out
}

// readRaw reads up to the cap, plus one byte to detect overflow. A read error
// (client gone, bad chunking) keeps whatever arrived.
func (n *Normalizer) readRaw(r *http.Request) ([]byte, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, false
	}
	raw, _ := io.ReadAll(io.LimitReader(r.Body, n.maxBodyBytes+1))
	if int64(len(raw)) > n.maxBodyBytes {
		return raw[:n.maxBodyBytes], true
	}
	return raw, false
}

func opaqueBody(raw []byte, truncated bool) Body {
	if len(raw) == 0 {
		return Body{Kind: BodyNone, Truncated: truncated}
	}
	return Body{Kind: BodyText, Raw: raw, Truncated: truncated}
}

// interpretBody decodes raw by content type. Anything it cannot decode stays
// an opaque text body.
func interpretBody(raw []byte, truncated bool, contentType string) Body {
	body := opaqueBody(raw, truncated)
	if body.Kind == BodyNone {
		return body
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return body
	}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		if !truncated && json.Valid(raw) {
			body.Kind = BodyJSON
		}
	case mediaType == "application/x-www-form-urlencoded":
		body.Kind = BodyForm
		body.Fields = parseURLEncoded(raw)
	case mediaType == "multipart/form-data":
		if fields, ok := parseMultipart(raw, params["boundary"]); ok {
			body.Kind = BodyForm
			body.Fields = fields
		}
	}
	return body
}

// parseURLEncoded decodes a form body preserving field order. Undecodable
// segments are kept verbatim.
func parseURLEncoded(raw []byte) []Field {
	var fields []Field
	for _, pair := range strings.Split(string(raw), "&") {
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		fields = append(fields, Field{Name: unescape(name), Value: unescape(value)})
	}
	return fields
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

func parseMultipart(raw []byte, boundary string) ([]Field, bool) {
	if boundary == "" {
		return nil, false
	}
	mr := multipart.NewReader(bytes.NewReader(raw), boundary)
	var fields []Field
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Truncated or malformed: keep what decoded cleanly.
			break
		}
		name := part.FormName()
		if part.FileName() != "" {
			fields = append(fields, Field{Name: name, Value: part.FileName()})
			_ = part.Close()
			continue
		}
		value, _ := io.ReadAll(io.LimitReader(part, maxMultipartFieldBytes))
		fields = append(fields, Field{Name: name, Value: string(value)})
		_ = part.Close()
	}
	return fields, len(fields) > 0
}
