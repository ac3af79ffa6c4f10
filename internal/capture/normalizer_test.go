package capture

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNormalize_AlwaysProducesTimestampAndKind(t *testing.T) {
	n := NewNormalizer(1024, nil)

	tests := []struct {
		name string
		req  *http.Request
		kind Kind
	}{
		{"plain get", httptest.NewRequest("GET", "/", nil), KindHomepage},
		{"empty kind", httptest.NewRequest("GET", "/x", nil), ""},
		{"malformed json", jsonRequest("POST", "/api/login", `{"username": "adm`), KindAPILogin},
		{"binary body", httptest.NewRequest("POST", "/ssh", bytes.NewReader([]byte{0x00, 0xff, 0xfe, 0x80})), KindSSH},
		{"broken content type", withContentType(httptest.NewRequest("POST", "/admin", strings.NewReader("a=b")), "multipart/form-data; boundary"), KindAdminLogin},
		{"nil request", nil, KindUnknownPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := n.Normalize(tt.req, tt.kind)
			if rec.Timestamp.IsZero() {
				t.Error("Timestamp is zero")
			}
			if rec.Kind == "" {
				t.Error("Kind is empty")
			}
			if rec.Headers == nil {
				t.Error("Headers is nil, want empty slice")
			}
		})
	}
}

func TestNormalize_EmptyKindDefaultsToUnknownPath(t *testing.T) {
	rec := NewNormalizer(0, nil).Normalize(httptest.NewRequest("GET", "/", nil), "")
	if rec.Kind != KindUnknownPath {
		t.Errorf("Kind = %q, want %q", rec.Kind, KindUnknownPath)
	}
}

func TestNormalize_RequestFields(t *testing.T) {
	req := httptest.NewRequest("GET", "/../../etc/passwd?id=1%27%20OR%20%271", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("User-Agent", "sqlmap/1.7")

	rec := NewNormalizer(0, nil).Normalize(req, KindUnknownPath)

	if rec.SourceAddress != "203.0.113.7" {
		t.Errorf("SourceAddress = %q, want %q", rec.SourceAddress, "203.0.113.7")
	}
	if rec.UserAgent != "sqlmap/1.7" {
		t.Errorf("UserAgent = %q", rec.UserAgent)
	}
	if rec.Method != "GET" {
		t.Errorf("Method = %q", rec.Method)
	}
	if rec.Query != "id=1%27%20OR%20%271" {
		t.Errorf("Query = %q", rec.Query)
	}
	if rec.Body.Kind != BodyNone {
		t.Errorf("Body.Kind = %q, want none", rec.Body.Kind)
	}
}

func TestNormalize_SourceAddressWithoutPort(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "not-an-address"
	rec := NewNormalizer(0, nil).Normalize(req, KindHomepage)
	if rec.SourceAddress != "not-an-address" {
		t.Errorf("SourceAddress = %q, want raw remote addr", rec.SourceAddress)
	}

	req.RemoteAddr = ""
	rec = NewNormalizer(0, nil).Normalize(req, KindHomepage)
	if rec.SourceAddress != "" {
		t.Errorf("SourceAddress = %q, want empty", rec.SourceAddress)
	}
}

func TestNormalize_HeadersPreserveDuplicatesInOrder(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Add("X-Forwarded-For", "10.0.0.1")
	req.Header.Add("X-Forwarded-For", "10.0.0.2")
	req.Header.Add("Accept", "*/*")
	req.Header["weird header"] = []string{"v"}

	rec := NewNormalizer(0, nil).Normalize(req, KindHomepage)

	got := rec.HeaderValues("x-forwarded-for")
	if len(got) != 2 || got[0] != "10.0.0.1" || got[1] != "10.0.0.2" {
		t.Errorf("X-Forwarded-For = %v, want [10.0.0.1 10.0.0.2]", got)
	}
	if v := rec.HeaderValues("weird header"); len(v) != 1 {
		t.Errorf("odd header name not preserved: %v", rec.Headers)
	}
	if v := rec.HeaderValues("Host"); len(v) != 1 || v[0] != "example.com" {
		t.Errorf("Host = %v, want [example.com]", v)
	}
	for i := 1; i < len(rec.Headers); i++ {
		if rec.Headers[i-1].Name > rec.Headers[i].Name {
			t.Fatalf("headers not sorted by name: %v", rec.Headers)
		}
	}
}

func TestNormalize_JSONBody(t *testing.T) {
	rec := NewNormalizer(0, nil).Normalize(jsonRequest("POST", "/api/login", `{"username":"root","password":"toor"}`), KindAPILogin)
	if rec.Body.Kind != BodyJSON {
		t.Fatalf("Body.Kind = %q, want json", rec.Body.Kind)
	}
	raw, ok := rec.Body.JSON()
	if !ok || string(raw) != `{"username":"root","password":"toor"}` {
		t.Errorf("Body.JSON() = %s, %v", raw, ok)
	}
}

func TestNormalize_MalformedJSONDegradesToText(t *testing.T) {
	rec := NewNormalizer(0, nil).Normalize(jsonRequest("POST", "/api/login", "username=admin"), KindAPILogin)
	if rec.Body.Kind != BodyText {
		t.Errorf("Body.Kind = %q, want text", rec.Body.Kind)
	}
	if rec.Body.Text() != "username=admin" {
		t.Errorf("Body.Text() = %q", rec.Body.Text())
	}
}

func TestNormalize_TruncatesOversizedBody(t *testing.T) {
	payload := strings.Repeat("A", 100)
	rec := NewNormalizer(16, nil).Normalize(jsonRequest("POST", "/api/login", `{"a":"`+payload+`"}`), KindAPILogin)

	if !rec.Body.Truncated {
		t.Error("Truncated = false, want true")
	}
	if len(rec.Body.Raw) != 16 {
		t.Errorf("len(Raw) = %d, want 16", len(rec.Body.Raw))
	}
	if rec.Body.Kind != BodyText {
		t.Errorf("Body.Kind = %q, want text for truncated json", rec.Body.Kind)
	}
}

func TestNormalize_BodyAtLimitIsNotTruncated(t *testing.T) {
	rec := NewNormalizer(4, nil).Normalize(httptest.NewRequest("POST", "/ssh", strings.NewReader("abcd")), KindSSH)
	if rec.Body.Truncated {
		t.Error("Truncated = true for body exactly at limit")
	}
	if rec.Body.Text() != "abcd" {
		t.Errorf("Body.Text() = %q", rec.Body.Text())
	}
}

func TestNormalize_BinaryBodyKeptByteForByte(t *testing.T) {
	payload := []byte{0x00, 0x01, 0xff, 0xc3, 0x28, '\n', 0x7f}
	rec := NewNormalizer(0, nil).Normalize(httptest.NewRequest("POST", "/ssh", bytes.NewReader(payload)), KindSSH)
	if !bytes.Equal(rec.Body.Raw, payload) {
		t.Errorf("Raw = %v, want %v", rec.Body.Raw, payload)
	}
}

func TestNormalize_URLEncodedForm(t *testing.T) {
	req := httptest.NewRequest("POST", "/admin", strings.NewReader("username=admin&password=p%40ss&bad=%zz&username=second"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := NewNormalizer(0, nil).Normalize(req, KindAdminLogin)

	if rec.Body.Kind != BodyForm {
		t.Fatalf("Body.Kind = %q, want form", rec.Body.Kind)
	}
	want := []Field{
		{"username", "admin"},
		{"password", "p@ss"},
		{"bad", "%zz"},
		{"username", "second"},
	}
	if len(rec.Body.Fields) != len(want) {
		t.Fatalf("Fields = %v, want %v", rec.Body.Fields, want)
	}
	for i := range want {
		if rec.Body.Fields[i] != want[i] {
			t.Errorf("Fields[%d] = %v, want %v", i, rec.Body.Fields[i], want[i])
		}
	}
}

func TestNormalize_MultipartForm(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("log", "editor")
	_ = mw.WriteField("pwd", "hunter2")
	fw, _ := mw.CreateFormFile("upload", "shell.php")
	_, _ = fw.Write([]byte("<?php system($_GET['c']); ?>"))
	_ = mw.Close()

	req := httptest.NewRequest("POST", "/wp-admin/login", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := NewNormalizer(0, nil).Normalize(req, KindWordPressLogin)

	if rec.Body.Kind != BodyForm {
		t.Fatalf("Body.Kind = %q, want form", rec.Body.Kind)
	}
	creds := ExtractFields(rec.Body, "log", "pwd", "upload")
	if creds[0].Value != "editor" || creds[1].Value != "hunter2" || creds[2].Value != "shell.php" {
		t.Errorf("fields = %v", creds)
	}
}

type failingReader struct{ data []byte }

func (f *failingReader) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, errors.New("connection reset by peer")
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestNormalize_BodyReadErrorKeepsPartialData(t *testing.T) {
	req := httptest.NewRequest("POST", "/ssh", io.NopCloser(&failingReader{data: []byte("partial")}))
	rec := NewNormalizer(0, nil).Normalize(req, KindSSH)
	if rec.Body.Text() != "partial" {
		t.Errorf("Body.Text() = %q, want partial", rec.Body.Text())
	}
}

type panickingClassifier struct{}

func (panickingClassifier) Classify(Record) []string { panic("boom") }

func TestNormalize_ClassifierPanicStillReturnsRecord(t *testing.T) {
	rec := NewNormalizer(0, panickingClassifier{}).Normalize(httptest.NewRequest("GET", "/", nil), KindHomepage)
	if rec.Kind != KindHomepage || rec.Timestamp.IsZero() {
		t.Errorf("record = %+v", rec)
	}

	req := withContentType(httptest.NewRequest("POST", "/admin", strings.NewReader("username=admin&password=admin")),
		"application/x-www-form-urlencoded")
	rec = NewNormalizer(0, panickingClassifier{}).Normalize(req, KindAdminLogin)
	if rec.Body.Text() != "username=admin&password=admin" {
		t.Errorf("Body.Raw = %q, want the submitted form", rec.Body.Raw)
	}
	if rec.Body.Kind != BodyForm || len(rec.Body.Fields) != 2 {
		t.Errorf("Body = %+v, want decoded form", rec.Body)
	}
	if rec.Signals != nil {
		t.Errorf("Signals = %v, want nil", rec.Signals)
	}
}

func TestNormalize_RawPathKeepsEncoding(t *testing.T) {
	tests := []struct {
		target   string
		wantPath string
		wantRaw  string
	}{
		{"/a%2Fb/%2e%2e%2Fetc?x=1", "/a/b/../etc", "/a%2Fb/%2e%2e%2Fetc"},
		{"/%41dmin", "/Admin", "/%41dmin"},
		{"/plain/path", "/plain/path", "/plain/path"},
		{"http://example.com/%41dmin?q", "/Admin", "/%41dmin"},
	}
	n := NewNormalizer(0, nil)
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := n.Normalize(httptest.NewRequest("GET", tt.target, nil), KindUnknownPath)
			if rec.Path != tt.wantPath || rec.RawPath != tt.wantRaw {
				t.Errorf("Path/RawPath = %q/%q, want %q/%q", rec.Path, rec.RawPath, tt.wantPath, tt.wantRaw)
			}
		})
	}
}

func TestNormalize_UsesUTC(t *testing.T) {
	n := NewNormalizer(0, nil)
	n.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600)) }
	rec := n.Normalize(httptest.NewRequest("GET", "/", nil), KindHomepage)
	if rec.Timestamp.Location() != time.UTC {
		t.Errorf("Timestamp location = %v, want UTC", rec.Timestamp.Location())
	}
}

func TestExtractFields(t *testing.T) {
	tests := []struct {
		name string
		body Body
		want []Field
	}{
		{
			name: "form first value wins",
			body: Body{Kind: BodyForm, Fields: []Field{{"username", "a"}, {"username", "b"}}},
			want: []Field{{"username", "a"}, {"password", ""}},
		},
		{
			name: "json strings and non-strings",
			body: Body{Kind: BodyJSON, Raw: []byte(`{"username":"admin","password":12345}`)},
			want: []Field{{"username", "admin"}, {"password", "12345"}},
		},
		{
			name: "json array",
			body: Body{Kind: BodyJSON, Raw: []byte(`["admin","admin"]`)},
			want: []Field{{"username", ""}, {"password", ""}},
		},
		{
			name: "text body",
			body: Body{Kind: BodyText, Raw: []byte("username=admin")},
			want: []Field{{"username", ""}, {"password", ""}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractFields(tt.body, "username", "password")
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractFields() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ExtractFields()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withContentType(req *http.Request, ct string) *http.Request {
	req.Header.Set("Content-Type", ct)
	return req
}
