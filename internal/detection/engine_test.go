package detection

import (
	"testing"

	"github.com/PPraveen007/Decoy/internal/capture"
)

func TestClassify(t *testing.T) {
	de := NewDetectionEngine()

	tests := []struct {
		name string
		rec  capture.Record
		want []string
	}{
		{
			name: "clean request",
			rec:  capture.Record{Path: "/admin", UserAgent: "Mozilla/5.0"},
			want: nil,
		},
		{
			name: "path traversal",
			rec:  capture.Record{Path: "/../../etc/passwd"},
			want: []string{"path_traversal"},
		},
		{
			name: "encoded traversal in query",
			rec:  capture.Record{Path: "/download", Query: "f=%2e%2e%2f%2e%2e%2fetc%2fpasswd"},
			want: []string{"path_traversal"},
		},
		{
			name: "sql injection in form body",
			rec: capture.Record{
				Path: "/admin",
				Body: capture.Body{Kind: capture.BodyForm, Raw: []byte("username=admin' OR '1'='1&password=x")},
			},
			want: []string{"sql_injection"},
		},
		{
			name: "scanner with xss probe",
			rec:  capture.Record{Path: "/search", Query: "q=<script>alert(1)</script>", UserAgent: "Nikto/2.1.6"},
			want: []string{"xss_attempt", "scanner_user_agent"},
		},
		{
			name: "command injection",
			rec:  capture.Record{Path: "/cgi-bin/ping", Query: "host=127.0.0.1;cat /etc/passwd"},
			want: []string{"command_injection"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := de.Classify(tt.rec)
			if len(got) != len(tt.want) {
				t.Fatalf("Classify() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Classify()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSeverity(t *testing.T) {
	de := NewDetectionEngine()
	if got := de.Severity(nil); got != "" {
		t.Errorf("Severity(nil) = %q, want empty", got)
	}
	if got := de.Severity([]string{"scanner_user_agent", "path_traversal"}); got != "CRITICAL" {
		t.Errorf("Severity() = %q, want CRITICAL", got)
	}
}
