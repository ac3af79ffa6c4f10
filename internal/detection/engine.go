package detection

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PPraveen007/Decoy/internal/capture"
)

// Target selects which part of a record a rule inspects.
type Target int

const (
	TargetRequest   Target = iota // path and query string
	TargetBody                    // raw body text
	TargetUserAgent               // User-Agent header
)

type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Targets  []Target
	Severity string
}

// DetectionEngine tags captured interactions with the names of matching rules.
// Tags are evidence annotations only; nothing is ever blocked.
type DetectionEngine struct {
	rules []*Rule
}

func NewDetectionEngine() *DetectionEngine {
	de := &DetectionEngine{}
	de.initLocalRules()
	return de
}

func (de *DetectionEngine) initLocalRules() {
	requestAndBody := []Target{TargetRequest, TargetBody}
	de.rules = []*Rule{
		{
			Name:     "path_traversal",
			Pattern:  regexp.MustCompile(`\.\./|\.\.\\|%2e%2e[/\\%]`),
			Targets:  requestAndBody,
			Severity: "critical",
		},
		{
			Name:     "sql_injection",
			Pattern:  regexp.MustCompile(`(?i)(UNION|SELECT|DROP|DELETE|INSERT|UPDATE)\s+(ALL\s+|FROM|INTO|WHERE|TABLE|SELECT)|'\s*OR\s*'|'\s*OR\s+1\s*=\s*1|--\s*$|;\s*--`),
			Targets:  requestAndBody,
			Severity: "critical",
		},
		{
			Name:     "xss_attempt",
			Pattern:  regexp.MustCompile(`(?i)<script|javascript:|onerror\s*=|onload\s*=`),
			Targets:  requestAndBody,
			Severity: "high",
		},
		{
			Name:     "command_injection",
			Pattern:  regexp.MustCompile("(?i)(;|\\||`|\\$\\()\\s*(cat|wget|curl|nc|bash|sh|id|whoami|uname)\\b"),
			Targets:  requestAndBody,
			Severity: "critical",
		},
		{
			Name:     "php_code_injection",
			Pattern:  regexp.MustCompile(`(?i)<\?php|php://input|base64_decode\(|system\(`),
			Targets:  requestAndBody,
			Severity: "high",
		},
		{
			Name:     "scanner_user_agent",
			Pattern:  regexp.MustCompile(`(?i)sqlmap|nikto|nmap|masscan|zgrab|gobuster|dirbuster|wpscan|nuclei|hydra`),
			Targets:  []Target{TargetUserAgent},
			Severity: "medium",
		},
	}
}

// Rules returns the active rule set.
func (de *DetectionEngine) Rules() []*Rule {
	return de.rules
}

// Classify implements capture.Classifier. Each matching rule contributes its
// name once, in rule order.
func (de *DetectionEngine) Classify(rec capture.Record) []string {
	request := rec.Path
	if rec.Query != "" {
		request += "?" + rec.Query
	}
	if rec.RawPath != "" && rec.RawPath != rec.Path {
		request += "\n" + rec.RawPath
	}
	if decoded, err := url.QueryUnescape(request); err == nil && decoded != request {
		request += "\n" + decoded
	}
	body := rec.Body.Text()

	var signals []string
	for _, rule := range de.rules {
		for _, target := range rule.Targets {
			var subject string
			switch target {
			case TargetRequest:
				subject = request
			case TargetBody:
				subject = body
			case TargetUserAgent:
				subject = rec.UserAgent
			}
			if subject != "" && rule.Pattern.MatchString(subject) {
				signals = append(signals, rule.Name)
				break
			}
		}
	}
	return signals
}

// Severity returns the highest severity among signals, or "" when none match.
func (de *DetectionEngine) Severity(signals []string) string {
	rank := map[string]int{"medium": 1, "high": 2, "critical": 3}
	best := ""
	for _, name := range signals {
		for _, rule := range de.rules {
			if rule.Name == name && rank[rule.Severity] > rank[best] {
				best = rule.Severity
			}
		}
	}
	return strings.ToUpper(best)
}
