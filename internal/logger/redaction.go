package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// redactionRule masks the part of a match after the first capture group, so
// "password=hunter2" becomes "password=[REDACTED]". Rules without a group
// mask the whole match.
type redactionRule struct {
	name    string
	pattern *regexp.Regexp
}

var defaultRules = []redactionRule{
	{"anthropic-key", regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`)},
	{"openai-key", regexp.MustCompile(`sk-(?:proj-)?[A-Za-z0-9_-]{20,}`)},
	{"aws-access-key", regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{"aws-secret-key", regexp.MustCompile(`(?i)(aws_secret_access_key["'\s:=]+)[A-Za-z0-9/+]{40}`)},
	{"aws-session-token", regexp.MustCompile(`(?i)(aws_session_token["'\s:=]+)[^\s"']+`)},
	{"bearer", regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/-]+=*`)},
	{"gateway-secret", regexp.MustCompile(`(?i)(x-cora-secret["'\s:=]+)[^\s"',}]+`)},
	{"url-password", regexp.MustCompile(`([a-z][a-z0-9+.-]*://[^:/@\s]*:)[^@\s]+(@)`)},
	{"password", regexp.MustCompile(`(?i)((?:password|passwd|pwd)["'\s:=]+)[^\s"',}]+`)},
	{"secret", regexp.MustCompile(`(?i)((?:secret|shared_secret|api_key)["'\s:=]+)[^\s"',}]+`)},
	{"token", regexp.MustCompile(`(?i)(token["'\s:=]+)[A-Za-z0-9._-]{20,}`)},
}

// Redactor masks credentials in log output.
type Redactor struct {
	rules []redactionRule
}

// NewRedactor returns a Redactor loaded with the built-in rules.
func NewRedactor() *Redactor {
	rules := make([]redactionRule, len(defaultRules))
	copy(rules, defaultRules)
	return &Redactor{rules: rules}
}

// AddPattern adds a custom rule. A first capture group, if present, is kept.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, redactionRule{name: "custom", pattern: re})
	return nil
}

// Rules returns the names of the active rules in evaluation order.
func (r *Redactor) Rules() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.name
	}
	return names
}

// Redact applies every rule to s.
func (r *Redactor) Redact(s string) string {
	for _, rule := range r.rules {
		s = rule.apply(s)
	}
	return s
}

func (rule redactionRule) apply(s string) string {
	switch rule.pattern.NumSubexp() {
	case 0:
		return rule.pattern.ReplaceAllLiteralString(s, redacted)
	case 1:
		return rule.pattern.ReplaceAllString(s, "${1}"+redacted)
	default:
		return rule.pattern.ReplaceAllString(s, "${1}"+redacted+"${2}")
	}
}

// Wrap returns a writer that redacts everything written through it.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{out: w, redactor: r}
}

type redactingWriter struct {
	out      io.Writer
	redactor *Redactor
}

// Write reports len(p) on success since callers count input bytes, not the
// length of the redacted output.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.out, w.redactor.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
