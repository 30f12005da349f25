// Package policy scrubs credentials and personal data from repository
// content before it reaches the index or a model. Source trees leak
// keys and emails; once embedded they cannot be unlearned, so redaction
// happens at ingestion time.
package policy

import (
	"regexp"
	"strings"
)

var (
	privateKeyPattern = regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`)
	awsKeyPattern     = regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)
	githubPAT         = regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)
	bearerPattern     = regexp.MustCompile(`(?i)\b(bearer|authorization:)\s+[A-Za-z0-9\-._~+/]{20,}=*`)
	assignedSecret    = regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token|password|passwd)\b(\s*[:=]\s*)["']?[A-Za-z0-9\-._~+/]{16,}=*["']?`)
	emailPattern      = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
)

// RedactSecrets replaces credential material with stable placeholders.
// The output keeps surrounding code intact so chunk boundaries and
// embeddings stay meaningful.
func RedactSecrets(content string) string {
	if content == "" {
		return content
	}
	redacted := privateKeyPattern.ReplaceAllString(content, "[private_key_redacted]")
	redacted = awsKeyPattern.ReplaceAllString(redacted, "[aws_key_redacted]")
	redacted = githubPAT.ReplaceAllString(redacted, "[token_redacted]")
	redacted = bearerPattern.ReplaceAllString(redacted, "${1} [token_redacted]")
	redacted = assignedSecret.ReplaceAllString(redacted, "${1}${2}[secret_redacted]")
	return redacted
}

// RedactEmails masks email addresses, keeping the domain so commit
// authorship stays attributable to an organization.
func RedactEmails(content string) string {
	return emailPattern.ReplaceAllStringFunc(content, func(match string) string {
		at := strings.LastIndex(match, "@")
		if at <= 0 {
			return "[email_redacted]"
		}
		return "[redacted]" + match[at:]
	})
}

// ContainsSecret reports whether content still carries credential
// material. Used as a final gate before model calls.
func ContainsSecret(content string) bool {
	return privateKeyPattern.MatchString(content) ||
		awsKeyPattern.MatchString(content) ||
		githubPAT.MatchString(content)
}
