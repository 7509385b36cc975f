// Package privacy redacts credentials that users pasted into prompts before
// the prompts enter the similarity space.
package privacy

import (
	"regexp"
	"strings"

	"github.com/thebtf/constellation/pkg/models"
)

// Marker replaces redacted values.
const Marker = "[REDACTED]"

// credentialPatterns match common credential formats with few false positives.
// The private key block comes first so later patterns never see its body.
// A block without its END line is redacted to the end of the text.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----.*?(-----END (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----|\z)`),

	// key = value assignments
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|secret[_-]?token|auth[_-]?token)\s*[:=]\s*['"]?[a-zA-Z0-9_-]{20,}['"]?`),
	regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*['"][^'"]{8,}['"]`),
	regexp.MustCompile(`(?i)aws[_-]?secret[_-]?access[_-]?key\s*[:=]\s*['"]?[a-zA-Z0-9/+=]{40}['"]?`),

	// Vendor token formats
	regexp.MustCompile(`sk-(ant-)?[a-zA-Z0-9-]{20,}`),
	regexp.MustCompile(`gh[pous]_[a-zA-Z0-9]{36,}`),
	regexp.MustCompile(`github_pat_[a-zA-Z0-9_]{22,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_-]{20,}`),
}

// ContainsCredentials reports whether text matches any credential pattern.
func ContainsCredentials(text string) bool {
	if text == "" {
		return false
	}
	for _, p := range credentialPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Redact replaces credentials in text. Assignments keep their key name so
// the prompt still reads naturally; bare tokens keep a short prefix. Private
// key blocks are replaced whole.
func Redact(text string) string {
	if text == "" {
		return text
	}
	for _, p := range credentialPatterns {
		text = p.ReplaceAllStringFunc(text, redactMatch)
	}
	return text
}

func redactMatch(match string) string {
	if strings.HasPrefix(match, "-----BEGIN") {
		return Marker
	}
	if idx := strings.IndexAny(match, "=:"); idx != -1 {
		return match[:idx+1] + Marker
	}
	if len(match) > 8 {
		return match[:4] + "..." + Marker
	}
	return Marker
}

// RedactNode redacts the node's content and keywords in place and reports
// whether anything changed.
func RedactNode(n *models.Node) bool {
	if n == nil {
		return false
	}

	changed := false
	if ContainsCredentials(n.Content) {
		n.Content = Redact(n.Content)
		changed = true
	}
	for i, kw := range n.Keywords {
		if ContainsCredentials(kw) {
			n.Keywords[i] = Redact(kw)
			changed = true
		}
	}
	return changed
}
