package validate

import "regexp"

// Threat labels a heuristic match found in free-text input. The detectors
// are defense-in-depth signals for fields that are not already gated by a
// whitelist predicate; the whitelist remains the primary gate.
type Threat string

const (
	ThreatSQLInjection   Threat = "sql_injection"
	ThreatXSS            Threat = "xss"
	ThreatNoSQLInjection Threat = "nosql_injection"
	ThreatPathTraversal  Threat = "path_traversal"
)

var (
	sqlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(union\s+(all\s+)?select|select\s+.+\s+from|insert\s+into|update\s+.+\s+set|delete\s+from|drop\s+(table|database)|truncate\s+table|exec(ute)?\s)`),
		regexp.MustCompile(`(?i)('|")\s*(or|and)\s+('|"|[0-9])`),
		regexp.MustCompile(`(?i)\b(or|and)\b\s+[0-9]+\s*=\s*[0-9]+`),
		regexp.MustCompile(`--`),
		regexp.MustCompile(`/\*`),
		regexp.MustCompile(`(?i);\s*(select|insert|update|delete|drop)\b`),
	}

	xssPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<\s*script`),
		regexp.MustCompile(`(?i)<\s*/?\s*iframe`),
		regexp.MustCompile(`(?i)\bon[a-z]+\s*=`),
		regexp.MustCompile(`(?i)javascript\s*:`),
		regexp.MustCompile(`(?i)<\s*(img|svg|body|embed|object)[^>]*\bon[a-z]+`),
	}

	nosqlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\$(where|ne|gt|gte|lt|lte|in|nin|or|and|not|nor|regex|exists|expr|elemMatch)\b`),
		regexp.MustCompile(`(?i)\bmapreduce\b`),
		regexp.MustCompile(`(?i)db\s*\.\s*[a-z]+\s*\.\s*(find|remove|update|drop)`),
	}

	traversalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\.\./`),
		regexp.MustCompile(`\.\.\\`),
		regexp.MustCompile(`(?i)%2e%2e(%2f|%5c|/|\\)`),
		regexp.MustCompile(`(?i)\.\.(%2f|%5c)`),
	}
)

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// ContainsSQLInjection reports whether s carries common SQL attack shapes.
func ContainsSQLInjection(s string) bool { return matchAny(sqlPatterns, s) }

// ContainsXSS reports whether s carries script or event-handler markup.
func ContainsXSS(s string) bool { return matchAny(xssPatterns, s) }

// ContainsNoSQLInjection reports whether s carries operator-key probes.
func ContainsNoSQLInjection(s string) bool { return matchAny(nosqlPatterns, s) }

// ContainsPathTraversal reports whether s carries directory-escape sequences,
// including percent-encoded forms.
func ContainsPathTraversal(s string) bool { return matchAny(traversalPatterns, s) }

// SecurityCheck runs all four detectors and returns the threats found, nil
// when the input is clean.
func SecurityCheck(s string) []Threat {
	var threats []Threat
	if ContainsSQLInjection(s) {
		threats = append(threats, ThreatSQLInjection)
	}
	if ContainsXSS(s) {
		threats = append(threats, ThreatXSS)
	}
	if ContainsNoSQLInjection(s) {
		threats = append(threats, ThreatNoSQLInjection)
	}
	if ContainsPathTraversal(s) {
		threats = append(threats, ThreatPathTraversal)
	}
	return threats
}
