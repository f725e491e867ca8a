// Package risk classifies proposed actions by how much scrutiny they need.
// Assessment is a pure function of the action's type and content - no I/O,
// never fails, always total.
package risk

import (
	"regexp"
	"strings"

	"riva/internal/intention"
	"riva/internal/logging"
)

// Factor tags. High-bucket tags mark dangerous content; low-bucket tags mark
// boilerplate or read-only work.
const (
	FactorDestructiveRM       = "destructive_rm"
	FactorSQLDrop             = "sql_drop"
	FactorSecurityPassword    = "security_password"
	FactorSecurityAPIKey      = "security_api_key"
	FactorSecurityPrivateKey  = "security_private_key"
	FactorPrivilegeEscalation = "privilege_escalation"
	FactorOutboundHTTP        = "outbound_http"

	FactorReadOnlySearch       = "read_only_search"
	FactorBoilerplateImport    = "boilerplate_import"
	FactorBoilerplateDunder    = "boilerplate_dunder"
	FactorBoilerplateDecorator = "boilerplate_decorator"
	FactorBoilerplateDocstring = "boilerplate_docstring"
	FactorStdoutPrint          = "stdout_print"
	FactorActionTypeQuery      = "action_type_query"
)

type patternRule struct {
	re     *regexp.Regexp
	factor string
}

// High-risk pattern set. Checked first; the highest matched bucket wins the
// level, but factor tags accumulate across buckets.
var highPatterns = []patternRule{
	{regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)\b`), FactorDestructiveRM},
	{regexp.MustCompile(`(?i)\bdrop\s+(table|database|schema|index)\b`), FactorSQLDrop},
	{regexp.MustCompile(`(?i)\bpassword\b`), FactorSecurityPassword},
	{regexp.MustCompile(`(?i)\bapi[_ ]?key\b`), FactorSecurityAPIKey},
	{regexp.MustCompile(`(?i)\bprivate_key\b`), FactorSecurityPrivateKey},
	{regexp.MustCompile(`(?i)\b(sudo|chmod|chown)\b`), FactorPrivilegeEscalation},
}

// httpURL extracts the host of any http(s) URL so loopback targets can be
// excluded from the outbound-HTTP factor.
var httpURL = regexp.MustCompile(`(?i)https?://([^/\s:"']+)`)

// Read-only shell commands considered low risk.
var readOnlyShell = regexp.MustCompile(`(?i)^\s*(ls|cat|grep|head|tail|find|wc|pwd|which|git\s+(status|log|diff|show))\b`)

// Boilerplate line shapes. An edit whose every non-blank line matches one of
// these is low risk.
var boilerplateLine = []patternRule{
	{regexp.MustCompile(`^\s*(import\s+\w[\w.]*|from\s+\w[\w.]*\s+import\s+[\w.,\s*]+)\s*$`), FactorBoilerplateImport},
	{regexp.MustCompile(`^\s*__\w+__\s*=`), FactorBoilerplateDunder},
	{regexp.MustCompile(`^\s*@\w[\w.]*(\(.*\))?\s*$`), FactorBoilerplateDecorator},
	{regexp.MustCompile(`^\s*("""|''')`), FactorBoilerplateDocstring},
	{regexp.MustCompile(`^\s*print\s*\(`), FactorStdoutPrint},
}

// Assess classifies an Action into an ActionRisk. Deterministic and total:
// identical actions always yield identical risk.
func Assess(action intention.Action) intention.ActionRisk {
	var factors []string
	seen := make(map[string]bool)
	add := func(tag string) {
		if !seen[tag] {
			seen[tag] = true
			factors = append(factors, tag)
		}
	}

	content := action.Content
	high := false
	for _, rule := range highPatterns {
		if rule.re.MatchString(content) {
			add(rule.factor)
			high = true
		}
	}
	if hasOutboundHTTP(content) {
		add(FactorOutboundHTTP)
		high = true
	}

	low := false
	if action.Type == intention.ActionQuery {
		add(FactorActionTypeQuery)
		low = true
	}
	if action.Type == intention.ActionCommand && readOnlyShell.MatchString(content) {
		add(FactorReadOnlySearch)
		low = true
	}
	if action.Type == intention.ActionCreate || action.Type == intention.ActionEdit {
		if allLinesBoilerplate(content, add) {
			low = true
		}
	}

	level := intention.RiskMedium
	switch {
	case high:
		// HIGH wins even when low factors also matched (tie-break).
		level = intention.RiskHigh
	case low:
		level = intention.RiskLow
	}

	if len(factors) == 0 {
		// Factor set is never empty; fall back to the action-type tag.
		add("action_type_" + string(action.Type))
	}

	risk := intention.ActionRisk{
		Level:                level,
		Factors:              factors,
		RequiresVerification: level != intention.RiskLow || !hasBoilerplate(factors),
		CanBatch:             level != intention.RiskHigh,
	}

	logging.RiskDebug("assessed %s -> %s %v", action.Type, risk.Level, risk.Factors)
	return risk
}

// hasOutboundHTTP reports whether content reaches an http(s) host other than
// loopback.
func hasOutboundHTTP(content string) bool {
	for _, m := range httpURL.FindAllStringSubmatch(content, -1) {
		host := strings.ToLower(m[1])
		if host == "localhost" || host == "127.0.0.1" || host == "::1" || host == "[::1]" {
			continue
		}
		return true
	}
	return false
}

// allLinesBoilerplate reports whether every non-blank line of content matches
// a boilerplate shape, accumulating the matched factor tags.
func allLinesBoilerplate(content string, add func(string)) bool {
	lines := strings.Split(content, "\n")
	matchedAny := false
	var pending []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		matched := false
		for _, rule := range boilerplateLine {
			if rule.re.MatchString(line) {
				pending = append(pending, rule.factor)
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
		matchedAny = true
	}
	if !matchedAny {
		return false
	}
	for _, tag := range pending {
		add(tag)
	}
	return true
}

func hasBoilerplate(factors []string) bool {
	for _, f := range factors {
		if strings.HasPrefix(f, "boilerplate_") {
			return true
		}
	}
	return false
}
