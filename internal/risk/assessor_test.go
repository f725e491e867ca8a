package risk

import (
	"testing"

	"riva/internal/intention"
)

func TestHighRiskPatterns(t *testing.T) {
	cases := []struct {
		name   string
		action intention.Action
		factor string
	}{
		{
			name:   "destructive_rm",
			action: intention.Action{Type: intention.ActionCommand, Content: "rm -rf /tmp/test"},
			factor: FactorDestructiveRM,
		},
		{
			name:   "sql_drop",
			action: intention.Action{Type: intention.ActionCommand, Content: "psql -c 'DROP TABLE users'"},
			factor: FactorSQLDrop,
		},
		{
			name:   "password",
			action: intention.Action{Type: intention.ActionEdit, Target: "cfg.py", Content: "password = os.environ['DB_PASSWORD']"},
			factor: FactorSecurityPassword,
		},
		{
			name:   "api_key",
			action: intention.Action{Type: intention.ActionEdit, Target: "cfg.py", Content: "API_KEY = 'abc'"},
			factor: FactorSecurityAPIKey,
		},
		{
			name:   "sudo",
			action: intention.Action{Type: intention.ActionCommand, Content: "sudo systemctl restart nginx"},
			factor: FactorPrivilegeEscalation,
		},
		{
			name:   "outbound_http",
			action: intention.Action{Type: intention.ActionCommand, Content: "curl https://example.com/exfil"},
			factor: FactorOutboundHTTP,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			risk := Assess(tc.action)
			if risk.Level != intention.RiskHigh {
				t.Fatalf("level = %s, want high (factors %v)", risk.Level, risk.Factors)
			}
			if !risk.HasFactor(tc.factor) {
				t.Fatalf("missing factor %s in %v", tc.factor, risk.Factors)
			}
			if !risk.RequiresVerification {
				t.Fatal("high risk must require verification")
			}
			if risk.CanBatch {
				t.Fatal("high risk must not be batchable")
			}
		})
	}
}

func TestLoopbackHTTPIsNotOutbound(t *testing.T) {
	risk := Assess(intention.Action{Type: intention.ActionCommand, Content: "curl http://localhost:8080/health"})
	if risk.HasFactor(FactorOutboundHTTP) {
		t.Fatalf("loopback flagged as outbound: %v", risk.Factors)
	}
	risk = Assess(intention.Action{Type: intention.ActionCommand, Content: "curl http://127.0.0.1/metrics"})
	if risk.HasFactor(FactorOutboundHTTP) {
		t.Fatalf("127.0.0.1 flagged as outbound: %v", risk.Factors)
	}
}

func TestLowRiskPatterns(t *testing.T) {
	cases := []struct {
		name   string
		action intention.Action
		factor string
	}{
		{
			name:   "boilerplate_import",
			action: intention.Action{Type: intention.ActionEdit, Target: "utils.py", Content: "import json"},
			factor: FactorBoilerplateImport,
		},
		{
			name:   "read_only_search",
			action: intention.Action{Type: intention.ActionCommand, Content: "grep -r TODO src/"},
			factor: FactorReadOnlySearch,
		},
		{
			name:   "query",
			action: intention.Action{Type: intention.ActionQuery, Content: "what does utils.py do"},
			factor: FactorActionTypeQuery,
		},
		{
			name:   "dunder",
			action: intention.Action{Type: intention.ActionEdit, Target: "pkg.py", Content: "__version__ = \"1.2.0\""},
			factor: FactorBoilerplateDunder,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			risk := Assess(tc.action)
			if risk.Level != intention.RiskLow {
				t.Fatalf("level = %s, want low (factors %v)", risk.Level, risk.Factors)
			}
			if !risk.HasFactor(tc.factor) {
				t.Fatalf("missing factor %s in %v", tc.factor, risk.Factors)
			}
			if !risk.CanBatch {
				t.Fatal("low risk should be batchable")
			}
		})
	}
}

func TestBoilerplateImportSkipsVerification(t *testing.T) {
	risk := Assess(intention.Action{Type: intention.ActionEdit, Target: "utils.py", Content: "import json"})
	if risk.RequiresVerification {
		t.Fatalf("boilerplate import should not require verification: %v", risk.Factors)
	}
}

func TestReadOnlyLowStillRequiresVerification(t *testing.T) {
	// Low without a boilerplate tag keeps requires_verification set.
	risk := Assess(intention.Action{Type: intention.ActionCommand, Content: "cat README.md"})
	if risk.Level != intention.RiskLow {
		t.Fatalf("level = %s, want low", risk.Level)
	}
	if !risk.RequiresVerification {
		t.Fatal("read-only low risk still requires verification")
	}
}

func TestMediumDefault(t *testing.T) {
	risk := Assess(intention.Action{Type: intention.ActionEdit, Target: "models.py", Content: "class User:\n    pass"})
	if risk.Level != intention.RiskMedium {
		t.Fatalf("level = %s, want medium", risk.Level)
	}
	if len(risk.Factors) == 0 {
		t.Fatal("factor set must never be empty")
	}
	if !risk.CanBatch {
		t.Fatal("medium risk should be batchable")
	}
}

func TestWhitespaceOnlyIsMedium(t *testing.T) {
	risk := Assess(intention.Action{Type: intention.ActionEdit, Target: "a.py", Content: "   \n\t\n"})
	if risk.Level != intention.RiskMedium {
		t.Fatalf("whitespace action level = %s, want medium", risk.Level)
	}
}

func TestTieBreakHighWins(t *testing.T) {
	// An import and a password assignment on one line: HIGH wins. Boilerplate
	// shapes are matched against whole lines, so this mixed line carries no
	// boilerplate_import tag; only the password tag is recorded.
	risk := Assess(intention.Action{
		Type:    intention.ActionEdit,
		Target:  "auth.py",
		Content: "import secrets; password = secrets.token_hex()",
	})
	if risk.Level != intention.RiskHigh {
		t.Fatalf("level = %s, want high", risk.Level)
	}
	if !risk.HasFactor(FactorSecurityPassword) {
		t.Fatalf("missing security_password: %v", risk.Factors)
	}
}

func TestAssessIsIdempotent(t *testing.T) {
	action := intention.Action{Type: intention.ActionCommand, Content: "rm -rf build/"}
	first := Assess(action)
	second := Assess(action)
	if first.Level != second.Level || len(first.Factors) != len(second.Factors) {
		t.Fatalf("assess not idempotent: %v vs %v", first, second)
	}
	for i := range first.Factors {
		if first.Factors[i] != second.Factors[i] {
			t.Fatalf("factor order changed: %v vs %v", first.Factors, second.Factors)
		}
	}
}
