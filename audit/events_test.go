package audit

import "testing"

func TestScoreAndSeverity(t *testing.T) {
	cases := []struct {
		name     string
		typ      EventType
		details  map[string]any
		score    int
		severity Severity
	}{
		{"base only", LoginSuccess, nil, 1, SeverityLow},
		{"escalation with sensitive data clamps", PrivilegeEscalationAttempt, map[string]any{FlagSensitiveData: true}, 10, SeverityCritical},
		{"failed attempts imply repeated failures", LoginFailed, map[string]any{"failed_attempts": 3}, 5, SeverityMedium},
		{"failed attempts below threshold", LoginFailed, map[string]any{"failed_attempts": 2}, 3, SeverityLow},
		{"json number attempts", LoginFailed, map[string]any{"failed_attempts": float64(4)}, 5, SeverityMedium},
		{"string flag", DataExport, map[string]any{FlagExternalAccess: "true"}, 5, SeverityMedium},
		{"admin action", RoleChanged, map[string]any{FlagAdminAction: true}, 8, SeverityCritical},
		{"all flags", DataRead, map[string]any{
			FlagRepeatedFailures: true, FlagAdminAction: true, FlagSensitiveData: true, FlagExternalAccess: true,
		}, 9, SeverityCritical},
		{"high band", AccountLocked, nil, 6, SeverityHigh},
		{"unknown type", EventType("nope"), nil, 0, SeverityLow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Score(tc.typ, tc.details)
			if got != tc.score {
				t.Fatalf("score = %d, want %d", got, tc.score)
			}
			if sev := SeverityFor(got); sev != tc.severity {
				t.Fatalf("severity = %s, want %s", sev, tc.severity)
			}
		})
	}
}

func TestTagsFamilyThenFlags(t *testing.T) {
	tags := Tags(PrivilegeEscalationAttempt, map[string]any{
		FlagExternalAccess: true,
		FlagSensitiveData:  true,
	})
	want := []string{"authorization", FlagSensitiveData, FlagExternalAccess}
	if len(tags) != len(want) {
		t.Fatalf("tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("tags = %v, want %v", tags, want)
		}
	}
}

func TestEveryCatalogEntryHasValidScore(t *testing.T) {
	for typ, def := range catalog {
		if def.BaseScore < 1 || def.BaseScore > 9 {
			t.Fatalf("%s base score %d outside 1..9", typ, def.BaseScore)
		}
		if def.Family == "" {
			t.Fatalf("%s has no family", typ)
		}
	}
}
