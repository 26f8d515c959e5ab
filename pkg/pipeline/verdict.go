package pipeline

import "strings"

// Matching is literal and case-sensitive. The Portuguese forms are kept for
// reviewers that answer in the language of older prompts.
//
//nolint:gochecknoglobals // fixed marker sets
var (
	approvalMarkers = []string{
		"DECISION:** APPROVED",
		"DECISION: APPROVED",
		"**APPROVED**",
		"DECISÃO:** APROVADO",
		"DECISÃO: APROVADO",
		"**APROVADO**",
	}
	rejectionMarkers = []string{
		"DECISION:** REJECTED",
		"DECISION: REJECTED",
		"**REJECTED**",
		"DECISÃO:** REPROVADO",
		"DECISÃO: REPROVADO",
		"**REPROVADO**",
	}
)

// DetectApproval reports whether raw carries an approval marker. Anything
// else, including empty text, is not an approval.
func DetectApproval(raw string) bool {
	return containsAny(raw, approvalMarkers)
}

// ParseVerdict classifies a review completion. An approval marker wins over a
// rejection marker so that Approved always agrees with DetectApproval.
func ParseVerdict(raw string) Verdict {
	v := Verdict{Feedback: raw}
	switch {
	case DetectApproval(raw):
		v.Decision = DecisionApproved
	case containsAny(raw, rejectionMarkers):
		v.Decision = DecisionRejected
	default:
		v.Decision = DecisionUnrecognized
	}
	v.Approved = v.Decision == DecisionApproved
	return v
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
