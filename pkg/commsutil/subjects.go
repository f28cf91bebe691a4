package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectRelay       = "relay.dispatch.v1"
	SubjectEvaluations = "relay.evaluations"
)

var subjectTokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// SubjectToken makes s safe to use as a single subject token.
func SubjectToken(s string) string {
	return subjectTokenReplacer.Replace(s)
}

// BuildEvaluationSubject builds the per-process evaluation subject under base.
func BuildEvaluationSubject(base, processID string) string {
	if base == "" {
		base = SubjectEvaluations
	}
	return fmt.Sprintf("%s.%s", base, SubjectToken(processID))
}
