// Package pipeline defines the outreach stage machine for candidates.
//
// Valid stage graph (forward skips are allowed):
//
//	discovered ──► contacted ──► responded ──► meeting ──► signed
//	    │              │             │            │
//	    └──────────────┴─────────────┴────────────┴──► rejected
//
// signed and rejected are terminal stages.
package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"newface/discovery-service/internal/model"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[model.CandidateStatus][]model.CandidateStatus{
	model.StatusDiscovered: {model.StatusContacted, model.StatusResponded, model.StatusMeeting, model.StatusSigned, model.StatusRejected},
	model.StatusContacted:  {model.StatusResponded, model.StatusMeeting, model.StatusSigned, model.StatusRejected},
	model.StatusResponded:  {model.StatusMeeting, model.StatusSigned, model.StatusRejected},
	model.StatusMeeting:    {model.StatusSigned, model.StatusRejected},
	// signed and rejected have no outgoing transitions
}

// ParseStatus converts a raw string to a stage, returning an error for
// unknown values. Matching ignores case and surrounding space.
func ParseStatus(s string) (model.CandidateStatus, error) {
	st := model.CandidateStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case model.StatusDiscovered, model.StatusContacted, model.StatusResponded,
		model.StatusMeeting, model.StatusSigned, model.StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown candidate status %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted by the
// stage machine.
func IsTransitionAllowed(from, to model.CandidateStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// IsTerminal reports whether no move out of s exists.
func IsTerminal(s model.CandidateStatus) bool {
	_, ok := validTransitions[s]
	return !ok
}
