package domain

import "time"

// OutcomeStatus is the result of one delivery attempt.
type OutcomeStatus string

const (
	OutcomeSent    OutcomeStatus = "sent"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Skip reasons.
const (
	SkipSelfDestination = "self-destination"
	SkipDuplicate       = "duplicate"
)

// DeliveryOutcome records what happened for one (rule, destination) pair.
// Outcomes are reported to logs and metrics only; they are never persisted.
type DeliveryOutcome struct {
	Account   string
	RuleIndex int
	Source    int64
	Dest      int64
	Mode      string
	Status    OutcomeStatus
	Reason    string // set for skipped outcomes
	Err       error  // set for failed outcomes
	Duration  time.Duration
}
