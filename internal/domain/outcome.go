package domain

import "time"

// OutcomeKind distinguishes success and failure outcome reports.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "SUCCESS"
	OutcomeFailure OutcomeKind = "FAILURE"
)

func (k OutcomeKind) String() string { return string(k) }

func (k OutcomeKind) IsValid() bool {
	return k == OutcomeSuccess || k == OutcomeFailure
}

// Outcome is one item's terminal result as reported to the completion ledger.
type Outcome struct {
	Kind       OutcomeKind
	ArtifactID string
	Title      string
	Reason     string
}

func SuccessOutcome(artifactID string) Outcome {
	return Outcome{Kind: OutcomeSuccess, ArtifactID: artifactID}
}

func FailureOutcome(title, reason string) Outcome {
	return Outcome{Kind: OutcomeFailure, Title: title, Reason: reason}
}

// ItemReport is the idempotency record for one (batch, item, kind) outcome.
// A unique index over those three columns makes re-reports under
// at-least-once delivery detectable as conflicts.
type ItemReport struct {
	ID        string
	BatchID   string
	ItemIndex int
	Kind      OutcomeKind
	CreatedAt time.Time
}
