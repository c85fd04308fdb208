package greenhouses

// OutcomeKind tags how a mutation was reconciled with the record store.
type OutcomeKind string

const (
	// OutcomeConfirmed means the store accepted the mutation.
	OutcomeConfirmed OutcomeKind = "confirmed"
	// OutcomeLocalOnly means the mutation lives only in the local collection.
	OutcomeLocalOnly OutcomeKind = "local_only"
)

// Outcome is returned by every mutating collection operation. The collection view is
// always rendered from local state; the tag drives degraded-mode messaging.
type Outcome struct {
	kind   OutcomeKind
	record Record
	reason error
}

// Confirmed builds an outcome carrying the store's record.
func Confirmed(record Record) Outcome {
	return Outcome{kind: OutcomeConfirmed, record: record}
}

// LocalOnly builds an outcome carrying the reason the store was not updated.
func LocalOnly(reason error) Outcome {
	return Outcome{kind: OutcomeLocalOnly, reason: reason}
}

// Kind returns the outcome tag.
func (o Outcome) Kind() OutcomeKind {
	return o.kind
}

// IsConfirmed reports whether the store accepted the mutation.
func (o Outcome) IsConfirmed() bool {
	return o.kind == OutcomeConfirmed
}

// Record returns the store's record for confirmed outcomes.
func (o Outcome) Record() (Record, bool) {
	return o.record, o.kind == OutcomeConfirmed
}

// Reason returns the failure behind a local-only outcome.
func (o Outcome) Reason() error {
	return o.reason
}
