package models

import (
	"time"

	"github.com/google/uuid"
)

// EntryStatus is the verification outcome of a single entry
type EntryStatus string

const (
	EntryStatusValid  EntryStatus = "valid"
	EntryStatusBroken EntryStatus = "broken"
)

// BreakReason explains why an entry failed verification
type BreakReason string

const (
	// BreakReasonMissingPredecessor: the first entry of the window links to
	// an entry that does not exist in the store.
	BreakReasonMissingPredecessor BreakReason = "missing_predecessor"
	// BreakReasonSequenceGap: a later entry's predecessor is missing.
	BreakReasonSequenceGap BreakReason = "sequence_gap"
	// BreakReasonLinkMismatch: previousHash differs from the predecessor's selfHash.
	BreakReasonLinkMismatch BreakReason = "link_mismatch"
	// BreakReasonHashMismatch: the recomputed digest differs from selfHash.
	BreakReasonHashMismatch BreakReason = "hash_mismatch"
	// BreakReasonTimestampRegression: the entry is stamped earlier than its predecessor.
	BreakReasonTimestampRegression BreakReason = "timestamp_regression"
)

// EntryVerification is the per-entry result of a chain verification
type EntryVerification struct {
	SequenceNumber       int64       `json:"sequenceNumber"`
	ID                   uuid.UUID   `json:"id"`
	Timestamp            time.Time   `json:"timestamp"`
	Action               AuditAction `json:"action"`
	Status               EntryStatus `json:"status"`
	Reason               BreakReason `json:"reason,omitempty"`
	ExpectedPreviousHash string      `json:"expectedPreviousHash,omitempty"`
	ActualPreviousHash   string      `json:"actualPreviousHash,omitempty"`
}

// VerificationReport summarizes the integrity of a time window of the chain
type VerificationReport struct {
	StartDate           time.Time           `json:"startDate"`
	EndDate             time.Time           `json:"endDate"`
	Algorithm           string              `json:"algorithm"`
	TotalChecked        int                 `json:"totalChecked"`
	ValidCount          int                 `json:"validCount"`
	BrokenCount         int                 `json:"brokenCount"`
	FirstBrokenSequence *int64              `json:"firstBrokenSequence"`
	Valid               bool                `json:"valid"`
	Entries             []EntryVerification `json:"entries"`
	EntriesTruncated    bool                `json:"entriesTruncated"`
	VerifiedAt          time.Time           `json:"verifiedAt"`
}

// NewVerificationReport creates an empty, valid report for a window
func NewVerificationReport(start, end time.Time, algorithm string) *VerificationReport {
	return &VerificationReport{
		StartDate: start,
		EndDate:   end,
		Algorithm: algorithm,
		Valid:     true,
		Entries:   []EntryVerification{},
	}
}

// Add records an entry result. Once maxReported entries are held,
// further results only update the counters.
func (r *VerificationReport) Add(result EntryVerification, maxReported int) {
	r.TotalChecked++
	if result.Status == EntryStatusBroken {
		r.BrokenCount++
		r.Valid = false
		if r.FirstBrokenSequence == nil {
			seq := result.SequenceNumber
			r.FirstBrokenSequence = &seq
		}
	} else {
		r.ValidCount++
	}

	if maxReported > 0 && len(r.Entries) >= maxReported {
		r.EntriesTruncated = true
		return
	}
	r.Entries = append(r.Entries, result)
}

// BrokenEntries returns the reported entries that failed verification
func (r *VerificationReport) BrokenEntries() []EntryVerification {
	var broken []EntryVerification
	for _, e := range r.Entries {
		if e.Status == EntryStatusBroken {
			broken = append(broken, e)
		}
	}
	return broken
}
