package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action types written to the audit trail.
const (
	ActionBookAdded            = "book_added"
	ActionBookBorrowed         = "book_borrowed"
	ActionBookReturned         = "book_returned"
	ActionInventoryResized     = "inventory_resized"
	ActionBookRetired          = "book_retired"
	ActionReviewSubmitted      = "review_submitted"
	ActionReviewUpdated        = "review_updated"
	ActionReviewDeleted        = "review_deleted"
	ActionLargeInventoryChange = "large_inventory_change"
	ActionBookDeactivated      = "book_deactivated"
	ActionConsistencyViolation = "consistency_violation"
)

// Target types.
const (
	TargetBook   = "book"
	TargetLoan   = "loan"
	TargetReview = "review"
)

// SystemActor marks entries written without a human actor.
var SystemActor = uuid.Nil

// AuditEntry is immutable once appended. Seq is assigned by the store at
// commit and orders the trail.
type AuditEntry struct {
	Seq         int64           `json:"seq" db:"seq"`
	ID          uuid.UUID       `json:"id" db:"id"`
	ActorID     uuid.UUID       `json:"actor_id" db:"actor_id"`
	ActionType  string          `json:"action_type" db:"action_type"`
	TargetType  string          `json:"target_type" db:"target_type"`
	TargetID    uuid.UUID       `json:"target_id" db:"target_id"`
	Description string          `json:"description" db:"description"`
	Before      json.RawMessage `json:"before,omitempty" db:"before_state"`
	After       json.RawMessage `json:"after,omitempty" db:"after_state"`
	Timestamp   time.Time       `json:"timestamp" db:"created_at"`
	Digest      string          `json:"digest" db:"digest"`
}
