package audit

import (
	"time"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	// OutcomeDesync marks a committed transition whose ledger mirror was deferred.
	OutcomeDesync Outcome = "desync"
)

// Table: audit_records. Append-only.
type Record struct {
	// Internal numeric PK
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Public identifier (32-char lowercase hex)
	RecordID  string    `gorm:"column:record_id;type:char(32);not null;uniqueIndex:ux_audit_records_record_id"`
	EventType string    `gorm:"column:event_type;size:64;not null;index"`
	ActorID   string    `gorm:"column:actor_id;size:64"`
	LoanID    string    `gorm:"column:loan_id;size:32;index"`
	Outcome   Outcome   `gorm:"column:outcome;size:16;not null"`
	ErrorKind string    `gorm:"column:error_kind;size:32"`
	Message   string    `gorm:"column:message;type:text"`
	Payload   string    `gorm:"column:payload;type:text"`
	Timestamp time.Time `gorm:"column:occurred_at;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Record) TableName() string { return "audit_records" }
