// Package sqlitedb opens in-memory sqlite databases carrying a sqlite-safe copy of the
// MySQL schema (no ENUM columns) for repository and usecase tests.
package sqlitedb

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// --- SQLite-friendly schema only for tests (no ENUM) ---

type LoanSQLite struct {
	ID              uint64     `gorm:"primaryKey;column:id"`
	LoanID          string     `gorm:"size:32;uniqueIndex;column:loan_id"`
	LedgerID        *string    `gorm:"column:ledger_id"`
	BorrowerID      string     `gorm:"size:32;column:borrower_id"`
	LenderID        *string    `gorm:"column:lender_id"`
	Principal       float64    `gorm:"column:principal"`
	InterestRate    float64    `gorm:"column:interest_rate"`
	TermLength      int        `gorm:"column:term_length"`
	TermUnit        string     `gorm:"column:term_unit"`
	Purpose         string     `gorm:"column:purpose"`
	Collateral      string     `gorm:"column:collateral"`
	Approved        bool       `gorm:"column:assessment_approved"`
	Score           float64    `gorm:"column:assessment_score"`
	RiskLevel       string     `gorm:"column:risk_level"`
	RecommendedRate float64    `gorm:"column:recommended_rate"`
	Reason          string     `gorm:"column:assessment_reason"`
	RiskScore       *float64   `gorm:"column:risk_score"`
	Status          string     `gorm:"type:text;column:status;default:'requested'"` // ← no enum
	FundedAmount    float64    `gorm:"column:funded_amount;not null;default:0"`
	AmountRepaid    float64    `gorm:"column:amount_repaid;not null;default:0"`
	FundingTxID     string     `gorm:"column:funding_tx_id"`
	FundRequestID   string     `gorm:"column:fund_request_id"`
	LedgerDesync    bool       `gorm:"column:ledger_desync;not null;default:false"`
	MirrorRequested bool       `gorm:"column:mirror_requested;not null;default:false"`
	FundedAt        *time.Time `gorm:"column:funded_at"`
	DisbursedAt     *time.Time `gorm:"column:disbursed_at"`
	RepaidAt        *time.Time `gorm:"column:repaid_at"`
	CancelledAt     *time.Time `gorm:"column:cancelled_at"`
	DefaultedAt     *time.Time `gorm:"column:defaulted_at"`
	RejectedAt      *time.Time `gorm:"column:rejected_at"`
	Version         uint64     `gorm:"column:version;not null;default:0"`
	StateUpdatedAt  time.Time  `gorm:"column:state_updated_at"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

func (LoanSQLite) TableName() string { return "loans" }

type RepaymentSQLite struct {
	ID               uint64    `gorm:"primaryKey;column:id"`
	LoanRef          uint64    `gorm:"column:loan_ref;uniqueIndex:ux_rep_inst"`
	InstallmentNo    int       `gorm:"column:installment_no;uniqueIndex:ux_rep_inst"`
	Amount           float64   `gorm:"column:amount"`
	PrincipalPortion float64   `gorm:"column:principal_portion"`
	InterestPortion  float64   `gorm:"column:interest_portion"`
	PaymentMethod    string    `gorm:"column:payment_method"`
	PaymentTxID      string    `gorm:"column:payment_tx_id"`
	RequestID        string    `gorm:"column:request_id"`
	Source           string    `gorm:"column:source"`
	PaidAt           time.Time `gorm:"column:paid_at"`
}

func (RepaymentSQLite) TableName() string { return "loan_repayments" }

type AuditSQLite struct {
	ID        uint64    `gorm:"primaryKey;column:id;autoIncrement"`
	RecordID  string    `gorm:"size:64;uniqueIndex;column:record_id"`
	EventType string    `gorm:"column:event_type"`
	ActorID   string    `gorm:"column:actor_id"`
	LoanID    string    `gorm:"column:loan_id"`
	Outcome   string    `gorm:"column:outcome"`
	ErrorKind string    `gorm:"column:error_kind"`
	Message   string    `gorm:"column:message"`
	Payload   string    `gorm:"column:payload"`
	Timestamp time.Time `gorm:"column:occurred_at"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (AuditSQLite) TableName() string { return "audit_records" }

var seq atomic.Int64

// Open creates a private in-memory sqlite DB and migrates ONLY the sqlite-safe schema.
// The pool is pinned to one connection so every query sees the same database and
// concurrent transactions queue instead of failing with SQLITE_BUSY.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:loans_%d?mode=memory&cache=shared", seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	// IMPORTANT: migrate the sqlite-safe models, NOT the domain models.
	if err := db.AutoMigrate(&LoanSQLite{}, &RepaymentSQLite{}, &AuditSQLite{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}
