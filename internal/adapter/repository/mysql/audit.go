package mysql

import (
	"context"

	auditDomain "loan-lifecycle-engine/internal/domain/audit"

	"gorm.io/gorm"
)

type AuditRepository struct{ db *gorm.DB }

func NewAuditRepository(db *gorm.DB) *AuditRepository { return &AuditRepository{db: db} }

func (r *AuditRepository) Record(ctx context.Context, a *auditDomain.Record) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *AuditRepository) ListByLoanID(ctx context.Context, loanID string) ([]auditDomain.Record, error) {
	var out []auditDomain.Record
	res := r.db.WithContext(ctx).
		Where("loan_id = ?", loanID).
		Order("occurred_at ASC, id ASC").
		Find(&out)
	return out, res.Error
}
