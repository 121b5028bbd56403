package postgres

import (
	"context"
	"fmt"
)

// constraints gorm tags cannot express.
var rawDDL = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_revision_requests_one_pending
		ON revision_requests (document_id) WHERE status = 'PENDING'`,
	`CREATE INDEX IF NOT EXISTS idx_documents_party_sirets
		ON documents USING GIN (party_sirets)`,
}

// Migrate creates or upgrades the schema.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.DB.WithContext(ctx)
	if err := db.AutoMigrate(
		&DocumentModel{},
		&LegModel{},
		&PackagingModel{},
		&RevisionRequestModel{},
		&RevisionApprovalModel{},
		&EventModel{},
		&EventStreamSeqModel{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, stmt := range rawDDL {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}
	return nil
}
