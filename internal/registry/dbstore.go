package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	pkgerrors "github.com/jbelamor/donormark-backend/pkg/errors"
	"github.com/jbelamor/donormark-backend/pkg/logger"
	"github.com/jbelamor/donormark-backend/pkg/metrics"
)

// documentKey identifies the single registry row. The table holds one live
// document; corrupt payloads move to the backup table.
const documentKey = "registry"

type documentRow struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Payload   string    `gorm:"column:payload;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (documentRow) TableName() string { return "registry_documents" }

type backupRow struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Payload   string    `gorm:"column:payload;not null"`
	Reason    string    `gorm:"column:reason;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (backupRow) TableName() string { return "registry_document_backups" }

// DBStore keeps the registry document in a single database row.
type DBStore struct {
	db      *gorm.DB
	logg    *logger.Logger
	metrics *metrics.LedgerMetrics
}

// NewDBStore builds a database-backed store. Logger and metrics may be nil.
func NewDBStore(db *gorm.DB, logg *logger.Logger, m *metrics.LedgerMetrics) (*DBStore, error) {
	if db == nil {
		return nil, errors.New("gorm connection is required")
	}
	return &DBStore{db: db, logg: logg, metrics: m}, nil
}

func (s *DBStore) Load(ctx context.Context) (*Document, error) {
	var row documentRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", documentKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		doc := NewDocument()
		if err := s.Save(ctx, doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "load registry row")
	}

	doc, repaired, decodeErr := DecodeDocument([]byte(row.Payload))
	if decodeErr != nil {
		if err := s.backupCorrupt(ctx, row.Payload, decodeErr.Error()); err != nil {
			return nil, err
		}
		if s.logg != nil {
			s.logg.Error(ctx, "registry row unparsable, reset to empty document", decodeErr)
		}
		s.metrics.IncStoreRecovery("corrupt")
		doc = NewDocument()
		if err := s.Save(ctx, doc); err != nil {
			return nil, err
		}
		return doc, nil
	}

	if repaired {
		if s.logg != nil {
			s.logg.Warn(ctx, "registry collections repaired on load")
		}
		s.metrics.IncStoreRecovery("malformed_collection")
		if err := s.Save(ctx, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (s *DBStore) Save(ctx context.Context, doc *Document) error {
	start := time.Now()
	payload, err := EncodeDocument(doc)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "encode registry document")
	}

	row := documentRow{ID: documentKey, Payload: string(payload)}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "save registry row")
	}

	s.metrics.ObserveSave(time.Since(start).Seconds())
	return nil
}

func (s *DBStore) backupCorrupt(ctx context.Context, payload, reason string) error {
	backup := backupRow{ID: uuid.NewString(), Payload: payload, Reason: reason}
	if err := s.db.WithContext(ctx).Create(&backup).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "back up corrupt registry row")
	}
	return nil
}
