package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/jbelamor/donormark-backend/pkg/errors"
	"github.com/jbelamor/donormark-backend/pkg/logger"
	"github.com/jbelamor/donormark-backend/pkg/metrics"
)

// FileStore keeps the registry document in a single JSON file.
type FileStore struct {
	path    string
	logg    *logger.Logger
	metrics *metrics.LedgerMetrics
}

// NewFileStore builds a file-backed store. Logger and metrics may be nil.
func NewFileStore(path string, logg *logger.Logger, m *metrics.LedgerMetrics) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("registry file path is required")
	}
	return &FileStore{path: path, logg: logg, metrics: m}, nil
}

func (s *FileStore) Load(ctx context.Context) (*Document, error) {
	payload, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		doc := NewDocument()
		if err := s.Save(ctx, doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "read registry file")
	}

	doc, repaired, decodeErr := DecodeDocument(payload)
	if decodeErr != nil {
		if err := s.backupCorrupt(payload); err != nil {
			return nil, err
		}
		if s.logg != nil {
			lctx := s.logg.WithField(ctx, "path", s.path)
			s.logg.Error(lctx, "registry file unparsable, reset to empty document", decodeErr)
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
			s.logg.Warn(s.logg.WithField(ctx, "path", s.path), "registry collections repaired on load")
		}
		s.metrics.IncStoreRecovery("malformed_collection")
		if err := s.Save(ctx, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (s *FileStore) Save(_ context.Context, doc *Document) error {
	start := time.Now()
	payload, err := EncodeDocument(doc)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "encode registry document")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "create temp registry file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "write registry file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "close registry file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "replace registry file")
	}

	s.metrics.ObserveSave(time.Since(start).Seconds())
	return nil
}

// backupCorrupt preserves an unparsable payload under a timestamped name so
// the data loss is recoverable, never silent. The nanosecond suffix keeps
// recoveries within the same second from clobbering each other.
func (s *FileStore) backupCorrupt(payload []byte) error {
	backupPath := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().UTC().Format("20060102T150405.000000000"))
	if err := os.WriteFile(backupPath, payload, 0o644); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "back up corrupt registry file")
	}
	return nil
}
