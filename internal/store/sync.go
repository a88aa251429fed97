package store

import (
	"log/slog"
	"time"

	"github.com/epiforge/cascade/internal/checksum"
	"github.com/epiforge/cascade/internal/framework"
	"github.com/epiforge/cascade/internal/library"
)

// Sync walks the library and brings the catalog up to date:
//   - new/changed documents are validated and upserted
//   - documents removed from disk are deleted from the catalog
func Sync(db *DB, lib library.Provider, logger *slog.Logger) error {
	metas, err := lib.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := lib.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := CatalogModel(db, m.Path, data); err != nil {
			logger.Warn("sync: catalog failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: cataloged", slog.String("path", m.Path))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteModel(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// CatalogModel validates a model document and upserts its catalog entry.
// Invalid documents are kept in the catalog with their validation error, so
// the API can report what is wrong with them.
func CatalogModel(db *DB, path string, data []byte) error {
	row := ModelRow{
		Path:      path,
		Checksum:  checksum.Sum(data),
		UpdatedAt: time.Now().UTC(),
	}
	f, err := framework.Load(data)
	if err != nil {
		row.Error = err.Error()
	} else {
		row.Valid = true
		row.Name = f.Name
		row.Compartments = len(f.Compartments)
		row.Characteristics = len(f.Characteristics)
		row.Parameters = len(f.Parameters)
		row.Transitions = len(f.Transitions)
		row.Cascades = len(f.Cascades)
	}
	return db.UpsertModel(row)
}
