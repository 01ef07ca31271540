package db

import (
	"context"
	"database/sql"
	"os"
	"time"

	"rujukan/pkg/domain"
	"rujukan/svc/util"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// legacyPaste mirrors the pastes table of the pre-rename database file.
type legacyPaste struct {
	ID          string         `gorm:"column:id;primaryKey"`
	Content     string         `gorm:"column:content"`
	Title       sql.NullString `gorm:"column:title"`
	CreatedAt   int64          `gorm:"column:created_at;autoCreateTime:false"`
	ExpiresAt   sql.NullInt64  `gorm:"column:expires_at"`
	DeleteToken string         `gorm:"column:delete_token"`
}

func (legacyPaste) TableName() string { return "pastes" }

func (lp legacyPaste) toDomain() *domain.Paste {
	p := &domain.Paste{
		ID:          lp.ID,
		Content:     lp.Content,
		Title:       lp.Title.String,
		CreatedAt:   time.Unix(lp.CreatedAt, 0),
		DeleteToken: lp.DeleteToken,
	}
	if lp.ExpiresAt.Valid {
		t := time.Unix(lp.ExpiresAt.Int64, 0)
		p.ExpiresAt = &t
	}
	return p
}

type MigrationResult struct {
	Seen     int
	Imported int
	Skipped  int
	Backup   string
}

// MigrateLegacy copies every row of the legacy database at path into s,
// keeping rows whose id already exists, then renames the legacy file to
// path+".bak". A missing file is a no-op.
func MigrateLegacy(ctx context.Context, s *SQLite, path string) (*MigrationResult, error) {
	res := &MigrationResult{}
	if path == "" {
		return res, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return nil, errors.Wrap(err, "stat legacy db")
	}
	util.Info().Str("path", path).Msg("found legacy database, migrating")
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open legacy db")
	}
	var rows []legacyPaste
	findErr := gdb.WithContext(ctx).Order("created_at").Find(&rows).Error
	if sqlDB, err := gdb.DB(); err == nil {
		sqlDB.Close()
	}
	if findErr != nil {
		return nil, errors.Wrap(findErr, "read legacy pastes")
	}
	for _, lp := range rows {
		res.Seen++
		inserted, err := s.Import(ctx, lp.toDomain())
		if err != nil {
			return res, errors.Wrapf(err, "import paste %s", lp.ID)
		}
		if inserted {
			res.Imported++
		} else {
			res.Skipped++
		}
	}
	res.Backup = path + ".bak"
	if err := os.Rename(path, res.Backup); err != nil {
		return res, errors.Wrap(err, "rename legacy db")
	}
	util.Info().
		Int("seen", res.Seen).
		Int("imported", res.Imported).
		Int("skipped", res.Skipped).
		Str("backup", res.Backup).
		Msg("legacy migration completed")
	return res, nil
}
