package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyphanet/plugin-Library-sub002/archive"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotPublished = errors.New("nothing published under request key")

// IndexRoot is the latest published root of one index. Only the request key is stored; the insert key it derives from stays with the publisher.
type IndexRoot struct {
	ID         uint   `gorm:"primarykey"`
	RequestKey string `gorm:"uniqueIndex"`
	Root       string
	// bumped on every publish
	Edition   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Registry maps request keys to the latest root published under them.
type Registry struct {
	db  *gorm.DB
	log *slog.Logger
}

func New(db *gorm.DB) (*Registry, error) {
	if err := db.AutoMigrate(&IndexRoot{}); err != nil {
		return nil, fmt.Errorf("migrating registry tables: %w", err)
	}
	return &Registry{
		db:  db,
		log: slog.Default().With("system", "registry"),
	}, nil
}

// RequestKey is the public key readers resolve an index by, derived one way from its insert key.
func RequestKey(insertKey string) string {
	sum := sha256.Sum256([]byte(insertKey))
	return hex.EncodeToString(sum[:])
}

// Publish records root as the latest index under insertKey.
func (r *Registry) Publish(ctx context.Context, insertKey string, root archive.Locator) error {
	if insertKey == "" {
		return fmt.Errorf("publishing without an insert key")
	}
	if !root.Defined() {
		return archive.ErrNullLocator
	}
	row := IndexRoot{
		RequestKey: RequestKey(insertKey),
		Root:       root.String(),
		Edition:    1,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "request_key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"root":       row.Root,
			"edition":    gorm.Expr("index_roots.edition + 1"),
			"updated_at": time.Now(),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("publishing %s: %w", root, err)
	}
	r.log.Info("published index", "request_key", row.RequestKey, "root", row.Root)
	return nil
}

// Resolve returns the latest root published under requestKey, and its edition.
func (r *Registry) Resolve(ctx context.Context, requestKey string) (archive.Locator, int64, error) {
	var row IndexRoot
	err := r.db.WithContext(ctx).Where("request_key = ?", requestKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return archive.Locator{}, 0, fmt.Errorf("%s: %w", requestKey, ErrNotPublished)
	}
	if err != nil {
		return archive.Locator{}, 0, err
	}
	loc, err := archive.ParseLocator(row.Root)
	if err != nil {
		return archive.Locator{}, 0, fmt.Errorf("registry row for %s: %w", requestKey, err)
	}
	return loc, row.Edition, nil
}
