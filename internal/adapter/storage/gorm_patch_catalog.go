package storage

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rl1809/kit-ledger/internal/core/domain"
)

// PatchModel is the catalog row. The ledger reads patches to validate and
// price line items; they are maintained with ledgerctl.
type PatchModel struct {
	gorm.Model
	Name     string          `gorm:"type:varchar(128);uniqueIndex"`
	Price    decimal.Decimal `gorm:"type:decimal(12,2)"`
	ImageURL string          `gorm:"type:varchar(512)"`
}

func (PatchModel) TableName() string {
	return "patches"
}

func toDomainPatch(model *PatchModel) domain.Patch {
	return domain.Patch{
		ID:        model.ID,
		Name:      model.Name,
		Price:     model.Price,
		ImageURL:  model.ImageURL,
		CreatedAt: model.CreatedAt,
	}
}

type GormPatchCatalog struct {
	db *gorm.DB
}

// OpenGorm shares an existing connection pool with GORM.
func OpenGorm(db *sql.DB) (*gorm.DB, error) {
	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{Conn: db}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open gorm")
	}
	return gdb, nil
}

func NewGormPatchCatalog(db *gorm.DB) *GormPatchCatalog {
	return &GormPatchCatalog{db: db}
}

func (c *GormPatchCatalog) ListPatches(ctx context.Context) ([]domain.Patch, error) {
	var models []PatchModel
	if err := c.db.WithContext(ctx).Order("name").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list patches")
	}

	patches := make([]domain.Patch, 0, len(models))
	for i := range models {
		patches = append(patches, toDomainPatch(&models[i]))
	}
	return patches, nil
}

func (c *GormPatchCatalog) FindByNames(ctx context.Context, names []string) (map[string]domain.Patch, error) {
	found := make(map[string]domain.Patch, len(names))
	if len(names) == 0 {
		return found, nil
	}

	var models []PatchModel
	if err := c.db.WithContext(ctx).Where("name IN ?", names).Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "find patches")
	}
	for i := range models {
		found[models[i].Name] = toDomainPatch(&models[i])
	}
	return found, nil
}

// SavePatch inserts the patch, or updates price and image of an existing one
// with the same name.
func (c *GormPatchCatalog) SavePatch(ctx context.Context, patch domain.Patch) (domain.Patch, error) {
	var model PatchModel
	err := c.db.WithContext(ctx).Where(PatchModel{Name: patch.Name}).
		Assign(PatchModel{Price: patch.Price, ImageURL: patch.ImageURL}).
		FirstOrCreate(&model).Error
	if err != nil {
		return domain.Patch{}, errors.Wrapf(err, "save patch %s", patch.Name)
	}
	return toDomainPatch(&model), nil
}
