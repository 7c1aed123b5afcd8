package port

import (
	"context"

	"github.com/rl1809/kit-ledger/internal/core/domain"
)

type PatchCatalog interface {
	ListPatches(ctx context.Context) ([]domain.Patch, error)

	// FindByNames returns the catalog entries keyed by their catalog name.
	// Names match case-insensitively; unknown names are absent.
	FindByNames(ctx context.Context, names []string) (map[string]domain.Patch, error)
}
