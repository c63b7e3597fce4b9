package storage

import (
	"github.com/sbomify/sbomify/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("storage",
	fx.Provide(func(cfg config.Config) (ObjectStore, error) {
		return NewFilesystemStore(cfg.StorageRoot)
	}),
)
