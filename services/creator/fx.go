package creator

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("creator.service",
	fx.Provide(NewService),
	fx.Invoke(migrate),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Profile{})
}
