package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tishop/marketplace-backend/pkg/db/models"
)

// Fixtures is the catalog data loaded by `migrate seed` for local environments.
type Fixtures struct {
	Shops           []models.Shop           `yaml:"shops"`
	Products        []models.Product        `yaml:"products"`
	Variants        []models.ProductVariant `yaml:"variants"`
	DeliveryOptions []models.DeliveryOption `yaml:"delivery_options"`
}

// LoadFixtures decodes a fixtures document. Unknown keys are rejected.
func LoadFixtures(r io.Reader) (*Fixtures, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f Fixtures
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	return &f, nil
}

func LoadFixturesFile(path string) (*Fixtures, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixtures: %w", err)
	}
	defer file.Close()
	return LoadFixtures(file)
}

// Seed inserts the fixtures in one transaction. Rows whose id already exists are left untouched,
// so seeding twice is harmless.
func Seed(ctx context.Context, conn *gorm.DB, f *Fixtures) (int64, error) {
	if conn == nil {
		return 0, fmt.Errorf("db is required")
	}
	if f == nil {
		return 0, nil
	}
	var inserted int64
	err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batches := []struct {
			name string
			rows any
			size int
		}{
			{"shops", &f.Shops, len(f.Shops)},
			{"products", &f.Products, len(f.Products)},
			{"variants", &f.Variants, len(f.Variants)},
			{"delivery options", &f.DeliveryOptions, len(f.DeliveryOptions)},
		}
		for _, batch := range batches {
			if batch.size == 0 {
				continue
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(batch.rows)
			if res.Error != nil {
				return fmt.Errorf("seed %s: %w", batch.name, res.Error)
			}
			inserted += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
