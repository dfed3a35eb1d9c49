package migrate

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tishop/marketplace-backend/internal/testdb"
	"github.com/tishop/marketplace-backend/pkg/db/models"
)

func TestLoadFixturesFileDecodesCatalog(t *testing.T) {
	f, err := LoadFixturesFile(filepath.Join("fixtures", "catalog.yaml"))
	require.NoError(t, err)

	require.Len(t, f.Shops, 2)
	require.Len(t, f.Products, 2)
	require.Len(t, f.Variants, 2)
	require.Len(t, f.DeliveryOptions, 2)

	assert.Equal(t, "500", f.Products[0].Price.String())
	require.NotNil(t, f.Products[0].Stock)
	assert.Equal(t, 40, *f.Products[0].Stock)
	assert.Nil(t, f.Variants[0].Price)
	require.NotNil(t, f.Variants[1].Price)
	assert.Equal(t, "1100", f.Variants[1].Price.String())
	assert.Equal(t, uuid.MustParse("7e3a2b10-4c5d-4e6f-8a9b-1c2d3e4f5a02"), f.Variants[0].ProductID)
}

func TestLoadFixturesRejectsUnknownKeys(t *testing.T) {
	_, err := LoadFixtures(strings.NewReader("shops: []\nsellers: []\n"))
	require.Error(t, err)
}

func TestLoadFixturesAcceptsEmptyDocument(t *testing.T) {
	f, err := LoadFixtures(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Shops)
}

func TestSeedIsRepeatable(t *testing.T) {
	conn := testdb.Open(t)
	f, err := LoadFixturesFile(filepath.Join("fixtures", "catalog.yaml"))
	require.NoError(t, err)

	inserted, err := Seed(context.Background(), conn, f)
	require.NoError(t, err)
	assert.EqualValues(t, 8, inserted)

	again, err := Seed(context.Background(), conn, f)
	require.NoError(t, err)
	assert.EqualValues(t, 0, again)

	var products int64
	require.NoError(t, conn.Model(&models.Product{}).Count(&products).Error)
	assert.EqualValues(t, 2, products)
}
