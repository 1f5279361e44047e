package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalogFile(t *testing.T) {
	products, err := loadCatalogFile(filepath.Join("testdata", "catalog.yaml"))
	require.NoError(t, err)
	require.Len(t, products, 3)

	kettle := products[0]
	assert.Equal(t, "prod-kettle", kettle.ID)
	assert.Equal(t, "Steel Electric Kettle", kettle.Name)
	assert.Equal(t, int64(129900), kettle.Price)
	assert.Equal(t, 25, kettle.Stock)
	assert.Equal(t, "kitchen", kettle.Category)

	assert.Equal(t, 0, products[2].Stock)
}

func TestParseCatalogRejectsUnknownFields(t *testing.T) {
	_, err := parseCatalog([]byte("products:\n  - id: p1\n    name: Mug\n    prize: 100\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prize")
}

func TestParseCatalogEmpty(t *testing.T) {
	_, err := parseCatalog([]byte(""))
	require.Error(t, err)

	_, err = parseCatalog([]byte("products: []\n"))
	require.Error(t, err)
}

func TestLoadCatalogFileMissing(t *testing.T) {
	_, err := loadCatalogFile(filepath.Join("testdata", "missing.yaml"))
	require.Error(t, err)
}
