package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kartline/api/internal/services"
)

type catalogFile struct {
	Products []catalogEntry `yaml:"products"`
}

type catalogEntry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Price       int64  `yaml:"price"`
	Stock       int    `yaml:"stock"`
	Image       string `yaml:"image"`
}

func loadCatalogFile(path string) ([]services.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return parseCatalog(data)
}

// parseCatalog decodes the YAML catalog. Unknown keys are rejected so typos do not silently drop data.
func parseCatalog(data []byte) ([]services.Product, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var file catalogFile
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog: file is empty")
		}
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if len(file.Products) == 0 {
		return nil, errors.New("catalog: no products listed")
	}

	products := make([]services.Product, 0, len(file.Products))
	for _, entry := range file.Products {
		products = append(products, services.Product{
			ID:          entry.ID,
			Name:        entry.Name,
			Description: entry.Description,
			Category:    entry.Category,
			Price:       entry.Price,
			Stock:       entry.Stock,
			Image:       entry.Image,
		})
	}
	return products, nil
}
