package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/cubelsp/pkg/semantic"
)

// CatalogYAML is the four-cube e-commerce catalog (line_items, orders,
// product_categories, products) used by the package tests.
const CatalogYAML = `cubes:
  - name: line_items
    dimensions:
      id: { sql: id, type: number, primaryKey: true }
      quantity: { sql: quantity, type: number }
      price: { sql: price, type: number, format: currency }
      createdAt: { sql: created_at, type: time }
    measures:
      count: { sql: id, type: count }
      totalAmount: { sql: price, type: runningTotal, format: currency }
      cumulativeTotalRevenue: { sql: price, type: runningTotal, format: currency }
    joins:
      orders:
        relationship: belongsTo
        sql: "${orders}.id = ${line_items}.order_id"

  - name: orders
    dimensions:
      id: { sql: id, type: number, primaryKey: true }
      status: { sql: status, type: string, description: Status of order }
      userId: { sql: user_id, type: number, shown: false }
      completedAt: { sql: completed_at, type: time }
      createdAt: { sql: created_at, type: time }
      amount: { sql: "${line_items.totalAmount}", type: number, format: currency, shown: false }
    measures:
      count: { type: count }
      totalAmount: { sql: "${amount}", type: sum, format: currency }
    joins:
      products:
        relationship: belongsTo
        sql: "${orders}.product_id = ${products}.id"
      lineItems:
        relationship: hasMany
        sql: "${orders}.id = ${lineItems}.order_id"
    segments:
      completed: { sql: "status = 'completed'" }
      processing: { sql: "status = 'processing'" }
      shipped: { sql: "status = 'shipped'" }

  - name: product_categories
    dimensions:
      id: { sql: id, type: number, primaryKey: true }
      name: { sql: "${TABLE}.name", type: string }
    measures: {}
    joins:
      products:
        relationship: hasMany
        sql: "${products}.product_category_id = ${product_categories}.id"

  - name: products
    dimensions:
      id: { sql: id, type: number, primaryKey: true }
      name: { sql: name, type: string }
    measures:
      count: { sql: "count(*)", type: number }
    joins:
      product_categories:
        relationship: belongsTo
        sql: "${products}.product_category_id = ${product_categories}.id"
`

// CatalogCubes decodes CatalogYAML.
func CatalogCubes(t testing.TB) []semantic.Cube {
	t.Helper()
	cubes, err := semantic.Decode([]byte(CatalogYAML))
	if err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	return cubes
}

// CatalogIndex returns the catalog as a built index.
func CatalogIndex(t testing.TB) *semantic.Index {
	t.Helper()
	return semantic.BuildIndex(CatalogCubes(t))
}

// WriteFile writes content to name inside dir and returns the full path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
