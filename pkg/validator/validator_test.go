package validator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/cubelsp/internal/testutil"
	"github.com/leapstack-labs/cubelsp/pkg/scanner"
	"github.com/leapstack-labs/cubelsp/pkg/validator"
)

func findingsFor(t *testing.T, sql string, opts validator.Options) []validator.Finding {
	t.Helper()
	return validator.Validate(scanner.ScanLines(sql), testutil.CatalogIndex(t), opts)
}

func TestValidate_UnknownTable(t *testing.T) {
	findings := findingsFor(t, "SELECT * FROM customers", validator.Options{})

	require.Len(t, findings, 1)
	assert.Equal(t, validator.UnknownTable, findings[0].Kind)
	assert.Equal(t, "customers", findings[0].Table)
	assert.Equal(t, scanner.Range{Line: 0, StartCol: 14, EndCol: 23}, findings[0].Range)
}

func TestValidate_UnknownJoinTarget(t *testing.T) {
	findings := findingsFor(t, "FROM orders\nJOIN customers ON orders.customer_id = customers.id", validator.Options{})

	require.Len(t, findings, 1)
	assert.Equal(t, validator.UnknownTable, findings[0].Kind)
	assert.Equal(t, "customers", findings[0].Table)
	assert.Equal(t, 1, findings[0].Range.Line)
}

func TestValidate_JoinConditions(t *testing.T) {
	tests := []struct {
		name      string
		sql       string
		opts      validator.Options
		wantKinds []validator.Kind
	}{
		{
			name: "declared condition",
			sql:  "FROM products\nJOIN product_categories ON products.product_category_id = product_categories.id",
		},
		{
			name: "whitespace and trailing semicolon are ignored",
			sql:  "FROM products\nJOIN product_categories ON   products.product_category_id =\tproduct_categories.id;",
		},
		{
			name:      "wrong column",
			sql:       "FROM products\nJOIN product_categories ON products.id = product_categories.id",
			wantKinds: []validator.Kind{validator.JoinMismatch},
		},
		{
			name:      "case differs",
			sql:       "FROM products\nJOIN product_categories ON PRODUCTS.product_category_id = product_categories.id",
			wantKinds: []validator.Kind{validator.JoinMismatch},
		},
		{
			name:      "operand swap is not recognized",
			sql:       "FROM products\nJOIN product_categories ON product_categories.id = products.product_category_id",
			wantKinds: []validator.Kind{validator.JoinMismatch},
		},
		{
			name:      "trailing sql fails equality",
			sql:       "FROM products\nJOIN product_categories ON products.product_category_id = product_categories.id WHERE 1 = 1",
			wantKinds: []validator.Kind{validator.JoinMismatch},
		},
		{
			name: "trailing sql passes contains",
			sql:  "FROM products\nJOIN product_categories ON products.product_category_id = product_categories.id WHERE 1 = 1",
			opts: validator.Options{Match: validator.MatchContains},
		},
		{
			name: "any cube declaring the key is accepted",
			sql:  "FROM orders\nJOIN products ON orders.product_id = products.id",
		},
		{
			name: "templates of other cubes using the key also match",
			sql:  "FROM product_categories\nJOIN products ON products.product_category_id = product_categories.id",
		},
		{
			name:      "known table without declared join",
			sql:       "FROM products\nJOIN line_items ON line_items.product_id = products.id",
			wantKinds: []validator.Kind{validator.JoinMismatch},
		},
		{
			name: "missing condition is allowed by default",
			sql:  "FROM products\nJOIN product_categories",
		},
		{
			name:      "missing condition when required",
			sql:       "FROM products\nJOIN product_categories",
			opts:      validator.Options{RequireCondition: true},
			wantKinds: []validator.Kind{validator.MissingJoinCondition},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var kinds []validator.Kind
			for _, f := range findingsFor(t, tt.sql, tt.opts) {
				kinds = append(kinds, f.Kind)
			}
			assert.Equal(t, tt.wantKinds, kinds)
		})
	}
}

func TestValidate_MismatchCoversCondition(t *testing.T) {
	sql := "FROM products\nJOIN product_categories ON products.id = product_categories.id"
	findings := findingsFor(t, sql, validator.Options{})

	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, "product_categories", f.Table)
	assert.Equal(t, scanner.Range{Line: 1, StartCol: 27, EndCol: 62}, f.Range)
	assert.Equal(t, "products.id = product_categories.id", f.Condition)
	assert.Equal(t, []string{"products.product_category_id = product_categories.id"}, f.Expected)
}

func TestValidate_NilIndex(t *testing.T) {
	refs := scanner.ScanLines("FROM orders\nJOIN products ON a = b")
	findings := validator.Validate(refs, nil, validator.Options{})

	require.Len(t, findings, 2)
	for _, f := range findings {
		assert.Equal(t, validator.UnknownTable, f.Kind)
	}
}

func TestResolveTemplate(t *testing.T) {
	assert.Equal(t, "orders.product_id = products.id", validator.ResolveTemplate("${orders}.product_id = ${products}.id"))
	assert.Equal(t, "TABLE.name", validator.ResolveTemplate("${TABLE}.name"))
	assert.Equal(t, "no placeholders", validator.ResolveTemplate("no placeholders"))
	assert.Equal(t, "${line_items.totalAmount}", validator.ResolveTemplate("${line_items.totalAmount}"))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  a  =\n\tb  ", "a = b"},
		{"a = b;", "a = b"},
		{"a = b;;", "a = b;"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, validator.Normalize(tt.in), "normalize %q", tt.in)
	}
}

func TestParseMatchPolicy(t *testing.T) {
	p, err := validator.ParseMatchPolicy("")
	require.NoError(t, err)
	assert.Equal(t, validator.MatchEqual, p)

	p, err = validator.ParseMatchPolicy("Contains")
	require.NoError(t, err)
	assert.Equal(t, validator.MatchContains, p)

	_, err = validator.ParseMatchPolicy("fuzzy")
	assert.Error(t, err)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "join-mismatch", validator.JoinMismatch.String())
	assert.Equal(t, "Kind(9)", validator.Kind(9).String())
}
