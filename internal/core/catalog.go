package core

// catalog.go defines the fixed staging column set and the header aliases
// recognised for each column. The column order is the order of the staged
// CSV and of the COPY column list.

import (
	"fmt"
	"sort"
)

var canonicalColumns = []string{
	"data",
	"produto",
	"sku",
	"familia",
	"sub_familia",
	"cor",
	"tam",
	"marca",
	"cod_cliente",
	"razao_social",
	"qtde",
	"preco_unit",
	"total_venda",
	"total_custo",
	"margem",
	"documento_fiscal",
}

var numericColumns = []string{"qtde", "preco_unit", "total_venda", "total_custo", "margem"}

// Alias order is the lookup priority. The first alias found in the header wins.
var defaultAliases = map[string][]string{
	"data":             {"data", "dt", "data_venda", "dt_venda", "date", "dt_emissao", "emissao", "data_emissao"},
	"produto":          {"produto", "produto_desc", "nome_produto", "descricao_produto", "produto_nome"},
	"sku":              {"sku", "cod_sku", "codigo_sku", "id_sku", "produto_id", "item_id"},
	"familia":          {"familia", "linha", "grupo", "departamento"},
	"sub_familia":      {"sub_familia", "subfamilia", "categoria", "subcategoria", "grupo2"},
	"cor":              {"cor", "color"},
	"tam":              {"tam", "tamanho", "size"},
	"marca":            {"marca", "brand"},
	"cod_cliente":      {"cod_cliente", "cliente_id", "id_cliente", "codigo_cliente", "cod_cli"},
	"razao_social":     {"razao_social", "cliente", "nome_cliente", "fantasia", "razaosocial"},
	"qtde":             {"qtde", "qtd", "quantidade", "quant"},
	"preco_unit":       {"preco_unit", "preco", "preco_unitario", "valor_unit", "vl_unit"},
	"total_venda":      {"total_venda", "valor_venda", "vl_total", "venda_total", "faturamento", "vl_venda"},
	"total_custo":      {"total_custo", "custo_total", "vl_custo", "custo"},
	"margem":           {"margem", "margem_total", "lucro", "markup", "margem_%", "margem_perc"},
	"documento_fiscal": {"documento_fiscal", "nf", "nfe", "nota", "pedido", "doc_fiscal", "num_doc"},
}

// Catalog is the immutable column vocabulary used by header resolution and
// row normalization. It is safe for concurrent use.
type Catalog struct {
	columns []string
	index   map[string]int
	aliases map[string][]string
	numeric map[string]bool
}

var defaultCatalog = mustCatalog(nil)

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

// NewCatalog builds a catalog from the built-in aliases with extra aliases
// prepended per column, so they take priority over the defaults.
// Keys of extra must be canonical column names.
func NewCatalog(extra map[string][]string) (*Catalog, error) {
	c := &Catalog{
		columns: append([]string(nil), canonicalColumns...),
		index:   make(map[string]int, len(canonicalColumns)),
		aliases: make(map[string][]string, len(canonicalColumns)),
		numeric: make(map[string]bool, len(numericColumns)),
	}
	for i, col := range canonicalColumns {
		c.index[col] = i
	}
	for _, col := range numericColumns {
		c.numeric[col] = true
	}

	var unknown []string
	for col := range extra {
		if _, ok := c.index[col]; !ok {
			unknown = append(unknown, col)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown canonical columns in aliases: %v", unknown)
	}

	for _, col := range canonicalColumns {
		merged := make([]string, 0, len(extra[col])+len(defaultAliases[col]))
		seen := make(map[string]bool)
		for _, a := range append(append([]string(nil), extra[col]...), defaultAliases[col]...) {
			if a == "" || seen[a] {
				continue
			}
			seen[a] = true
			merged = append(merged, a)
		}
		c.aliases[col] = merged
	}

	return c, nil
}

func mustCatalog(extra map[string][]string) *Catalog {
	c, err := NewCatalog(extra)
	if err != nil {
		panic(err)
	}
	return c
}

// Columns returns the canonical columns in staging order.
func (c *Catalog) Columns() []string {
	return append([]string(nil), c.columns...)
}

// Len returns the number of canonical columns.
func (c *Catalog) Len() int {
	return len(c.columns)
}

// Has reports whether col is a canonical column.
func (c *Catalog) Has(col string) bool {
	_, ok := c.index[col]
	return ok
}

// Aliases returns the aliases of col in priority order.
func (c *Catalog) Aliases(col string) []string {
	return append([]string(nil), c.aliases[col]...)
}

// IsNumeric reports whether col holds decimal values.
func (c *Catalog) IsNumeric(col string) bool {
	return c.numeric[col]
}
