package core

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/xuri/excelize/v2"
)

const semicolonExport = "Data;Produto;SKU;Família;Sub Família;Cor;Tam;Marca;Cód. Cliente;Razão Social;Qtde;Preço Unit.;Total Venda;Total Custo;Margem;Documento Fiscal\n" +
	"05/03/2024;Camisa;S1;Moda;Camisas;Azul;M;Acme;C1;Loja X;2;1.234,50;2.469,00;1.000,00;1.469,00;NF1\n" +
	"\n" +
	"06/03/2024;Calça;S2;Moda;Calças;Preta;G;Acme;C2;Loja Y;1;99,90;99,90;50,00;49,90\n"

const stagedHeader = "data,produto,sku,familia,sub_familia,cor,tam,marca,cod_cliente,razao_social,qtde,preco_unit,total_venda,total_custo,margem,documento_fiscal\n"

func writeSource(t *testing.T, name string, data []byte) Source {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return NewSource(path, name, EncodingUTF8)
}

func runTransform(t *testing.T, src Source, overrides map[string]string, df DateFormat) (*Plan, string, int64) {
	t.Helper()
	tr := NewTransformer(DefaultCatalog(), TransformOptions{})

	plan, err := tr.Prepare(src, overrides)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	var out bytes.Buffer
	rows, err := tr.Transform(context.Background(), src, plan, df, &out)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	return plan, out.String(), rows
}

func TestTransform_SemicolonExport(t *testing.T) {
	src := writeSource(t, "vendas.csv", []byte(semicolonExport))

	plan, out, rows := runTransform(t, src, nil, DateBR)

	if plan.Dialect.Delimiter != ';' {
		t.Errorf("Delimiter = %q, want ';'", plan.Dialect.Delimiter)
	}
	if len(plan.Preview) != 2 {
		t.Errorf("Preview has %d rows, want 2", len(plan.Preview))
	}
	if plan.Preview[0][11] != "1.234,50" {
		t.Errorf("Preview should hold raw values, got %q", plan.Preview[0][11])
	}
	if rows != 2 {
		t.Errorf("rows = %d, want 2", rows)
	}

	want := stagedHeader +
		"2024-03-05,Camisa,S1,Moda,Camisas,Azul,M,Acme,C1,Loja X,2,1234.50,2469.00,1000.00,1469.00,NF1\n" +
		"2024-03-06,Calça,S2,Moda,Calças,Preta,G,Acme,C2,Loja Y,1,99.90,99.90,50.00,49.90,\n"
	if out != want {
		t.Errorf("staged output:\n%s\nwant:\n%s", out, want)
	}
}

func TestTransform_ISODatesUntouched(t *testing.T) {
	src := writeSource(t, "vendas.csv", []byte(semicolonExport))

	_, out, _ := runTransform(t, src, nil, DateISO)

	if !strings.Contains(out, "\n05/03/2024,") {
		t.Errorf("dates should pass through with YYYY-MM-DD, got:\n%s", out)
	}
}

func TestTransform_BOMAndQuotedDelimiters(t *testing.T) {
	data := "\xEF\xBB\xBF" + strings.ReplaceAll(semicolonExport, "Loja X", "\"Loja; X\"")
	src := writeSource(t, "vendas.csv", []byte(data))

	plan, out, _ := runTransform(t, src, nil, DateBR)

	if plan.Header[0] != "Data" {
		t.Errorf("Header[0] = %q, BOM should be stripped", plan.Header[0])
	}
	if !strings.Contains(out, `,"Loja; X",`) && !strings.Contains(out, ",Loja; X,") {
		t.Errorf("quoted field lost:\n%s", out)
	}
}

func TestTransform_Overrides(t *testing.T) {
	data := strings.Replace(semicolonExport, "Documento Fiscal", "Pedido Interno", 1)
	src := writeSource(t, "vendas.csv", []byte(data))

	tr := NewTransformer(DefaultCatalog(), TransformOptions{})
	if _, err := tr.Prepare(src, nil); Kind(err) != KindFormat {
		t.Fatalf("expected format error without override, got %v", err)
	}

	plan, _, _ := runTransform(t, src, map[string]string{"documento_fiscal": "pedido interno"}, DateBR)
	if plan.Mapping["documento_fiscal"] != 15 {
		t.Errorf("documento_fiscal = %d, want 15", plan.Mapping["documento_fiscal"])
	}
}

func TestTransform_NoHeader(t *testing.T) {
	src := writeSource(t, "empty.csv", nil)

	_, err := NewTransformer(DefaultCatalog(), TransformOptions{}).Prepare(src, nil)
	if !errors.Is(err, ErrNoHeader) {
		t.Fatalf("expected ErrNoHeader, got %v", err)
	}
	if Kind(err) != KindFormat {
		t.Errorf("Kind() = %q, want %q", Kind(err), KindFormat)
	}
}

func TestTransform_Cancelled(t *testing.T) {
	src := writeSource(t, "vendas.csv", []byte(semicolonExport))
	tr := NewTransformer(DefaultCatalog(), TransformOptions{})
	plan, err := tr.Prepare(src, nil)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	if _, err := tr.Transform(ctx, src, plan, DateBR, &out); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestTransform_Compressed(t *testing.T) {
	var gz bytes.Buffer
	zw := kgzip.NewWriter(&gz)
	zw.Write([]byte(semicolonExport))
	zw.Close()

	var zs bytes.Buffer
	enc, err := zstd.NewWriter(&zs)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	enc.Write([]byte(semicolonExport))
	enc.Close()

	tests := []struct {
		name string
		data []byte
	}{
		{"vendas.csv.gz", gz.Bytes()},
		{"vendas.csv.zst", zs.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, out, rows := runTransform(t, writeSource(t, tt.name, tt.data), nil, DateBR)
			if rows != 2 {
				t.Errorf("rows = %d, want 2", rows)
			}
			if !strings.HasPrefix(out, stagedHeader) {
				t.Errorf("unexpected staged header:\n%s", out)
			}
		})
	}
}

func TestTransform_CorruptGzip(t *testing.T) {
	src := writeSource(t, "vendas.csv.gz", []byte("not gzip at all"))

	_, err := NewTransformer(DefaultCatalog(), TransformOptions{}).Prepare(src, nil)
	if Kind(err) != KindFormat {
		t.Errorf("Kind() = %q, want %q (err=%v)", Kind(err), KindFormat, err)
	}
}

func TestTransform_Workbook(t *testing.T) {
	wb := excelize.NewFile()
	sheet := wb.GetSheetName(0)
	lines := strings.Split(strings.TrimSpace(semicolonExport), "\n")
	r := 1
	for _, line := range lines {
		if line == "" {
			continue
		}
		cells := strings.Split(line, ";")
		values := make([]any, len(cells))
		for i, c := range cells {
			values[i] = c
		}
		cell, _ := excelize.CoordinatesToCellName(1, r)
		if err := wb.SetSheetRow(sheet, cell, &values); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
		r++
	}
	path := filepath.Join(t.TempDir(), "vendas.xlsx")
	if err := wb.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}

	src := NewSource(path, "", EncodingUTF8)
	if src.Kind != KindXLSX {
		t.Fatalf("Kind = %q, want %q", src.Kind, KindXLSX)
	}
	csvSrc, cleanup, err := src.Materialize(t.TempDir())
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	defer cleanup()

	plan, out, rows := runTransform(t, csvSrc, nil, DateBR)
	if plan.Dialect.Delimiter != ',' {
		t.Errorf("Delimiter = %q, want ','", plan.Dialect.Delimiter)
	}
	if rows != 2 {
		t.Errorf("rows = %d, want 2", rows)
	}
	if !strings.Contains(out, "2024-03-05,Camisa") {
		t.Errorf("unexpected staged output:\n%s", out)
	}
}
