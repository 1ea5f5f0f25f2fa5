package core

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDetectDialect(t *testing.T) {
	tests := []struct {
		name      string
		sample    string
		wantName  string
		wantDelim rune
	}{
		{
			name:      "semicolon with decimal commas",
			sample:    "data;produto;qtde\n01/02/2024;Camisa;1,5\n02/02/2024;Calça;2,0\n",
			wantName:  "sniffed",
			wantDelim: ';',
		},
		{
			name:      "comma",
			sample:    "data,produto,qtde\n2024-02-01,Camisa,1\n2024-02-02,Calça,2\n",
			wantName:  "sniffed",
			wantDelim: ',',
		},
		{
			name:      "tab",
			sample:    "data\tproduto\tqtde\n2024-02-01\tCamisa\t1\n",
			wantName:  "sniffed",
			wantDelim: '\t',
		},
		{
			name:      "pipe",
			sample:    "data|produto|qtde\n2024-02-01|Camisa|1\n",
			wantName:  "sniffed",
			wantDelim: '|',
		},
		{
			name:      "quoted fields containing the other delimiter",
			sample:    "data;produto;total\n2024-02-01;\"Camisa, azul\";\"1.234,50\"\n2024-02-02;\"Calça; preta\";10,00\n",
			wantName:  "sniffed",
			wantDelim: ';',
		},
		{
			name:      "trailing partial row is ignored",
			sample:    "a;b;c\n1;2;3\n4;5;6\n7;8",
			wantName:  "sniffed",
			wantDelim: ';',
		},
		{
			name:      "header only falls back on counts",
			sample:    "data;produto;qtde",
			wantName:  "semicolon",
			wantDelim: ';',
		},
		{
			name:      "ragged falls back to excel",
			sample:    "a,b\n1,2,3\n",
			wantName:  "excel",
			wantDelim: ',',
		},
		{
			name:      "empty sample",
			sample:    "",
			wantName:  "excel",
			wantDelim: ',',
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DetectDialect(tt.sample)
			if d.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", d.Name, tt.wantName)
			}
			if d.Delimiter != tt.wantDelim {
				t.Errorf("Delimiter = %q, want %q", d.Delimiter, tt.wantDelim)
			}
		})
	}
}

func TestDetectDialect_SkipInitialSpace(t *testing.T) {
	d := DetectDialect("a, b, c\n1, 2, 3\n")
	if !d.SkipInitialSpace {
		t.Error("expected SkipInitialSpace for ', ' separated sample")
	}

	rec, err := d.NewReader(strings.NewReader("1, 2, 3\n")).Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if rec[1] != "2" {
		t.Errorf("field = %q, want %q", rec[1], "2")
	}
}

func TestDetectDialect_Quoting(t *testing.T) {
	tests := []struct {
		name   string
		sample string
		want   QuotingPolicy
	}{
		{"every field quoted", "\"data\";\"produto\"\n\"01/02/2024\";\"Camisa; azul\"\n\"02/02/2024\";\"Calça\"\n", QuoteAll},
		{"quoted with spaces and crlf", "\"a\", \"b\"\r\n\"1\", \"2\"\r\n", QuoteAll},
		{"some fields quoted", "data;produto\n01/02/2024;\"Camisa\"\n02/02/2024;\"Calça\"\n", QuoteMinimal},
		{"no quotes", "a,b\n1,2\n3,4\n", QuoteMinimal},
		{"quoted field spans lines", "\"a\",\"b\"\n\"1\",\"x\ny\"\n", QuoteMinimal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectDialect(tt.sample).Quoting; got != tt.want {
				t.Errorf("Quoting = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDialect_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(SemicolonDialect)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"name":"semicolon","delimiter":";","quotechar":"\"","quoting":"minimal","skipinitialspace":true}`
	if string(b) != want {
		t.Errorf("Marshal() = %s, want %s", b, want)
	}
}
