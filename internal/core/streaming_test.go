package core

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestNewTextReader_UTF8(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("data;produto")...),
			expected: "data;produto",
		},
		{
			name:     "file without BOM",
			input:    []byte("data;produto"),
			expected: "data;produto",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "multibyte preserved",
			input:    []byte("preço;família"),
			expected: "preço;família",
		},
		{
			name:     "invalid byte replaced",
			input:    []byte{'h', 'e', 0x80, 'l', 'o'},
			expected: "he�lo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := io.ReadAll(NewTextReader(bytes.NewReader(tt.input), EncodingUTF8))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestNewTextReader_Windows1252(t *testing.T) {
	// "Preço Unit" and "Família" as exported by legacy Windows tools.
	input := []byte{'P', 'r', 'e', 0xE7, 'o', ';', 'F', 'a', 'm', 0xED, 'l', 'i', 'a'}

	result, err := io.ReadAll(NewTextReader(bytes.NewReader(input), EncodingWindows1252))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != "Preço;Família" {
		t.Errorf("got %q, want %q", string(result), "Preço;Família")
	}
}

func TestParseSourceEncoding(t *testing.T) {
	tests := []struct {
		in      string
		want    SourceEncoding
		wantErr bool
	}{
		{"", EncodingUTF8, false},
		{"UTF8", EncodingUTF8, false},
		{"cp1252", EncodingWindows1252, false},
		{"ISO-8859-1", EncodingLatin1, false},
		{"ebcdic", "", true},
	}

	for _, tt := range tests {
		got, err := ParseSourceEncoding(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSourceEncoding(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSourceEncoding(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCountingReader(t *testing.T) {
	input := "hello,world\n1,2\n"
	cr := NewCountingReader(strings.NewReader(input), 0)

	if _, err := io.ReadAll(cr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cr.BytesRead != int64(len(input)) {
		t.Errorf("BytesRead = %d, want %d", cr.BytesRead, len(input))
	}
}

func TestCountingReader_Limit(t *testing.T) {
	cr := NewCountingReader(strings.NewReader(strings.Repeat("x", 100)), 10)

	_, err := io.ReadAll(cr)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}
