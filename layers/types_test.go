package layers

import (
	"errors"
	"testing"
)

func TestParseCompression(t *testing.T) {
	tests := []struct {
		input    string
		expected CompressionType
		wantErr  bool
	}{
		{"", CompressionGzip, false},
		{"none", CompressionNone, false},
		{"gzip", CompressionGzip, false},
		{"zstd", CompressionZstd, false},
		{"lz4", "", true},
		{"GZIP", "", true},
	}

	for _, tt := range tests {
		got, err := ParseCompression(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseCompression(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCompression(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseCompression(%q): expected %s, got %s", tt.input, tt.expected, got)
		}
	}
}

func TestGetMediaType(t *testing.T) {
	tests := []struct {
		compression CompressionType
		expected    string
	}{
		{CompressionNone, MediaTypeImageLayer},
		{CompressionGzip, MediaTypeImageLayerGzip},
		{CompressionZstd, MediaTypeImageLayerZstd},
	}

	for _, tt := range tests {
		if got := tt.compression.GetMediaType(); got != tt.expected {
			t.Errorf("GetMediaType(%s): expected %s, got %s", tt.compression, tt.expected, got)
		}
	}
}

func TestLayerErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewLayerError("materialize", "sha256:abc", cause)

	if !errors.Is(err, cause) {
		t.Error("Expected LayerError to unwrap to its cause")
	}
	if err.Error() == "" {
		t.Error("Expected non-empty error message")
	}
}
