package archive

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Archive container types
const (
	TypeZip = "zip"
	TypeTar = "tar"
)

// Tar stream compressions
const (
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
	CompressionNone = "none"
)

// Format selects the container and, for tar, the stream compression.
// Level follows gzip semantics (1-9); zstd maps it onto its own presets.
type Format struct {
	Type        string `json:"type"`
	Compression string `json:"compression,omitempty"`
	Level       int    `json:"level,omitempty"`
}

func normalizeFormat(format Format) Format {
	formatType := strings.ToLower(strings.TrimSpace(format.Type))
	if formatType != TypeTar {
		formatType = TypeZip
	}

	compression := strings.ToLower(strings.TrimSpace(format.Compression))
	switch compression {
	case CompressionGzip, CompressionZstd, CompressionNone:
	default:
		compression = CompressionGzip
	}
	if formatType == TypeZip {
		compression = ""
	}

	level := format.Level
	if level == 0 {
		level = 6
	}
	if level < 1 {
		level = 1
	}
	if level > 9 {
		level = 9
	}

	return Format{Type: formatType, Compression: compression, Level: level}
}

// Extension returns the file extension for archives written in this format
func (f Format) Extension() string {
	normalized := normalizeFormat(f)
	if normalized.Type == TypeZip {
		return "zip"
	}

	switch normalized.Compression {
	case CompressionNone:
		return "tar"
	case CompressionZstd:
		return "tar.zst"
	default:
		return "tar.gz"
	}
}

func (f Format) String() string {
	return f.Extension()
}

// DetectFormat infers the format of an existing archive from its file name
func DetectFormat(filename string) (Format, error) {
	base := strings.ToLower(filepath.Base(filename))
	switch {
	case strings.HasSuffix(base, ".zip"):
		return Format{Type: TypeZip}, nil
	case strings.HasSuffix(base, ".tar.gz") || strings.HasSuffix(base, ".tgz"):
		return Format{Type: TypeTar, Compression: CompressionGzip, Level: 6}, nil
	case strings.HasSuffix(base, ".tar.zst") || strings.HasSuffix(base, ".tzst"):
		return Format{Type: TypeTar, Compression: CompressionZstd, Level: 6}, nil
	case strings.HasSuffix(base, ".tar"):
		return Format{Type: TypeTar, Compression: CompressionNone}, nil
	default:
		return Format{}, fmt.Errorf("unrecognized archive extension: %s", base)
	}
}
