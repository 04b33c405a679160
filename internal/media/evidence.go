package media

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
)

const (
	TypeJPEG = "image/jpeg"
	TypePNG  = "image/png"
	TypeWebP = "image/webp"
	TypePDF  = "application/pdf"
	TypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

const (
	MaxFiles    = 5
	MaxFileSize = 10 << 20
)

var (
	ErrUnsupportedType = errors.New("unsupported evidence type")
	ErrTooLarge        = errors.New("evidence file too large")
)

// DetectType sniffs the content and returns one of the accepted evidence
// types. DOCX files sniff as zip archives, so the extension decides.
func DetectType(filename string, data []byte) (string, error) {
	if len(data) > MaxFileSize {
		return "", ErrTooLarge
	}

	sniffed := http.DetectContentType(data)
	switch sniffed {
	case TypeJPEG, TypePNG, TypeWebP, TypePDF:
		return sniffed, nil
	case "application/zip":
		if strings.EqualFold(filepath.Ext(filename), ".docx") {
			return TypeDOCX, nil
		}
	}
	return "", ErrUnsupportedType
}

// SanitizeFilename removes path components and dangerous characters.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "\x00", "")
	if len(name) > 100 {
		name = name[:100]
	}
	if name == "" {
		name = "attachment"
	}
	return name
}
