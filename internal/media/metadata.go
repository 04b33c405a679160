// Package media vets evidence uploads and strips identifying metadata from
// images before they are stored or forwarded.
package media

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"golang.org/x/image/webp"
)

// Evidence is a vetted upload ready to be attached to a complaint.
type Evidence struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Clean sanitizes the name, checks the type and strips metadata. WebP images
// are stored as PNG.
func Clean(filename string, data []byte) (Evidence, error) {
	name := SanitizeFilename(filename)

	contentType, err := DetectType(name, data)
	if err != nil {
		return Evidence{}, err
	}

	if contentType == TypeWebP {
		out, err := webpToPNG(data)
		if err != nil {
			return Evidence{}, err
		}
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
		return Evidence{Filename: name, ContentType: TypePNG, Data: out}, nil
	}

	out, err := StripMetadata(data, contentType)
	if err != nil {
		return Evidence{}, err
	}
	return Evidence{Filename: name, ContentType: contentType, Data: out}, nil
}

// StripMetadata re-encodes images to remove EXIF, GPS, and other metadata.
// Documents are returned unchanged.
func StripMetadata(data []byte, contentType string) ([]byte, error) {
	switch contentType {
	case TypeJPEG:
		return stripJPEG(data)
	case TypePNG:
		return stripPNG(data)
	default:
		return data, nil
	}
}

func stripJPEG(data []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding jpeg: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func stripPNG(data []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding png: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

func webpToPNG(data []byte) ([]byte, error) {
	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding webp: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}
