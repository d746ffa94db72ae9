package utils

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const octetStream = "application/octet-stream"

// DetectMediaType prefers the declared part header and falls back to content sniffing
// when the client sent nothing useful.
func DetectMediaType(data []byte, declared, filename string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != octetStream {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
			return mediaType
		}
	}

	if len(data) > 0 {
		detected := mimetype.Detect(data)
		if detected.String() != octetStream {
			mediaType, _, _ := mime.ParseMediaType(detected.String())
			return mediaType
		}
	}

	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			mediaType, _, _ := mime.ParseMediaType(byExt)
			return mediaType
		}
	}

	return octetStream
}

// IsImage reports whether mediaType is an image/* type.
func IsImage(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/")
}
