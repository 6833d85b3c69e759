package provider

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// ParseDataURL splits an image data URL ("data:image/png;base64,...") into
// its MIME type and decoded bytes. ok is false for any other URL form.
func ParseDataURL(url string) (mimeType string, data []byte, ok bool) {
	if !strings.HasPrefix(url, "data:image/") {
		return "", nil, false
	}
	rest := strings.TrimPrefix(url, "data:")
	sep := strings.Index(rest, ";base64,")
	if sep < 0 {
		return "", nil, false
	}
	decoded, err := base64.StdEncoding.DecodeString(rest[sep+len(";base64,"):])
	if err != nil {
		return "", nil, false
	}
	return rest[:sep], decoded, true
}

// Base64FromDataURL returns the raw base64 payload of an image data URL,
// or "" when the URL is not a data URL.
func Base64FromDataURL(url string) string {
	if !strings.HasPrefix(url, "data:image/") {
		return ""
	}
	sep := strings.Index(url, ";base64,")
	if sep < 0 {
		return ""
	}
	return url[sep+len(";base64,"):]
}

// FormatDataURL assembles an image data URL from a MIME type and raw bytes.
func FormatDataURL(mimeType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}
