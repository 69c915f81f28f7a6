package bundle

import (
	"bytes"
	"path/filepath"
	"strings"

	"peerdrop/blobs"
)

// SniffLength is how many leading payload bytes Sniff needs.
const SniffLength = 12

type signature struct {
	ext   string
	match func(header []byte) bool
}

func prefix(magic string) func([]byte) bool {
	return func(header []byte) bool {
		return bytes.HasPrefix(header, []byte(magic))
	}
}

// Checked in order; the first match wins.
var signatures = []signature{
	{ext: "jpg", match: prefix("\xff\xd8\xff")},
	{ext: "png", match: prefix("\x89PNG\r\n\x1a\n")},
	{ext: "gif", match: func(h []byte) bool { return prefix("GIF87a")(h) || prefix("GIF89a")(h) }},
	{ext: "webp", match: func(h []byte) bool {
		return len(h) >= 12 && string(h[0:4]) == "RIFF" && string(h[8:12]) == "WEBP"
	}},
	{ext: "pdf", match: prefix("%PDF")},
}

// Sniff guesses a file extension from leading magic bytes, defaulting to "bin".
func Sniff(header []byte) string {
	for _, sig := range signatures {
		if sig.match(header) {
			return sig.ext
		}
	}
	return "bin"
}

// FallbackName is the name used when a bundle carries no usable filename:
// "received_" + hex of the first four digest bytes + sniffed extension.
func FallbackName(h blobs.Hash, header []byte) string {
	return "received_" + h.Short() + "." + Sniff(header)
}

// SanitizeFilename reduces a peer-supplied name to a bare base name.
// It returns "" when nothing safe remains.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimRight(name, "/")
	if name == "" {
		return ""
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = filepath.Base(name)
	switch name {
	case "", ".", "..", "/":
		return ""
	}
	if strings.ContainsRune(name, 0) {
		return ""
	}
	return name
}
