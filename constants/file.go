package constants

import "strings"

// ExportFormats holds the output formats the export command understands.
var ExportFormats = []string{"xlsx", "csv", "json"}

// AllowedExtensions maps accepted file extensions to their export format.
var AllowedExtensions = map[string]string{
	"xlsx": "xlsx",
	"csv":  "csv",
	"json": "json",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
