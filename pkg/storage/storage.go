// Package storage keeps report files on disk: an inbox of files waiting for
// import, and the places they are moved to once an import has finished.
package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// FileInfo contains metadata about a stored report file
type FileInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Path    string    `json:"path"`
}

// Config holds the archive directories. Empty directories default to
// subdirectories of Root.
type Config struct {
	Root         string
	InboxDir     string
	ProcessedDir string
	ErrorsDir    string
	// ProvidersDir holds provider reports as <provider>/reports/<year>/<file>
	ProvidersDir string
}

func (c Config) withDefaults() Config {
	if c.Root == "" {
		c.Root = "./reports"
	}
	def := func(dir *string, name string) {
		if *dir == "" {
			*dir = filepath.Join(c.Root, name)
		}
	}
	def(&c.InboxDir, "inbox")
	def(&c.ProcessedDir, "processed")
	def(&c.ErrorsDir, "errors")
	def(&c.ProvidersDir, "providers")
	return c
}

// ErrFileNotFound is returned for a name that is not in the inbox
var ErrFileNotFound = errors.New("report file not found")

var reportExtensions = map[string]bool{
	".xlsx": true,
	".xlsm": true,
	".xls":  true,
	".csv":  true,
	".txt":  true,
}

// IsReportFile reports whether name looks like an importable report. Office
// lock files ("~$report.xlsx") and hidden files are not.
func IsReportFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, "~$") || strings.HasPrefix(base, ".") {
		return false
	}
	return reportExtensions[strings.ToLower(filepath.Ext(base))]
}

// sanitizeFilename removes unsafe characters from filenames
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		"..", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(name)
}
