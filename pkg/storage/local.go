package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/gosimple/slug"
)

// LocalArchive implements the report archive on the local filesystem
type LocalArchive struct {
	cfg Config
	now func() time.Time
}

// NewLocalArchive creates the archive directories when missing
func NewLocalArchive(cfg Config) (*LocalArchive, error) {
	cfg = cfg.withDefaults()
	for _, dir := range []string{cfg.InboxDir, cfg.ProcessedDir, cfg.ErrorsDir, cfg.ProvidersDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	return &LocalArchive{cfg: cfg, now: time.Now}, nil
}

// Save stores an uploaded report in the inbox
func (a *LocalArchive) Save(ctx context.Context, name string, r io.Reader) (*FileInfo, error) {
	safe := sanitizeFilename(filepath.Base(name))
	path := filepath.Join(a.cfg.InboxDir, safe)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	return &FileInfo{Name: safe, Size: size, ModTime: a.now(), Path: path}, nil
}

// List returns the report files waiting in the inbox, oldest name first
func (a *LocalArchive) List(ctx context.Context) ([]*FileInfo, error) {
	entries, err := os.ReadDir(a.cfg.InboxDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox: %w", err)
	}

	files := make([]*FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsReportFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, &FileInfo{
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Path:    filepath.Join(a.cfg.InboxDir, entry.Name()),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Read returns the content of an inbox file
func (a *LocalArchive) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(a.inboxPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// MoveToProcessed moves an imported file out of the inbox
func (a *LocalArchive) MoveToProcessed(ctx context.Context, name string) (string, error) {
	return a.move(name, a.cfg.ProcessedDir, sanitizeFilename(filepath.Base(name)))
}

// MoveToProviderArchive files an imported provider report under
// <providers>/<provider-slug>/reports/<year>
func (a *LocalArchive) MoveToProviderArchive(ctx context.Context, name, provider string, year int) (string, error) {
	dir := filepath.Join(a.cfg.ProvidersDir, ProviderSlug(provider), "reports", strconv.Itoa(year))
	return a.move(name, dir, sanitizeFilename(filepath.Base(name)))
}

// MoveToErrors moves a file that failed to import, prefixed with the time of failure
func (a *LocalArchive) MoveToErrors(ctx context.Context, name string) (string, error) {
	stamped := a.now().Format("20060102-150405") + "_" + sanitizeFilename(filepath.Base(name))
	return a.move(name, a.cfg.ErrorsDir, stamped)
}

// ProviderSlug is the archive directory name of a provider
func ProviderSlug(provider string) string {
	s := slug.Make(provider)
	if s == "" {
		return "unknown"
	}
	return s
}

func (a *LocalArchive) inboxPath(name string) string {
	return filepath.Join(a.cfg.InboxDir, sanitizeFilename(filepath.Base(name)))
}

func (a *LocalArchive) move(name, dir, target string) (string, error) {
	src := a.inboxPath(name)
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	dest := filepath.Join(dir, target)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(target)
		dest = filepath.Join(dir, fmt.Sprintf("%s_%d%s", target[:len(target)-len(ext)], a.now().Unix(), ext))
	}

	if err := os.Rename(src, dest); err != nil {
		if !errors.Is(err, syscall.EXDEV) {
			return "", fmt.Errorf("failed to move file: %w", err)
		}
		// Directories on different devices
		if err := copyFile(src, dest); err != nil {
			return "", err
		}
		if err := os.Remove(src); err != nil {
			return "", fmt.Errorf("failed to remove moved file: %w", err)
		}
	}
	return dest, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return out.Close()
}
