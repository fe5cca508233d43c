// Package installer materializes wheels into a probed interpreter's
// site-packages: archive extraction with .data relocation, placeholder
// shebang rewriting, console-script generation, and RECORD/INSTALLER
// bookkeeping.
package installer

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pipg-project/pipg/internal/downloader"
	"github.com/pipg-project/pipg/internal/python"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service installs wheels into one target interpreter.
type Service struct {
	target *python.Interpreter
	logger *slog.Logger
}

// New creates an installer for target.
func New(target *python.Interpreter, opts ...Option) *Service {
	s := &Service{
		target: target,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Install extracts every downloaded wheel into the target environment.
func (s *Service) Install(ctx context.Context, downloads []downloader.Result) error {
	for _, dl := range downloads {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("installation canceled: %w", err)
		}

		if err := s.installWheel(dl); err != nil {
			return fmt.Errorf("installing %s: %w", dl.Name, err)
		}

		s.logger.Debug("installed", slog.String("package", dl.Name))
	}

	return nil
}

// placeKind says which part of the environment a wheel entry lands in.
type placeKind int

const (
	placeSite placeKind = iota
	placeScript
	placeData
	placeSkip
)

// placement is the extraction plan for one archive entry.
type placement struct {
	dest string
	kind placeKind
}

func (s *Service) installWheel(dl downloader.Result) error {
	archive, err := zip.OpenReader(dl.FilePath)
	if err != nil {
		return fmt.Errorf("opening wheel %s: %w", dl.FilePath, err)
	}
	defer func() { _ = archive.Close() }()

	if err := s.checkWheelFormat(&archive.Reader); err != nil {
		return err
	}

	var (
		records     []RecordEntry
		distInfoDir string
	)

	for _, entry := range archive.File {
		if entry.FileInfo().IsDir() {
			continue
		}

		// Reject entries that would escape the environment before any
		// path math happens.
		if !filepath.IsLocal(entry.Name) {
			return fmt.Errorf("wheel entry %q escapes the install root", entry.Name)
		}

		place := s.place(entry.Name)
		if place.kind == placeSkip {
			continue
		}

		if err := extractTo(entry, place.dest); err != nil {
			return fmt.Errorf("extracting %s: %w", entry.Name, err)
		}

		if place.kind == placeScript {
			if err := s.finishScript(place.dest); err != nil {
				return fmt.Errorf("finishing script %s: %w", place.dest, err)
			}
		}

		if dir, name, ok := strings.Cut(entry.Name, "/"); ok && strings.HasSuffix(dir, ".dist-info") && name != "" {
			distInfoDir = filepath.Join(s.target.SitePackages, dir)
		}

		rec, err := DigestFile(place.dest)
		if err != nil {
			return err
		}

		if rel, err := filepath.Rel(s.target.SitePackages, place.dest); err == nil {
			rec.Path = rel
		} else {
			rec.Path = entry.Name
		}

		records = append(records, rec)
	}

	if distInfoDir == "" {
		return fmt.Errorf("no .dist-info directory in %s", dl.FilePath)
	}

	return s.finishDistInfo(distInfoDir, records)
}

// finishDistInfo writes the INSTALLER marker, generates console scripts,
// and lands the final RECORD.
func (s *Service) finishDistInfo(distInfoDir string, records []RecordEntry) error {
	if err := WriteInstaller(distInfoDir); err != nil {
		return fmt.Errorf("writing INSTALLER: %w", err)
	}

	installerEntry, err := DigestFile(filepath.Join(distInfoDir, "INSTALLER"))
	if err != nil {
		return err
	}

	if rel, err := filepath.Rel(s.target.SitePackages, installerEntry.Path); err == nil {
		installerEntry.Path = rel
	}

	records = append(records, installerEntry)

	scriptRecords, err := installConsoleScripts(distInfoDir, filepath.Join(s.target.Prefix, "bin"), s.target.Executable)
	if err != nil {
		return fmt.Errorf("installing console scripts: %w", err)
	}

	records = append(records, scriptRecords...)

	if err := WriteRecord(distInfoDir, records); err != nil {
		return fmt.Errorf("writing RECORD: %w", err)
	}

	return nil
}

// place maps a wheel entry name to its destination. Plain entries go to
// site-packages; {name}.data subtrees relocate per their second path
// component: purelib/platlib back into site-packages, scripts into the
// environment's bin, data under the prefix, headers under include.
func (s *Service) place(name string) placement {
	dataIdx := strings.Index(name, ".data/")
	if dataIdx < 0 {
		return placement{dest: filepath.Join(s.target.SitePackages, name), kind: placeSite}
	}

	subdir, rest, ok := strings.Cut(name[dataIdx+len(".data/"):], "/")
	if !ok || rest == "" {
		return placement{kind: placeSkip}
	}

	switch subdir {
	case "purelib", "platlib":
		return placement{dest: filepath.Join(s.target.SitePackages, rest), kind: placeSite}
	case "scripts":
		return placement{dest: filepath.Join(s.target.Prefix, "bin", rest), kind: placeScript}
	case "data":
		return placement{dest: filepath.Join(s.target.Prefix, rest), kind: placeData}
	case "headers":
		return placement{dest: filepath.Join(s.target.Prefix, "include", rest), kind: placeData}
	default:
		return placement{kind: placeSkip}
	}
}

// finishScript rewrites a placeholder shebang to the target interpreter
// and marks the script executable.
func (s *Service) finishScript(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if rewritten := RewriteShebang(content, s.target.Executable, false); !bytes.Equal(rewritten, content) {
		if err := os.WriteFile(path, rewritten, 0o755); err != nil {
			return err
		}
	}

	return os.Chmod(path, 0o755)
}

// checkWheelFormat validates the archive's dist-info WHEEL file before
// extracting anything, rejecting format major versions this installer
// does not understand.
func (s *Service) checkWheelFormat(r *zip.Reader) error {
	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, ".dist-info/WHEEL") {
			continue
		}

		src, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening WHEEL metadata: %w", err)
		}

		content, err := io.ReadAll(src)
		_ = src.Close()

		if err != nil {
			return fmt.Errorf("reading WHEEL metadata: %w", err)
		}

		meta, err := ParseWheelMeta(content)
		if err != nil {
			return err
		}

		return CheckWheelVersion(meta)
	}

	return nil
}

// extractTo copies one archive entry to dest, creating parent
// directories as needed.
func extractTo(entry *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()

		return err
	}

	return out.Close()
}
