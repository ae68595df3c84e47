package source

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cclash/oslbench/pkg/harness"
	"github.com/rs/zerolog"
)

// TreeOps is the subset of retrying filesystem operations used to clear a
// previous extraction.
type TreeOps interface {
	DeleteTree(ctx context.Context, path string) error
	MoveAside(ctx context.Context, path string) (string, error)
}

// Config configures a Provisioner.
type Config struct {
	Release Release

	// WorkDir holds the archive and the extracted tree.
	WorkDir string

	// KeepPrevious moves an old tree aside instead of deleting it.
	KeepPrevious bool

	// HTTPClient is used for downloads; nil selects a client with a 10 minute timeout.
	HTTPClient *http.Client
}

// Provisioner downloads and extracts the source release.
type Provisioner struct {
	config Config
	ops    TreeOps
	client *http.Client
	logger zerolog.Logger

	mu     sync.Mutex
	topDir string
}

// NewProvisioner creates a Provisioner clearing old trees through ops.
func NewProvisioner(cfg Config, ops TreeOps, logger zerolog.Logger) *Provisioner {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Provisioner{
		config: cfg,
		ops:    ops,
		client: client,
		logger: logger.With().Str("component", "source").Logger(),
	}
}

// ArchivePath returns where the archive lives once fetched.
func (p *Provisioner) ArchivePath() string {
	return filepath.Join(p.config.WorkDir, p.config.Release.ArchiveName)
}

// EnsureArchive downloads the archive unless it is already present. The
// download goes to a ".part" file that is renamed into place only after it is
// complete, so the archive name never refers to a partial file.
func (p *Provisioner) EnsureArchive(ctx context.Context) error {
	archive := p.ArchivePath()
	if info, err := os.Stat(archive); err == nil && !info.IsDir() {
		p.logger.Debug().Str("archive", archive).Msg("Archive already present")
		return nil
	}

	if err := os.MkdirAll(p.config.WorkDir, 0755); err != nil {
		return harness.NewDownloadFailed(p.config.Release.URL, err)
	}

	url := p.config.Release.URL
	part := archive + partSuffix
	p.logger.Info().Str("url", url).Str("archive", archive).Msg("Downloading source archive")

	start := time.Now()
	size, err := p.download(ctx, url, part)
	if err != nil {
		_ = os.Remove(part)
		return harness.NewDownloadFailed(url, err)
	}
	if err := os.Rename(part, archive); err != nil {
		_ = os.Remove(part)
		return harness.NewDownloadFailed(url, fmt.Errorf("failed to move archive into place: %w", err))
	}

	p.logger.Info().
		Str("archive", archive).
		Int64("bytes", size).
		Dur("duration", time.Since(start)).
		Msg("Source archive downloaded")
	return nil
}

func (p *Provisioner) download(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dest, err)
	}

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, hash), resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to write archive: %w", err)
	}

	if want := p.config.Release.SHA256; want != "" {
		got := hex.EncodeToString(hash.Sum(nil))
		if !strings.EqualFold(got, want) {
			return n, fmt.Errorf("checksum mismatch: expected %s, got %s", want, got)
		}
	}
	return n, nil
}

// TopDir returns the archive's top-level directory name, reading it from the
// first zip entry on first use.
func (p *Provisioner) TopDir() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.topDir != "" {
		return p.topDir, nil
	}

	r, err := zip.OpenReader(p.ArchivePath())
	if err != nil {
		return "", harness.NewExtractFailed(p.ArchivePath(), err)
	}
	defer r.Close()

	if len(r.File) == 0 {
		return "", harness.NewExtractFailed(p.ArchivePath(), errors.New("archive is empty"))
	}

	first := strings.TrimLeft(filepath.ToSlash(r.File[0].Name), "/")
	top, _, _ := strings.Cut(first, "/")
	if top == "" || top == "." || top == ".." {
		return "", harness.NewExtractFailed(p.ArchivePath(), fmt.Errorf("invalid first entry %q", r.File[0].Name))
	}

	p.topDir = top
	return top, nil
}

// FreshExtract clears any previous extraction and unpacks the archive again.
func (p *Provisioner) FreshExtract(ctx context.Context) (WorkingTree, error) {
	top, err := p.TopDir()
	if err != nil {
		return WorkingTree{}, err
	}
	tree := WorkingTree{Root: filepath.Join(p.config.WorkDir, top)}

	if p.config.KeepPrevious {
		moved, err := p.ops.MoveAside(ctx, tree.Root)
		if err != nil {
			return WorkingTree{}, err
		}
		if moved != "" {
			p.logger.Info().Str("previous", moved).Msg("Moved previous working tree aside")
		}
	} else if err := p.ops.DeleteTree(ctx, tree.Root); err != nil {
		return WorkingTree{}, err
	}

	start := time.Now()
	files, err := p.extract(ctx)
	if err != nil {
		return WorkingTree{}, harness.NewExtractFailed(p.ArchivePath(), err)
	}

	p.logger.Info().
		Str("tree", tree.Root).
		Int("files", files).
		Dur("duration", time.Since(start)).
		Msg("Working tree extracted")
	return tree, nil
}

func (p *Provisioner) extract(ctx context.Context) (int, error) {
	r, err := zip.OpenReader(p.ArchivePath())
	if err != nil {
		return 0, err
	}
	defer r.Close()

	dest, err := filepath.Abs(p.config.WorkDir)
	if err != nil {
		return 0, err
	}

	files := 0
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return files, err
		}

		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return files, err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return files, err
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return files, err
		}
		files++
	}
	return files, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	_, err = io.Copy(out, rc)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return nil
}

// safeJoin rejects entries that would land outside dest.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal path in archive: %s", name)
	}
	return target, nil
}
