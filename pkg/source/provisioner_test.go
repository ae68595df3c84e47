package source

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cclash/oslbench/pkg/fsops"
	"github.com/cclash/oslbench/pkg/harness"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, entries map[string]string, order []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range order {
		f, err := w.Create(name)
		require.NoError(t, err)
		if content, ok := entries[name]; ok {
			_, err = f.Write([]byte(content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func opensslZip(t *testing.T) []byte {
	return buildZip(t, map[string]string{
		"openssl-OpenSSL_1_0_2-stable/Configure":       "#!/usr/bin/perl\n",
		"openssl-OpenSSL_1_0_2-stable/crypto/aes/aes.c": "int aes;\n",
	}, []string{
		"openssl-OpenSSL_1_0_2-stable/",
		"openssl-OpenSSL_1_0_2-stable/Configure",
		"openssl-OpenSSL_1_0_2-stable/crypto/aes/aes.c",
	})
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestProvisioner(t *testing.T, workDir, url string, ops TreeOps) *Provisioner {
	t.Helper()
	if ops == nil {
		ops = fsops.New(fsops.RetryPolicy{MaxAttempts: 3}, zerolog.Nop(), fsops.WithSleepFunc(noSleep))
	}
	release := DefaultRelease()
	release.URL = url
	return NewProvisioner(Config{Release: release, WorkDir: workDir}, ops, zerolog.Nop())
}

func TestEnsureArchivePresentSkipsNetwork(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, DefaultArchiveName), opensslZip(t), 0644))

	p := newTestProvisioner(t, workDir, srv.URL, nil)
	require.NoError(t, p.EnsureArchive(context.Background()))
	require.NoError(t, p.EnsureArchive(context.Background()))

	assert.Equal(t, int32(0), requests.Load())
}

func TestEnsureArchiveDownloadsAtomically(t *testing.T) {
	payload := opensslZip(t)
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	workDir := t.TempDir()
	p := newTestProvisioner(t, workDir, srv.URL, nil)

	require.NoError(t, p.EnsureArchive(context.Background()))
	require.NoError(t, p.EnsureArchive(context.Background()))

	assert.Equal(t, int32(1), requests.Load(), "second call must not download again")
	assert.FileExists(t, p.ArchivePath())
	assert.NoFileExists(t, p.ArchivePath()+".part")

	got, err := os.ReadFile(p.ArchivePath())
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestEnsureArchiveFailureLeavesNoArchive(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		sha     string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "checksum mismatch",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not the archive"))
			},
			sha: "deadbeef",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			p := newTestProvisioner(t, t.TempDir(), srv.URL, nil)
			p.config.Release.SHA256 = tt.sha

			err := p.EnsureArchive(context.Background())
			require.Error(t, err)
			assert.True(t, harness.HasCode(err, harness.CodeDownloadFailed))
			assert.NoFileExists(t, p.ArchivePath())
			assert.NoFileExists(t, p.ArchivePath()+".part")
		})
	}
}

func TestEnsureArchiveVerifiesChecksum(t *testing.T) {
	payload := opensslZip(t)
	sum := sha256.Sum256(payload)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	p := newTestProvisioner(t, t.TempDir(), srv.URL, nil)
	p.config.Release.SHA256 = hex.EncodeToString(sum[:])

	require.NoError(t, p.EnsureArchive(context.Background()))
	assert.FileExists(t, p.ArchivePath())
}

func TestFreshExtractReplacesStaleTree(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, DefaultArchiveName), opensslZip(t), 0644))

	root := filepath.Join(workDir, "openssl-OpenSSL_1_0_2-stable")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "nt.obj"), []byte("stale"), 0644))

	// The tree only becomes deletable on the sixth attempt.
	attempts := 0
	ops := fsops.New(fsops.RetryPolicy{MaxAttempts: 30, Delay: 2 * time.Second}, zerolog.Nop(),
		fsops.WithSleepFunc(noSleep),
		fsops.WithRemoveFunc(func(path string) error {
			attempts++
			if attempts < 6 {
				return errors.New("access denied")
			}
			return os.RemoveAll(path)
		}))

	p := newTestProvisioner(t, workDir, "http://unused.invalid", ops)
	tree, err := p.FreshExtract(context.Background())
	require.NoError(t, err)

	assert.Equal(t, root, tree.Root)
	assert.Equal(t, 6, attempts)
	assert.NoFileExists(t, tree.Path("nt.obj"))
	assert.FileExists(t, tree.Path("Configure"))
	assert.FileExists(t, tree.Path("crypto", "aes", "aes.c"))
}

func TestFreshExtractDeleteFailure(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, DefaultArchiveName), opensslZip(t), 0644))
	root := filepath.Join(workDir, "openssl-OpenSSL_1_0_2-stable")
	require.NoError(t, os.MkdirAll(root, 0755))

	attempts := 0
	ops := fsops.New(fsops.RetryPolicy{MaxAttempts: 3}, zerolog.Nop(),
		fsops.WithSleepFunc(noSleep),
		fsops.WithRemoveFunc(func(string) error {
			attempts++
			return errors.New("access denied")
		}))

	p := newTestProvisioner(t, workDir, "http://unused.invalid", ops)
	_, err := p.FreshExtract(context.Background())
	require.Error(t, err)

	herr, ok := harness.AsError(err)
	require.True(t, ok)
	assert.Equal(t, harness.CodeDeleteFailed, herr.Code)
	assert.Equal(t, root, herr.Path)
	assert.Equal(t, 3, attempts)
}

func TestFreshExtractKeepPrevious(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, DefaultArchiveName), opensslZip(t), 0644))
	root := filepath.Join(workDir, "openssl-OpenSSL_1_0_2-stable")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "build.log"), []byte("old"), 0644))

	p := newTestProvisioner(t, workDir, "http://unused.invalid", nil)
	p.config.KeepPrevious = true

	tree, err := p.FreshExtract(context.Background())
	require.NoError(t, err)
	assert.NoFileExists(t, tree.Path("build.log"))

	matches, err := filepath.Glob(root + ".*")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.FileExists(t, filepath.Join(matches[0], "build.log"))
}

func TestFreshExtractRejectsZipSlip(t *testing.T) {
	workDir := t.TempDir()
	payload := buildZip(t, map[string]string{
		"top/ok.txt":      "ok",
		"top/../../evil": "evil",
	}, []string{"top/ok.txt", "top/../../evil"})
	require.NoError(t, os.WriteFile(filepath.Join(workDir, DefaultArchiveName), payload, 0644))

	p := newTestProvisioner(t, workDir, "http://unused.invalid", nil)
	_, err := p.FreshExtract(context.Background())
	require.Error(t, err)
	assert.True(t, harness.HasCode(err, harness.CodeExtractFailed))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(workDir), "evil"))
}

func TestTopDirIsCached(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, DefaultArchiveName), opensslZip(t), 0644))

	p := newTestProvisioner(t, workDir, "http://unused.invalid", nil)
	top, err := p.TopDir()
	require.NoError(t, err)
	assert.Equal(t, "openssl-OpenSSL_1_0_2-stable", top)

	require.NoError(t, os.Remove(p.ArchivePath()))
	top, err = p.TopDir()
	require.NoError(t, err, "cached value must not re-read the archive")
	assert.Equal(t, "openssl-OpenSSL_1_0_2-stable", top)
}
