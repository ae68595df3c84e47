// Package source provisions the OpenSSL source release the benchmark builds:
// it downloads the archive once and extracts a fresh working tree per phase.
package source

import (
	"path/filepath"
)

const (
	// DefaultArchiveName is the OpenSSL 1.0.2 stable branch snapshot.
	DefaultArchiveName = "OpenSSL_1_0_2-stable.zip"

	// DefaultArchiveURL serves DefaultArchiveName.
	DefaultArchiveURL = "https://codeload.github.com/openssl/openssl/zip/OpenSSL_1_0_2-stable"

	partSuffix = ".part"
)

// Release identifies the source archive used for every phase of a run.
type Release struct {
	Version     string
	URL         string
	ArchiveName string
	SHA256      string // optional, hex encoded
}

// DefaultRelease returns the OpenSSL 1.0.2 stable branch snapshot.
func DefaultRelease() Release {
	return Release{
		Version:     "1.0.2-stable",
		URL:         DefaultArchiveURL,
		ArchiveName: DefaultArchiveName,
	}
}

// WorkingTree is the root of one extracted copy of the release.
type WorkingTree struct {
	Root string
}

// Path joins elements onto the tree root.
func (w WorkingTree) Path(elem ...string) string {
	return filepath.Join(append([]string{w.Root}, elem...)...)
}
