// Package publish owns the output tree layout and the staging-then-rename
// protocol that keeps partially encoded jobs invisible to consumers.
package publish

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gwlsn/streampack/internal/logger"
)

const stagingDirName = ".staging"

// Layout constants relied on by players and by the manifest generator. The
// MPD lives beside the HLS tree and references the same TS segments, so the
// dash directory holds only the manifest.
const (
	HLSDir         = "hls"
	DASHDir        = "dash"
	MasterPlaylist = "master.m3u8"
	MPDManifest    = "manifest.mpd"
)

// Publisher manages the output root: staged trees under
// <root>/.staging/<name>/ and published trees at <root>/<name>/.
type Publisher struct {
	outputRoot string
}

func New(outputRoot string) *Publisher {
	return &Publisher{outputRoot: outputRoot}
}

// NameFor derives the output directory name from a source path: the file
// name with its extension stripped.
func NameFor(sourcePath string) string {
	base := filepath.Base(sourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// StagingDir returns the staging tree path for a name.
func (p *Publisher) StagingDir(name string) string {
	return filepath.Join(p.outputRoot, stagingDirName, name)
}

// FinalDir returns the published tree path for a name.
func (p *Publisher) FinalDir(name string) string {
	return filepath.Join(p.outputRoot, name)
}

// Stage creates a fresh staging tree for a name and returns its path. Any
// leftover staging tree from an earlier attempt is removed first.
func (p *Publisher) Stage(name string) (string, error) {
	dir := p.StagingDir(name)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to clear staging dir: %w", err)
	}
	for _, sub := range []string{HLSDir, DASHDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return "", fmt.Errorf("failed to create staging dir: %w", err)
		}
	}
	return dir, nil
}

// Publish atomically moves a staged tree into place, replacing any previous
// publication of the same name. A reader never sees a partial tree: the
// final directory either has the old content or the complete new one.
func (p *Publisher) Publish(name string) error {
	staging := p.StagingDir(name)
	final := p.FinalDir(name)

	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("failed to remove previous output: %w", err)
	}
	if err := os.Rename(staging, final); err != nil {
		return fmt.Errorf("failed to publish output: %w", err)
	}

	logger.Info("Output published", "name", name, "path", final)
	return nil
}

// Discard removes a staged tree after a failed or interrupted job.
func (p *Publisher) Discard(name string) error {
	return os.RemoveAll(p.StagingDir(name))
}

// IsPublished reports whether a complete output tree exists for a name.
// The master playlist is written last before the rename, so its presence in
// the final dir means the whole tree was published.
func (p *Publisher) IsPublished(name string) bool {
	_, err := os.Stat(filepath.Join(p.FinalDir(name), HLSDir, MasterPlaylist))
	return err == nil
}
