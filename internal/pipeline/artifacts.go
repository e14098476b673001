package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"soundbite/internal/config"
	"soundbite/internal/store"
)

// ArtifactDir returns the directory holding an episode's artifact files.
func ArtifactDir(cfg *config.Config, episodeID int64) string {
	return filepath.Join(cfg.Paths.DataDir, "episodes", strconv.FormatInt(episodeID, 10))
}

// ArtifactPath returns the on-disk location of one artifact.
func ArtifactPath(cfg *config.Config, episodeID int64, artifact string) string {
	return filepath.Join(ArtifactDir(cfg, episodeID), artifact+".json")
}

// WriteArtifact persists an artifact payload atomically and returns its
// fingerprint. The fingerprint is not yet stored; callers upsert it once the
// producing stage is known to have succeeded.
func WriteArtifact(cfg *config.Config, episodeID int64, artifact string, payload []byte) (store.Fingerprint, error) {
	dir := ArtifactDir(cfg, episodeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return store.Fingerprint{}, fmt.Errorf("create artifact dir: %w", err)
	}
	target := ArtifactPath(cfg, episodeID, artifact)
	tmp, err := os.CreateTemp(dir, "."+artifact+"-*")
	if err != nil {
		return store.Fingerprint{}, fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return store.Fingerprint{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return store.Fingerprint{}, fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return store.Fingerprint{}, fmt.Errorf("rename artifact: %w", err)
	}
	return FingerprintFile(episodeID, artifact, target)
}

// ReadArtifact loads an artifact payload from disk.
func ReadArtifact(cfg *config.Config, episodeID int64, artifact string) ([]byte, error) {
	data, err := os.ReadFile(ArtifactPath(cfg, episodeID, artifact))
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", artifact, err)
	}
	return data, nil
}

// FingerprintFile hashes an artifact file and captures its size and mtime.
func FingerprintFile(episodeID int64, artifact, path string) (store.Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return store.Fingerprint{}, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return store.Fingerprint{}, fmt.Errorf("hash artifact: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return store.Fingerprint{}, fmt.Errorf("stat artifact: %w", err)
	}
	return store.Fingerprint{
		EpisodeID:  episodeID,
		Artifact:   artifact,
		Hash:       hex.EncodeToString(hasher.Sum(nil)),
		Size:       info.Size(),
		ModifiedAt: info.ModTime().UTC().Truncate(time.Second),
	}, nil
}

// HashPayload returns the content hash an artifact payload would carry,
// without touching disk. Discovery estimates use it for preview output.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
