package audio

import (
	"fmt"
	"os"
	"path/filepath"
)

// ChunkStore accumulates uploaded audio on local disk. Recording sessions
// append chunks to a raw file; the encoder later normalizes it into the
// canonical serving format.
type ChunkStore struct {
	dir string
}

// NewChunkStore creates a chunk store rooted at dir
func NewChunkStore(dir string) (*ChunkStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio dir: %w", err)
	}
	return &ChunkStore{dir: dir}, nil
}

// RawRef returns the raw (pre-encoding) file reference for a job.
func (s *ChunkStore) RawRef(jobID string) string {
	return filepath.Join(s.dir, jobID+".raw")
}

// Append writes one chunk to the end of the job's raw file, creating it on
// the first chunk.
func (s *ChunkStore) Append(jobID string, data []byte) error {
	f, err := os.OpenFile(s.RawRef(jobID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open raw audio for job %s: %w", jobID, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to append chunk for job %s: %w", jobID, err)
	}
	return nil
}

// WriteAll stores a complete uploaded file in one shot (upload path).
func (s *ChunkStore) WriteAll(jobID string, data []byte) error {
	if err := os.WriteFile(s.RawRef(jobID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write uploaded audio for job %s: %w", jobID, err)
	}
	return nil
}

// Remove deletes all audio files belonging to the job, best effort.
func (s *ChunkStore) Remove(jobID string) {
	matches, err := filepath.Glob(filepath.Join(s.dir, jobID+".*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
}
