package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"emojimk/internal/core"
)

// ErrNoFailure is returned by LoadFailure when no failure is recorded.
var ErrNoFailure = errors.New("no failure recorded")

// Store persists the failure journal under <baseDir>/.emojimk/.
//
// Writes are atomic and durable (file sync, rename, directory sync).
type Store struct {
	baseDir string
}

func NewStore(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("baseDir is required")
	}
	return &Store{baseDir: baseDir}, nil
}

// Dir returns the journal directory.
func (s *Store) Dir() string {
	return filepath.Join(s.baseDir, ".emojimk")
}

func (s *Store) failurePath() string {
	return filepath.Join(s.Dir(), "last-failure.json")
}

func (s *Store) SaveFailure(failure Failure) error {
	if s == nil {
		return errors.New("nil Store")
	}
	if failure.Goals == nil {
		failure.Goals = []string{}
	}
	if err := failure.Validate(); err != nil {
		return fmt.Errorf("invalid failure: %w", err)
	}
	data, err := jsonMarshalStable(failure)
	if err != nil {
		return fmt.Errorf("marshal failure: %w", err)
	}
	if err := core.WriteFileAtomic(s.failurePath(), data, 0o644); err != nil {
		return fmt.Errorf("write failure: %w", err)
	}
	return nil
}

func (s *Store) LoadFailure() (Failure, error) {
	if s == nil {
		return Failure{}, errors.New("nil Store")
	}
	var failure Failure
	if err := readJSONStrict(s.failurePath(), &failure); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Failure{}, ErrNoFailure
		}
		return Failure{}, fmt.Errorf("read failure: %w", err)
	}
	if err := failure.Validate(); err != nil {
		return Failure{}, fmt.Errorf("invalid failure on disk: %w", err)
	}
	return failure, nil
}

// ClearFailure removes the recorded failure, if any.
func (s *Store) ClearFailure() error {
	if s == nil {
		return errors.New("nil Store")
	}
	if err := os.Remove(s.failurePath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear failure: %w", err)
	}
	return nil
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}
