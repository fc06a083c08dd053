// Package history persists finished builds in a local badger store,
// so `gantry history` can list what ran and how it went.
package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

// Build is one recorded build.
type Build struct {
	// ID is the build's UUID.
	ID string

	// Number counts builds per slug, starting at 1.
	Number int `badgerhold:"index"`

	// Slug identifies the pipeline, usually the repository directory
	// name.
	Slug string `badgerhold:"index"`

	// Branch the build ran for.
	Branch string `badgerhold:"index"`

	// State is the final build state: "passed", "failed", "errored"
	// or "skipped".
	State string `badgerhold:"index"`

	Jobs []Job

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is how long the build took end to end.
func (b Build) Duration() time.Duration {
	return b.FinishedAt.Sub(b.StartedAt)
}

// Job is one job within a recorded build.
type Job struct {
	// ID is the job's UUID.
	ID string

	// Name is the matrix entry the job ran for.
	Name string

	// State is the final job state: "passed", "failed" or "errored".
	State string

	// AllowFailure marks jobs whose failure didn't fail the build.
	AllowFailure bool

	// ExitStatus is the script's exit code.
	ExitStatus int

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is how long the job took.
func (j Job) Duration() time.Duration {
	return j.FinishedAt.Sub(j.StartedAt)
}

// Store persists builds under a directory, typically ~/.gantry/history.
type Store struct {
	bh *badgerhold.Store
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(path, 0o777); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // badger's default logger spams stderr

	bh, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}
	return &Store{bh: bh}, nil
}

// Close releases the store. Further calls on the Store will fail.
func (s *Store) Close() error {
	return s.bh.Close()
}

// Record stores a finished build, assigning it the next build number
// for its slug. The number is claimed and the build written in one
// transaction, so concurrent Records for the same slug never share a
// number. The passed-in build's Number is updated in place.
func (s *Store) Record(ctx context.Context, b *Build) error {
	for {
		err := s.bh.Badger().Update(func(tx *badger.Txn) error {
			number, err := s.nextNumber(tx, b.Slug)
			if err != nil {
				return err
			}
			b.Number = number
			return s.bh.TxUpsert(tx, b.ID, b)
		})
		if errors.Is(err, badger.ErrConflict) {
			// Another build claimed the number first. Take the next one.
			continue
		}
		if err != nil {
			return fmt.Errorf("recording build: %w", err)
		}
		return nil
	}
}

func (s *Store) nextNumber(tx *badger.Txn, slug string) (int, error) {
	var latest []Build
	query := badgerhold.Where("Slug").Eq(slug).SortBy("Number").Reverse().Limit(1)
	if err := s.bh.TxFind(tx, &latest, query); err != nil {
		return 0, fmt.Errorf("finding latest build: %w", err)
	}
	if len(latest) == 0 {
		return 1, nil
	}
	return latest[0].Number + 1, nil
}

// Get returns the build with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*Build, error) {
	var b Build
	if err := s.bh.Get(id, &b); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("build not found: %s", id)
		}
		return nil, err
	}
	return &b, nil
}

// Query filters List. Zero fields don't filter.
type Query struct {
	Slug   string
	Branch string
	State  string
	Limit  int
}

// List returns recorded builds, newest first.
func (s *Store) List(ctx context.Context, q Query) ([]Build, error) {
	query := badgerhold.Where("ID").Ne("")
	if q.Slug != "" {
		query = query.And("Slug").Eq(q.Slug)
	}
	if q.Branch != "" {
		query = query.And("Branch").Eq(q.Branch)
	}
	if q.State != "" {
		query = query.And("State").Eq(q.State)
	}
	query = query.SortBy("StartedAt").Reverse()
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var builds []Build
	if err := s.bh.Find(&builds, query); err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	return builds, nil
}
