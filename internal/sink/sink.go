// Package sink persists canonical records and reports which units are already
// stored so reruns can skip them.
package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"eoddump/internal/canonical"
	"eoddump/internal/metrics"
	"eoddump/internal/provider"
)

// ErrPersistence marks a failed write. It is the only error that aborts a run.
var ErrPersistence = errors.New("persistence error")

// Sink stores canonical rows for units.
type Sink interface {
	Exists(ctx context.Context, u provider.Unit) (bool, error)
	Persist(ctx context.Context, u provider.Unit, recs []canonical.Record) (int, error)
}

// FileSink writes one CSV per unit. Daily units are named after their date,
// instrument units after their code.
type FileSink struct {
	Dir  string
	Kind canonical.Kind
	// ByCode names files after the unit's code instead of its start date.
	ByCode bool
}

// Path returns the file a unit is stored in.
func (s *FileSink) Path(u provider.Unit) string {
	name := u.Start
	if s.ByCode {
		name = u.Code
	}
	return filepath.Join(s.Dir, name+".csv")
}

func (s *FileSink) Exists(_ context.Context, u provider.Unit) (bool, error) {
	_, err := os.Stat(s.Path(u))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	}
	return false, fmt.Errorf("%w: stat %s: %v", ErrPersistence, s.Path(u), err)
}

// Persist replaces the unit's file with recs. The file is written to a
// temporary name and renamed, so readers never see a partial file. No file is
// created for zero records.
func (s *FileSink) Persist(_ context.Context, u provider.Unit, recs []canonical.Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	path := s.Path(u)
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return 0, fmt.Errorf("%w: mkdir %s: %v", ErrPersistence, s.Dir, err)
	}
	tmp, err := os.CreateTemp(s.Dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("%w: create temp: %v", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	fail := func(err error) (int, error) {
		tmp.Close()
		os.Remove(tmpName)
		return 0, fmt.Errorf("%w: write %s: %v", ErrPersistence, path, err)
	}

	w := csv.NewWriter(tmp)
	if err := w.Write(canonical.Columns(s.Kind)); err != nil {
		return fail(err)
	}
	for _, r := range recs {
		if r.Kind() != s.Kind {
			return fail(fmt.Errorf("record kind %s in %s sink", r.Kind(), s.Kind))
		}
		if err := w.Write(r.Values()); err != nil {
			return fail(err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("%w: close %s: %v", ErrPersistence, tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("%w: rename %s: %v", ErrPersistence, path, err)
	}
	metrics.RowsPersisted.WithLabelValues("file").Add(float64(len(recs)))
	return len(recs), nil
}
