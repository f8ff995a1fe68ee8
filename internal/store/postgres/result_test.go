package postgres

import (
	"errors"
	"testing"

	"github.com/gavelhouse/settlement/internal/store"
)

type stubResult struct {
	n   int64
	err error
}

func (s stubResult) LastInsertId() (int64, error) { return 0, nil }
func (s stubResult) RowsAffected() (int64, error) { return s.n, s.err }

func TestRequireOneRow(t *testing.T) {
	if err := requireOneRow(stubResult{n: 1}); err != nil {
		t.Errorf("one row: error = %v, want nil", err)
	}
	if err := requireOneRow(stubResult{n: 0}); !errors.Is(err, store.ErrAlreadyProcessed) {
		t.Errorf("zero rows: error = %v, want ErrAlreadyProcessed", err)
	}

	// A driver failure must surface as itself, not as ErrAlreadyProcessed.
	driverErr := errors.New("driver: bad connection")
	err := requireOneRow(stubResult{err: driverErr})
	if !errors.Is(err, driverErr) {
		t.Errorf("driver failure: error = %v, want wrapped %v", err, driverErr)
	}
	if errors.Is(err, store.ErrAlreadyProcessed) {
		t.Error("driver failure misreported as ErrAlreadyProcessed")
	}
}
