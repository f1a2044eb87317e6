package state

import (
	"errors"
	"time"
)

// FailureRecorder classifies build errors and keeps the journal current:
// a failure overwrites the record, a success clears it.
type FailureRecorder struct {
	Store *Store

	// Now defaults to time.Now.
	Now func() time.Time
}

func (r *FailureRecorder) RecordFailure(goals []string, graphHash string, err error) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	f, ferr := failureFromError(err)
	if ferr != nil {
		return ferr
	}
	f.Goals = append([]string{}, goals...)
	f.GraphHash = graphHash
	f.RecordedAt = r.now()
	return r.Store.SaveFailure(f)
}

func (r *FailureRecorder) RecordSuccess() error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	return r.Store.ClearFailure()
}

func (r *FailureRecorder) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}
