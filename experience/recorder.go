// Package experience persists attempt outcomes and folds them back into the
// routing confidence model. Nothing here ever gates execution.
package experience

import (
	"github.com/rohanthewiz/serr"

	"loom/db"
)

// Recorder writes experiences and nudges the adaptation loop
type Recorder struct {
	store *db.ExperienceStore
	loop  *Loop
}

// NewRecorder creates a recorder. loop may be nil; feedback then only
// persists without an immediate refresh.
func NewRecorder(store *db.ExperienceStore, loop *Loop) *Recorder {
	return &Recorder{store: store, loop: loop}
}

// Record persists one experience and queues it for near-term adaptation
func (r *Recorder) Record(exp *db.Experience) (string, error) {
	id, err := r.store.Insert(exp)
	if err != nil {
		return "", serr.Wrap(err, "failed to record experience")
	}
	if r.loop != nil {
		r.loop.Notify()
	}
	return id, nil
}

// UpdateFeedback amends the feedback fields on an existing experience and
// immediately triggers a confidence refresh, without waiting for the
// periodic cycle.
func (r *Recorder) UpdateFeedback(tenantID, id string, feedback db.ExperienceFeedback, comment string) error {
	if err := r.store.UpdateFeedback(tenantID, id, feedback, comment); err != nil {
		return err
	}
	if r.loop != nil {
		r.loop.Notify()
	}
	return nil
}
