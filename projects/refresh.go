package projects

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ViewLoader loads a project's view
type ViewLoader func(ctx context.Context, projectID uuid.UUID) (*ProjectView, error)

// Refresher collapses concurrent reloads of the same project. When one
// change wakes many event streams for a project, only one of them hits the
// store and the rest share its result.
type Refresher struct {
	load  ViewLoader
	group singleflight.Group
}

// NewRefresher wraps load
func NewRefresher(load ViewLoader) *Refresher {
	return &Refresher{load: load}
}

// Load returns the project's current view
func (r *Refresher) Load(ctx context.Context, projectID uuid.UUID) (*ProjectView, error) {
	v, err, _ := r.group.Do(projectID.String(), func() (interface{}, error) {
		return r.load(ctx, projectID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ProjectView), nil
}

// Refresh is Load for callers that can skip a failed reload; errors are
// logged and nil is returned.
func (r *Refresher) Refresh(ctx context.Context, projectID uuid.UUID) *ProjectView {
	view, err := r.Load(ctx, projectID)
	if err != nil {
		log.Debug().Err(err).Str("project_id", projectID.String()).Msg("refresh project view")
		return nil
	}
	return view
}
