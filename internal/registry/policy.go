package registry

import "github.com/woozymasta/gamemaster/internal/models"

// Policy picks one server out of the active candidates of a region.
// Candidates are never empty and arrive least loaded first.
type Policy interface {
	Choose(candidates []models.Server) models.Server
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(candidates []models.Server) models.Server

// Choose calls f.
func (f PolicyFunc) Choose(candidates []models.Server) models.Server {
	return f(candidates)
}

// LeastLoaded picks the server with the lowest combined CPU and RAM load, lowest id on ties.
var LeastLoaded = PolicyFunc(func(candidates []models.Server) models.Server {
	best := candidates[0]
	for _, s := range candidates[1:] {
		if s.Load() < best.Load() || (s.Load() == best.Load() && s.ID < best.ID) {
			best = s
		}
	}

	return best
})
