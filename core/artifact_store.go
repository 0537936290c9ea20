package core

// Artifact references a file produced during a run by workspace-relative
// path. Artifacts referenced from breakpoints or the final envelope must be
// resolvable through the run's ArtifactStore.
type Artifact struct {
	Path        string `json:"path"`
	Format      string `json:"format,omitempty"`
	Description string `json:"description,omitempty"`
}

// ArtifactStore defines the interface for artifact persistence. Implementations
// should be thread-safe and scope artifacts by run identifier. Short method
// names (Save/Get/Stat/List/Delete) mirror other store interfaces for consistency.
type ArtifactStore interface {
	Save(runID string, artifact Artifact, data []byte) error
	Get(runID, path string) ([]byte, error)
	Stat(runID, path string) (Artifact, error)
	List(runID string) ([]Artifact, error)
	Delete(runID, path string) error
}
