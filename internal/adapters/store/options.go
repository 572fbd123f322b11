package store

// Option applies a configuration option to the MemStore.
type Option func(*MemStore)

// WithSnapshotPath enables JSON snapshot persistence at the given path.
// The file is read on open and written by Save/Close.
func WithSnapshotPath(path string) Option {
	return func(s *MemStore) {
		if path != "" {
			s.snapshotPath = path
		}
	}
}
