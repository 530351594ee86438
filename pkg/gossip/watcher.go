package gossip

// Watcher is notified of visible state changes applied by remote merges.
//
// Watchers are called synchronously with the store lock held so must not
// block. Local writes do not notify the watcher.
type Watcher interface {
	// OnUpsertKey notifies the watcher that a key's visible value was
	// created or updated by a merge.
	OnUpsertKey(key, value string)

	// OnDeleteKey notifies the watcher that a key was deleted by a merge.
	OnDeleteKey(key string)
}

type nopWatcher struct{}

func newNopWatcher() *nopWatcher {
	return &nopWatcher{}
}

func (w *nopWatcher) OnUpsertKey(_, _ string) {
}

func (w *nopWatcher) OnDeleteKey(_ string) {
}

var _ Watcher = &nopWatcher{}
