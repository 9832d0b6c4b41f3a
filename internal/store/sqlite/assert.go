package sqlite

import "github.com/memento-core/daemon/internal/store"

var _ store.MemoryStore = (*Store)(nil)
var _ store.JobQueue = (*Store)(nil)
var _ store.SessionStore = (*Store)(nil)
