package presence

import (
	"log/slog"
	"sync"
)

const releasedHistory = 4096

type LifecycleOptions struct {
	Policy SupersedePolicy
	Closer Closer       // required for SupersedeClose to have an effect
	Mirror *MirrorQueue // nil disables the persistence mirror
	Logger *slog.Logger
}

// Lifecycle drives each connection through Unauthenticated -> Bound ->
// Released and keeps the Registry in step with it.
type Lifecycle struct {
	reg    *Registry
	policy SupersedePolicy
	closer Closer
	mirror *MirrorQueue
	logger *slog.Logger

	mu       sync.Mutex
	bound    map[ConnID]struct{}
	released map[ConnID]struct{}
	order    []ConnID // ring of released handles, oldest first
}

func NewLifecycle(reg *Registry, opts LifecycleOptions) *Lifecycle {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Lifecycle{
		reg:      reg,
		policy:   opts.Policy,
		closer:   opts.Closer,
		mirror:   opts.Mirror,
		logger:   opts.Logger,
		bound:    make(map[ConnID]struct{}),
		released: make(map[ConnID]struct{}),
	}
}

// OnJoin binds id to conn. Joining an already bound connection under another
// identity re-binds it; joining a released connection is rejected.
func (l *Lifecycle) OnJoin(id Identity, conn ConnID) error {
	if id == "" || conn == "" {
		return ErrInvalidIdentity
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, gone := l.released[conn]; gone {
		return ErrConnectionReleased
	}

	prev, wasBound := l.reg.IdentityOf(conn)
	if wasBound && prev == id {
		return nil
	}

	superseded, replaced := l.reg.Bind(id, conn)
	l.bound[conn] = struct{}{}

	if wasBound {
		l.logger.Info("connection rebound", "conn", conn, "from", prev, "to", id)
		l.mirror.Clear(prev)
	}
	l.mirror.Record(id, conn)

	if replaced {
		l.logger.Info("connection superseded", "username", id, "old_conn", superseded, "new_conn", conn)
		if l.policy == SupersedeClose && l.closer != nil {
			l.closer.Close(superseded, "superseded")
		}
	}

	l.logger.Info("user joined", "username", id, "conn", conn)
	return nil
}

// OnLeave releases conn. It never fails: a connection that never joined, or
// whose binding was already superseded, is simply marked released.
func (l *Lifecycle) OnLeave(conn ConnID) (Identity, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, gone := l.released[conn]; gone {
		return "", false
	}

	id, ok := l.reg.Unbind(conn)
	if ok {
		l.mirror.Clear(id)
		l.logger.Info("user left", "username", id, "conn", conn)
	} else {
		l.logger.Debug("stale unbind ignored", "conn", conn)
	}

	delete(l.bound, conn)
	l.markReleased(conn)
	return id, ok
}

func (l *Lifecycle) State(conn ConnID) State {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, gone := l.released[conn]; gone {
		return Released
	}
	if _, ok := l.bound[conn]; ok {
		return Bound
	}
	return Unauthenticated
}

// markReleased remembers conn as terminal, forgetting the oldest entry once
// the history is full. Caller holds l.mu.
func (l *Lifecycle) markReleased(conn ConnID) {
	if conn == "" {
		return
	}
	if len(l.order) >= releasedHistory {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.released, oldest)
	}
	l.order = append(l.order, conn)
	l.released[conn] = struct{}{}
}
