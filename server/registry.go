package server

import (
	"github.com/cyberinferno/primewire/idgenerator"
	"github.com/cyberinferno/primewire/safemap"
)

// registry tracks live sessions by id. Ids increase monotonically from 1;
// 0 is never assigned. Safe for concurrent use.
type registry struct {
	ids      *idgenerator.IdGenerator
	sessions *safemap.SafeMap[uint32, *Session]
}

func newRegistry() *registry {
	return &registry{
		ids:      idgenerator.NewIdGenerator(0),
		sessions: safemap.New[uint32, *Session](),
	}
}

// nextID returns the next unused session id.
func (r *registry) nextID() uint32 {
	return r.ids.Id()
}

func (r *registry) add(s *Session) {
	r.sessions.Store(s.id, s)
}

func (r *registry) remove(id uint32) {
	r.sessions.Delete(id)
}

func (r *registry) get(id uint32) (*Session, bool) {
	return r.sessions.Load(id)
}

// each calls f for every live session until f returns false.
func (r *registry) each(f func(s *Session) bool) {
	r.sessions.Range(func(_ uint32, s *Session) bool {
		return f(s)
	})
}

func (r *registry) len() int {
	return r.sessions.Len()
}
