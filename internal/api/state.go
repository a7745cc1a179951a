package api

import (
	"github.com/asynkron/protoactor-go/actor"
	supervisorActor "go-supervisor/internal/agents/supervisor/actor"
	"sync"
)

type attachedRun struct {
	pid    *actor.PID
	stream *supervisorActor.Stream
}

// runsCache tracks the runs that currently have a live actor.
type runsCache struct {
	mu  sync.RWMutex
	ids map[string]attachedRun
}

func newRunsCache() *runsCache {
	return &runsCache{
		ids: map[string]attachedRun{},
	}
}

func (s *runsCache) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

func (s *runsCache) add(id string, run attachedRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = run
}

func (s *runsCache) get(id string) (attachedRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.ids[id]
	return run, ok
}

func (s *runsCache) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
