package pipeline

import (
	"context"
	"encoding/json"
	"sync"
)

// CheckpointStore persists run state between stages, keyed by run id. Load returns nil and
// no error when there is no checkpoint for the run.
type CheckpointStore interface {
	Load(ctx context.Context, runId string) (*Run, error)
	Save(ctx context.Context, run *Run) error
	Delete(ctx context.Context, runId string) error
}

type MemoryCheckpoints struct {
	mu    sync.Mutex
	state map[string][]byte
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{state: make(map[string][]byte)}
}

func (m *MemoryCheckpoints) Load(ctx context.Context, runId string) (*Run, error) {
	m.mu.Lock()
	data, ok := m.state[runId]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decodeRun(data)
}

func (m *MemoryCheckpoints) Save(ctx context.Context, run *Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[run.RunId] = data
	return nil
}

func (m *MemoryCheckpoints) Delete(ctx context.Context, runId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, runId)
	return nil
}

func decodeRun(data []byte) (*Run, error) {
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}
