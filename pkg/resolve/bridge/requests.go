package bridge

import "sync"

// requestManager owns the pending response channels of one connection.
type requestManager struct {
	mu      sync.Mutex
	pending map[int64]chan response
	err     error
}

func newRequestManager() *requestManager {
	return &requestManager{pending: map[int64]chan response{}}
}

func (m *requestManager) register(id int64, ch chan response) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.pending[id] = ch
	return nil
}

func (m *requestManager) drop(id int64) {
	m.take(id)
}

func (m *requestManager) resolve(resp response) bool {
	ch := m.take(resp.ID)
	if ch == nil {
		return false
	}
	ch <- resp
	close(ch)
	return true
}

func (m *requestManager) take(id int64) chan response {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := m.pending[id]
	if ch == nil {
		return nil
	}
	delete(m.pending, id)
	return ch
}

// fail records err as terminal and closes every pending channel.
func (m *requestManager) fail(err error) {
	m.mu.Lock()
	if m.err == nil {
		m.err = err
	}
	pending := make([]chan response, 0, len(m.pending))
	for id, ch := range m.pending {
		pending = append(pending, ch)
		delete(m.pending, id)
	}
	m.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

func (m *requestManager) failure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}
