package telegram

import "sync"

type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingPrompt
)

const (
	defaultAspectRatio = "3:4"
	defaultResolution  = "1K"
)

type Session struct {
	State         SessionState
	AspectRatio   string
	Resolution    string
	ReferenceURLs []string
}

func newSession() *Session {
	return &Session{
		State:         StateIdle,
		AspectRatio:   defaultAspectRatio,
		Resolution:    defaultResolution,
		ReferenceURLs: make([]string, 0),
	}
}

// StateManager keeps per-chat dialog state in memory. Sessions are lost on
// restart, which only costs the user a repeated /generate.
type StateManager struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewStateManager() *StateManager {
	return &StateManager{sessions: make(map[int64]*Session)}
}

// Get returns a copy of the chat's session.
func (m *StateManager) Get(chatID int64) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chatID]
	if !ok {
		return *newSession()
	}
	cp := *s
	cp.ReferenceURLs = append([]string(nil), s.ReferenceURLs...)
	return cp
}

func (m *StateManager) SetState(chatID int64, state SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session(chatID).State = state
}

// AddReference appends url, keeping only the newest limit references, and
// returns the resulting count.
func (m *StateManager) AddReference(chatID int64, url string, limit int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(chatID)
	s.ReferenceURLs = append(s.ReferenceURLs, url)
	if len(s.ReferenceURLs) > limit {
		s.ReferenceURLs = s.ReferenceURLs[len(s.ReferenceURLs)-limit:]
	}
	return len(s.ReferenceURLs)
}

func (m *StateManager) ClearReferences(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session(chatID).ReferenceURLs = make([]string, 0)
}

func (m *StateManager) Reset(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[chatID] = newSession()
}

func (m *StateManager) session(chatID int64) *Session {
	s, ok := m.sessions[chatID]
	if !ok {
		s = newSession()
		m.sessions[chatID] = s
	}
	return s
}
