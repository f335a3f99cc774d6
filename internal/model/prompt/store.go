package prompt

// Store exposes quick-prompt retrieval for HTTP handlers.
type Store interface {
	List() []QuickPrompt
	FindByID(id string) (QuickPrompt, bool)
}

// MemoryStore implements Store with an in-memory slice, suitable for MVP.
type MemoryStore struct {
	items []QuickPrompt
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied prompts.
func NewMemoryStore(items []QuickPrompt) *MemoryStore {
	return &MemoryStore{items: append([]QuickPrompt(nil), items...)}
}

// List returns the configured quick prompts.
func (s *MemoryStore) List() []QuickPrompt {
	return append([]QuickPrompt(nil), s.items...)
}

// FindByID looks up a quick prompt by identifier.
func (s *MemoryStore) FindByID(id string) (QuickPrompt, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return QuickPrompt{}, false
}
