package transport

import "sync"

// lockRegistry maps the message id of every delivery handed out by Receive to its lock token.
type lockRegistry struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{tokens: make(map[string]string)}
}

func (r *lockRegistry) track(messageID, lockToken string) {
	r.mu.Lock()
	r.tokens[messageID] = lockToken
	r.mu.Unlock()
}

func (r *lockRegistry) release(messageID string) {
	r.mu.Lock()
	delete(r.tokens, messageID)
	r.mu.Unlock()
}

func (r *lockRegistry) token(messageID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[messageID]

	return tok, ok
}

func (r *lockRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.tokens)
}
