package session

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is the authenticated account together with the session epoch it was observed in.
// Epoch changes every time the account is set or cleared, so two identities with the same
// address but different epochs belong to different sessions.
type Identity struct {
	Address string
	Epoch   uint64
}

// Same reports whether both identities belong to the same session.
func (i Identity) Same(other Identity) bool {
	return i.Epoch == other.Epoch && strings.EqualFold(i.Address, other.Address)
}

// Session holds the currently authenticated account.
type Session struct {
	mu       sync.RWMutex
	address  string
	epoch    uint64
	onChange []func()
}

func New() *Session {
	return &Session{}
}

// Login sets the authenticated account. Logging in with the current account keeps the session.
func (s *Session) Login(address common.Address) Identity {
	s.mu.Lock()
	hex := address.Hex()
	changed := s.address != hex
	if changed {
		s.address = hex
		s.epoch++
	}
	id := Identity{Address: s.address, Epoch: s.epoch}
	hooks := s.hooksLocked(changed)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return id
}

// Logout clears the authenticated account.
func (s *Session) Logout() {
	s.mu.Lock()
	changed := s.address != ""
	if changed {
		s.address = ""
		s.epoch++
	}
	hooks := s.hooksLocked(changed)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Current returns the authenticated identity, if any.
func (s *Session) Current() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.address == "" {
		return Identity{Epoch: s.epoch}, false
	}
	return Identity{Address: s.address, Epoch: s.epoch}, true
}

// OnChange registers fn to run after the account changes or is cleared.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *Session) hooksLocked(changed bool) []func() {
	if !changed {
		return nil
	}
	return append([]func(){}, s.onChange...)
}
