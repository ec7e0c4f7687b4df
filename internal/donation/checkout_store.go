package donation

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sahara-drive/donation-portal/internal/checkout"
)

// CheckoutStore keeps one checkout controller per donor cookie. Controllers
// idle for longer than ttl are dropped by Cleanup.
type CheckoutStore struct {
	mu          sync.Mutex
	controllers map[string]*checkout.Controller
	ttl         time.Duration
	build       func(id string) *checkout.Controller
}

// NewCheckoutStore returns a store creating controllers with build.
func NewCheckoutStore(ttl time.Duration, build func(id string) *checkout.Controller) *CheckoutStore {
	return &CheckoutStore{
		controllers: make(map[string]*checkout.Controller),
		ttl:         ttl,
		build:       build,
	}
}

// Get returns the controller for id, or nil when unknown.
func (s *CheckoutStore) Get(id string) *checkout.Controller {
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controllers[id]
}

// GetOrCreate returns the controller for id, creating a new checkout under a
// fresh id when id is empty or unknown. created reports the latter.
func (s *CheckoutStore) GetOrCreate(id string) (ctrl *checkout.Controller, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctrl, ok := s.controllers[id]; ok && id != "" {
		return ctrl, false
	}
	ctrl = s.build(uuid.NewString())
	s.controllers[ctrl.ID()] = ctrl
	return ctrl, true
}

// Len returns the number of live checkouts.
func (s *CheckoutStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.controllers)
}

// Cleanup drops idle controllers and returns how many were removed.
// Controllers for which keep reports true stay regardless of age.
func (s *CheckoutStore) Cleanup(now time.Time, keep func(*checkout.Controller) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, ctrl := range s.controllers {
		if keep != nil && keep(ctrl) {
			continue
		}
		if now.Sub(ctrl.UpdatedAt()) > s.ttl {
			delete(s.controllers, id)
			removed++
		}
	}
	return removed
}
