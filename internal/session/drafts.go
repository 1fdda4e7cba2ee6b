package session

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/safevisit/backend/internal/models"
)

// Drafts hands a drafted request from the creation screen to matching. A draft is consumed
// exactly once and expires if never used.
type Drafts struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func NewDrafts(ttl time.Duration) *Drafts {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Drafts{cache: cache.New(ttl, ttl)}
}

func (d *Drafts) Put(userID string, draft models.ServiceDraft) {
	d.cache.SetDefault(userID, draft)
}

// Peek reads the draft without consuming it.
func (d *Drafts) Peek(userID string) (models.ServiceDraft, bool) {
	v, ok := d.cache.Get(userID)
	if !ok {
		return models.ServiceDraft{}, false
	}
	return v.(models.ServiceDraft), true
}

func (d *Drafts) Take(userID string) (models.ServiceDraft, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	draft, ok := d.Peek(userID)
	if ok {
		d.cache.Delete(userID)
	}
	return draft, ok
}

// Discard drops any pending draft, used on logout.
func (d *Drafts) Discard(userID string) {
	d.cache.Delete(userID)
}
