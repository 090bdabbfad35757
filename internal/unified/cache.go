package unified

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/metromessages/metromsg/internal/bus"
	"github.com/metromessages/metromsg/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// State is the cache lifecycle state. Failed is distinct from Populated with
// zero entries: an empty directory is a valid populated cache, a load error
// is not.
type State string

const (
	StateUninitialized State = "uninitialized"
	StatePopulated     State = "populated"
	StateFailed        State = "failed"
)

// Directory is the contact side of the store the cache reads from.
type Directory interface {
	ReadAllContacts() ([]store.Contact, error)
	UpdateStar(id int64, starred bool) error
}

// Conversations is the conversation side of the store the cache reads from.
type Conversations interface {
	ReadAllConversations() ([]store.Conversation, error)
}

// Cache holds the merged contact+conversation snapshot. Population runs at
// most once concurrently (singleflight); duplicate callers wait for and share
// the in-flight result. The snapshot is replaced wholesale under the write
// lock, never mutated in place, so readers always observe either the previous
// complete snapshot or the next one.
type Cache struct {
	dir    Directory
	convs  Conversations
	bus    *bus.Bus
	logger *zap.Logger

	group  singleflight.Group
	cancel context.CancelFunc

	mu       sync.RWMutex
	state    State
	snapshot []UnifiedContact
	loadErr  error
}

// NewCache creates an uninitialized cache.
func NewCache(dir Directory, convs Conversations, b *bus.Bus, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		dir:    dir,
		convs:  convs,
		bus:    b,
		logger: logger,
		state:  StateUninitialized,
	}
}

// Start subscribes to mutation events so external changes to contacts or
// conversations invalidate the snapshot. Star toggles patch the snapshot
// directly and do not round-trip through the bus.
func (c *Cache) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	convCh, unsubConv := c.bus.Subscribe("conversation.", 64)
	dirCh, unsubDir := c.bus.Subscribe("directory.", 64)

	go func() {
		defer unsubConv()
		defer unsubDir()
		for {
			select {
			case <-convCh:
				c.Invalidate()
			case <-dirCh:
				c.Invalidate()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the invalidation watcher.
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Initialize populates the cache if it is not already populated. Safe to
// call from every read path: a populated cache returns immediately, and
// concurrent initial loads collapse into one.
func (c *Cache) Initialize() error {
	c.mu.RLock()
	if c.state == StatePopulated {
		c.mu.RUnlock()
		return nil
	}
	c.mu.RUnlock()

	_, err, _ := c.group.Do("populate", func() (any, error) {
		// Re-check: a queued caller may arrive after a finished flight.
		c.mu.RLock()
		populated := c.state == StatePopulated
		c.mu.RUnlock()
		if populated {
			return nil, nil
		}
		return nil, c.populate()
	})
	return err
}

// Refresh discards the current snapshot and rebuilds synchronously.
func (c *Cache) Refresh() error {
	c.Invalidate()
	return c.Initialize()
}

// Invalidate marks the cache stale. The previous snapshot keeps serving
// reads until the next rebuild completes.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	if c.state == StatePopulated {
		c.state = StateUninitialized
	}
	c.mu.Unlock()
}

// State reports the lifecycle state and, in the failed state, the load error.
func (c *Cache) State() (State, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.loadErr
}

func (c *Cache) populate() error {
	contacts, err := c.dir.ReadAllContacts()
	if err != nil {
		c.fail(err)
		return err
	}
	records, err := c.convs.ReadAllConversations()
	if err != nil {
		c.fail(err)
		return err
	}

	merged := make([]UnifiedContact, 0, len(contacts))
	for _, ct := range contacts {
		uc := UnifiedContact{Contact: ct}
		if rec := MatchConversation(ct, records); rec != nil {
			r := *rec
			uc.Conversation = &r
			uc.HasThread = true
			uc.HasUnread = r.UnreadCount > 0
			uc.LastActivity = r.LastActivity
		}
		merged = append(merged, uc)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].LastActivity > merged[j].LastActivity
	})

	c.mu.Lock()
	c.state = StatePopulated
	c.snapshot = merged
	c.loadErr = nil
	c.mu.Unlock()

	c.logger.Info("contact cache populated",
		zap.Int("contacts", len(contacts)),
		zap.Int("records", len(records)))
	c.bus.Emit("contacts.refreshed", len(merged))
	return nil
}

func (c *Cache) fail(err error) {
	c.mu.Lock()
	c.state = StateFailed
	c.snapshot = nil
	c.loadErr = err
	c.mu.Unlock()

	c.logger.Error("contact cache load failed", zap.Error(err))
	c.bus.Emit("contacts.load_failed", err.Error())
}

// ToggleStar persists the starred flag and patches the snapshot in place so
// the change is visible without a full rebuild. Persistence failures are
// logged and otherwise ignored.
func (c *Cache) ToggleStar(id int64, starred bool) {
	if err := c.dir.UpdateStar(id, starred); err != nil {
		c.logger.Warn("failed to persist star", zap.Int64("contact_id", id), zap.Error(err))
	}

	c.mu.Lock()
	if len(c.snapshot) > 0 {
		next := make([]UnifiedContact, len(c.snapshot))
		copy(next, c.snapshot)
		for i := range next {
			if next[i].Contact.ID == id {
				next[i].Contact.Starred = starred
			}
		}
		c.snapshot = next
	}
	c.mu.Unlock()

	c.bus.Emit("contact.starred", id)
}

func (c *Cache) current() []UnifiedContact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// All returns the full snapshot, most recent activity first. Empty until the
// first successful population. Callers must not mutate the returned slice.
func (c *Cache) All() []UnifiedContact {
	return c.current()
}

// Get returns the unified entry for a contact ID, or nil.
func (c *Cache) Get(id int64) *UnifiedContact {
	for _, uc := range c.current() {
		if uc.Contact.ID == id {
			e := uc
			return &e
		}
	}
	return nil
}

// SearchByName returns entries whose display name contains q,
// case-insensitively.
func (c *Cache) SearchByName(q string) []UnifiedContact {
	q = strings.ToLower(q)
	var out []UnifiedContact
	for _, uc := range c.current() {
		if strings.Contains(strings.ToLower(uc.Contact.DisplayName), q) {
			out = append(out, uc)
		}
	}
	return out
}

// SearchByPhone returns entries where any phone number contains q.
func (c *Cache) SearchByPhone(q string) []UnifiedContact {
	var out []UnifiedContact
	for _, uc := range c.current() {
		if phoneContains(uc.Contact, q) {
			out = append(out, uc)
		}
	}
	return out
}

// WithActivity returns entries that have a matched thread with at least one
// message.
func (c *Cache) WithActivity() []UnifiedContact {
	var out []UnifiedContact
	for _, uc := range c.current() {
		if uc.HasThread && uc.LastActivity > 0 {
			out = append(out, uc)
		}
	}
	return out
}

// WithoutThread returns contacts with no matched conversation.
func (c *Cache) WithoutThread() []UnifiedContact {
	var out []UnifiedContact
	for _, uc := range c.current() {
		if !uc.HasThread {
			out = append(out, uc)
		}
	}
	return out
}

func phoneContains(ct store.Contact, q string) bool {
	if strings.Contains(ct.Phone, q) {
		return true
	}
	for _, p := range ct.AltPhones {
		if strings.Contains(p, q) {
			return true
		}
	}
	return false
}
