package store

import (
	"sort"
	"sync"
	"time"

	"github.com/llmproxy/credpool/internal/credential"
	"github.com/llmproxy/credpool/internal/pool"
)

// Memory is an in-memory Store with the same semantics as the SQLite store.
type Memory struct {
	mutex      sync.RWMutex
	nextID     int64
	creds      map[int64]*credential.Credential
	poolConfig *pool.Config
	quota      map[quotaKey]QuotaRow
}

type quotaKey struct {
	userID int64
	group  credential.ModelGroup
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		nextID: 1,
		creds:  make(map[int64]*credential.Credential),
		quota:  make(map[quotaKey]QuotaRow),
	}
}

func (m *Memory) Add(c *credential.Credential) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	cp := c.Clone()
	if cp.ID == 0 {
		cp.ID = m.nextID
	}
	if cp.ID >= m.nextID {
		m.nextID = cp.ID + 1
	}
	if cp.LastUsed == nil {
		cp.LastUsed = make(map[credential.ModelGroup]time.Time)
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	m.creds[cp.ID] = cp
	return cp.ID, nil
}

func (m *Memory) Get(id int64) (*credential.Credential, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	c, ok := m.creds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *Memory) List() ([]*credential.Credential, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]*credential.Credential, 0, len(m.creds))
	for _, c := range m.creds {
		out = append(out, c.Clone())
	}
	sortByID(out)
	return out, nil
}

func (m *Memory) ListActive(provider credential.Provider) ([]*credential.Credential, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var out []*credential.Credential
	for _, c := range m.creds {
		if c.Active && c.Provider == provider {
			out = append(out, c.Clone())
		}
	}
	sortByID(out)
	return out, nil
}

func (m *Memory) OwnsActive(ownerID int64, provider credential.Provider) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, c := range m.creds {
		if c.OwnerID == ownerID && c.Active && c.Provider == provider {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) OwnsActiveTier(ownerID int64, provider credential.Provider, tier credential.CapabilityTier) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, c := range m.creds {
		if c.OwnerID == ownerID && c.Active && c.Provider == provider && c.Tier >= tier {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) MarkUsed(id int64, group credential.ModelGroup, now time.Time) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	c, ok := m.creds[id]
	if !ok {
		return ErrNotFound
	}

	c.UseCount++
	c.LastUsed[group] = now
	return nil
}

func (m *Memory) SetActive(id int64, active bool) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	c, ok := m.creds[id]
	if !ok {
		return ErrNotFound
	}

	c.Active = active
	return nil
}

func (m *Memory) SetPublic(id int64, public bool, lockDonate bool) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	c, ok := m.creds[id]
	if !ok {
		return ErrNotFound
	}

	if !public && c.Public && c.Active && lockDonate {
		return ErrDonateLocked
	}

	c.Public = public
	return nil
}

func (m *Memory) Delete(id int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.creds[id]; !ok {
		return ErrNotFound
	}

	delete(m.creds, id)
	return nil
}

func (m *Memory) PurgeInactive() (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	purged := 0
	for id, c := range m.creds {
		if !c.Active {
			delete(m.creds, id)
			purged++
		}
	}
	return purged, nil
}

func (m *Memory) Stats(userID int64) (Stats, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var s Stats
	for _, c := range m.creds {
		s.Total++
		if c.Active {
			s.Active++
			if c.OwnerID == userID {
				s.UserActive++
			}
		}
		if c.Public {
			s.Public++
		}
	}
	return s, nil
}

func (m *Memory) SavePoolConfig(cfg *pool.Config) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	cp := *cfg
	m.poolConfig = &cp
	return nil
}

func (m *Memory) LoadPoolConfig() (*pool.Config, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.poolConfig == nil {
		return nil, nil
	}
	cp := *m.poolConfig
	return &cp, nil
}

func (m *Memory) SaveQuota(userID int64, group credential.ModelGroup, day time.Time, reward, used int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.quota[quotaKey{userID, group}] = QuotaRow{
		UserID: userID,
		Group:  group,
		Day:    day,
		Reward: reward,
		Used:   used,
	}
	return nil
}

func (m *Memory) LoadQuotaRows() ([]QuotaRow, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]QuotaRow, 0, len(m.quota))
	for _, row := range m.quota {
		out = append(out, row)
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}

func sortByID(creds []*credential.Credential) {
	sort.Slice(creds, func(i, j int) bool {
		return creds[i].ID < creds[j].ID
	})
}
