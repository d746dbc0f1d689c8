package gatt

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
)

// Cache keeps the discovered profiles of bonded servers so a reconnect can
// skip discovery. It lives in memory only.
type Cache struct {
	lock     sync.RWMutex
	profiles map[btcontrol.Address]*Profile
}

func NewCache() *Cache {
	return &Cache{profiles: make(map[btcontrol.Address]*Profile)}
}

// Store records the profile of a; an existing entry is kept unless replace
// is set.
func (gc *Cache) Store(a btcontrol.Address, p *Profile, replace bool) error {
	gc.lock.Lock()
	defer gc.lock.Unlock()

	if _, ok := gc.profiles[a]; ok && !replace {
		return errors.Wrapf(btcontrol.ErrInProgress, "cache already holds a profile for %v", a)
	}
	gc.profiles[a] = p
	return nil
}

func (gc *Cache) Load(a btcontrol.Address) (*Profile, error) {
	gc.lock.RLock()
	defer gc.lock.RUnlock()

	p, ok := gc.profiles[a]
	if !ok {
		return nil, errors.Wrapf(btcontrol.ErrNotFound, "no profile for %v in cache", a)
	}
	return p, nil
}

// Forget drops the profile of a.
func (gc *Cache) Forget(a btcontrol.Address) {
	gc.lock.Lock()
	delete(gc.profiles, a)
	gc.lock.Unlock()
}

func (gc *Cache) Clear() {
	gc.lock.Lock()
	gc.profiles = make(map[btcontrol.Address]*Profile)
	gc.lock.Unlock()
}

func (gc *Cache) Len() int {
	gc.lock.RLock()
	defer gc.lock.RUnlock()
	return len(gc.profiles)
}
