package engine

import "sync"

// Directory is a read-mostly name index kept in step with the model. The
// codec reads it from I/O goroutines to render references, so it is guarded
// separately from the single-owner model.
type Directory struct {
	mu       sync.RWMutex
	users    map[string]string
	channels map[string]string
}

func newDirectory() *Directory {
	return &Directory{
		users:    make(map[string]string),
		channels: make(map[string]string),
	}
}

// UserName returns the display name of a known, enriched user.
func (d *Directory) UserName(id string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.users[id]
	return name, ok
}

// ChannelName returns the name of a known, enriched channel.
func (d *Directory) ChannelName(id string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.channels[id]
	return name, ok
}

func (d *Directory) setUser(id, name string) {
	if name == "" {
		return
	}
	d.mu.Lock()
	d.users[id] = name
	d.mu.Unlock()
}

func (d *Directory) setChannel(id, name string) {
	if name == "" {
		return
	}
	d.mu.Lock()
	d.channels[id] = name
	d.mu.Unlock()
}

func (d *Directory) reset() {
	d.mu.Lock()
	d.users = make(map[string]string)
	d.channels = make(map[string]string)
	d.mu.Unlock()
}
