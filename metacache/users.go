package metacache

import "github.com/chronosdb/metacore/meta"

func (c *Cache) PutUser(u *meta.User) {
	c.usersMu.Lock()
	defer c.usersMu.Unlock()
	c.users[u.Username] = u.Clone()
}

func (c *Cache) RemoveUser(username string) {
	c.usersMu.Lock()
	defer c.usersMu.Unlock()
	delete(c.users, username)
}

func (c *Cache) GetUser(username string) (*meta.User, bool) {
	c.usersMu.RLock()
	defer c.usersMu.RUnlock()
	u, ok := c.users[username]
	return u.Clone(), ok
}

func (c *Cache) GetUsers() map[string]*meta.User {
	c.usersMu.RLock()
	defer c.usersMu.RUnlock()
	out := make(map[string]*meta.User, len(c.users))
	for k, v := range c.users {
		out[k] = v.Clone()
	}
	return out
}
