package metacache

import "github.com/chronosdb/metacore/meta"

func (c *Cache) ApplySchemaMapping(name, key string, value int64) {
	c.schemaMu.Lock()
	defer c.schemaMu.Unlock()
	sm, ok := c.schemas[name]
	if !ok {
		sm = &meta.SchemaMapping{Name: name, Items: map[string]int64{}}
		c.schemas[name] = sm
	}
	sm.Apply(key, value)
}

func (c *Cache) InstallSchemaMapping(sm *meta.SchemaMapping) {
	c.schemaMu.Lock()
	defer c.schemaMu.Unlock()
	c.schemas[sm.Name] = sm.Clone()
}

// GetSchemaMappingItem returns (value, true) if present, or
// (meta.AbsentValue, false) otherwise (spec §8 scenario 5).
func (c *Cache) GetSchemaMappingItem(name, key string) (int64, bool) {
	c.schemaMu.RLock()
	defer c.schemaMu.RUnlock()
	sm, ok := c.schemas[name]
	if !ok {
		return meta.AbsentValue, false
	}
	return sm.Get(key)
}

func (c *Cache) GetSchemaMapping(name string) (*meta.SchemaMapping, bool) {
	c.schemaMu.RLock()
	defer c.schemaMu.RUnlock()
	sm, ok := c.schemas[name]
	return sm.Clone(), ok
}
