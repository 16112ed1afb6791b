package querycache

import (
	"strconv"
)

// Key identifies a cached query. ID 0 is the whole collection of Resource.
type Key struct {
	Resource string
	ID       int64
}

func Collection(resource string) Key {
	return Key{Resource: resource}
}

func Item(resource string, id int64) Key {
	return Key{Resource: resource, ID: id}
}

func (k Key) IsCollection() bool {
	return k.ID == 0
}

// Covers reports whether invalidating k also invalidates other.
func (k Key) Covers(other Key) bool {
	if k.Resource != other.Resource {
		return false
	}
	return k.IsCollection() || k.ID == other.ID
}

func (k Key) String() string {
	if k.IsCollection() {
		return k.Resource
	}
	return k.Resource + "/" + strconv.FormatInt(k.ID, 10)
}
