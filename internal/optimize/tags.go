package optimize

import (
	"sort"
	"strings"
)

// ChangeSet collects the tags signalled during one pass. An empty set after
// a pass means the module reached its local fixpoint.
type ChangeSet struct {
	tags map[string]struct{}
}

func NewChangeSet() *ChangeSet {
	return &ChangeSet{tags: map[string]struct{}{}}
}

func (c *ChangeSet) Clear() {
	for tag := range c.tags {
		delete(c.tags, tag)
	}
}

// Add records every space-separated tag in tags.
func (c *ChangeSet) Add(tags string) {
	for _, tag := range strings.Fields(tags) {
		c.tags[tag] = struct{}{}
	}
}

func (c *ChangeSet) IsEmpty() bool {
	return len(c.tags) == 0
}

func (c *ChangeSet) Has(tag string) bool {
	_, ok := c.tags[tag]
	return ok
}

func (c *ChangeSet) Tags() []string {
	out := make([]string, 0, len(c.tags))
	for tag := range c.tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
