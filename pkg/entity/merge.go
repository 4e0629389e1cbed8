package entity

// Level semantics: a nil level means unlimited traversal depth; an
// absent level means the entity was never assigned one (a loaded
// archive predating the run). MergeLevel is the single place the
// max-wins rule lives.

// MergeLevel combines two levels under max-wins: unlimited (nil) beats
// any number, otherwise the larger number wins.
func MergeLevel(current, incoming *int) *int {
	if current == nil || incoming == nil {
		return nil
	}
	if *incoming > *current {
		return incoming
	}
	return current
}

// levelOf reads the level key; absent and explicit-nil both come back
// nil, so callers that care about presence check the key themselves.
func levelOf(data Raw) *int {
	value, ok := data[keyLevel]
	if !ok || value == nil {
		return nil
	}
	level := int(toID(value))
	if level < 0 {
		level = 0
	}
	return &level
}

// storeLevel writes a level, normalizing negatives to zero. A nil
// level is stored as an explicit null so it survives serialization as
// "unlimited" rather than "unset".
func storeLevel(data Raw, level *int) {
	if level == nil {
		data[keyLevel] = nil
		return
	}
	value := *level
	if value < 0 {
		value = 0
	}
	data[keyLevel] = value
}

// mergeLocked folds a fragment into the bag. Non-nil fragment values
// replace existing ones; the level merges max-wins; the collected and
// gathered flags only ever turn on through a merge (authorization
// changes turn them off through SetAuthorization).
func (b *base) mergeLocked(fragment Raw) {
	for key, value := range fragment {
		switch key {
		case keyLevel:
			if _, ok := b.data[keyLevel]; !ok {
				storeLevel(b.data, levelOfValue(value))
			} else {
				storeLevel(b.data, MergeLevel(levelOf(b.data), levelOfValue(value)))
			}
		case keyCollected, keyGathered:
			if on, _ := value.(bool); on {
				b.data[key] = true
			} else if _, ok := b.data[key]; !ok {
				b.data[key] = false
			}
		default:
			if value != nil {
				b.data[key] = value
			}
		}
	}
}

func levelOfValue(value interface{}) *int {
	if value == nil {
		return nil
	}
	level := int(toID(value))
	if level < 0 {
		level = 0
	}
	return &level
}

// HasLevel reports whether the entity was ever assigned a level.
func (b *base) HasLevel() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[keyLevel]
	return ok
}

// SetCollected and SetGathered set the flags directly; used when
// overlaying archive metadata onto loaded entities and by Collect and
// Gather themselves.
func (b *base) SetCollected(collected bool) { b.setFlag(keyCollected, collected) }

func (b *base) SetGathered(gathered bool) { b.setFlag(keyGathered, gathered) }

// childLevel is the level stamped on gathered references: one below
// the parent, unlimited stays unlimited.
func childLevel(level *int) *int {
	if level == nil {
		return nil
	}
	child := *level - 1
	if child < 0 {
		child = 0
	}
	return &child
}
