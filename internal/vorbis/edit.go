package vorbis

// Get returns the values of every entry matching key, in file order
func (b *Block) Get(key string) []string {
	var values []string
	for _, e := range b.Entries {
		if e.Matches(key) {
			values = append(values, e.Value)
		}
	}
	return values
}

// Add appends a new entry
func (b *Block) Add(key, value string) error {
	entry, err := NewEntry(key, value)
	if err != nil {
		return err
	}
	b.Entries = append(b.Entries, entry)
	return nil
}

// Set replaces all entries matching key with one entry per value. The new
// entries take the position of the first match, or are appended when the
// key is absent. Entries whose value is unchanged keep their original bytes.
func (b *Block) Set(key string, values ...string) error {
	replacements := make([]Entry, 0, len(values))
	for _, v := range values {
		entry, err := NewEntry(key, v)
		if err != nil {
			return err
		}
		replacements = append(replacements, entry)
	}

	at := -1
	kept := make([]Entry, 0, len(b.Entries)+len(values))
	var previous []Entry
	for _, e := range b.Entries {
		if e.Matches(key) {
			if at < 0 {
				at = len(kept)
			}
			previous = append(previous, e)
			continue
		}
		kept = append(kept, e)
	}
	if at < 0 {
		at = len(kept)
	}

	// Keep the stored spelling of unchanged values so they stay byte-identical.
	for i := range replacements {
		if i < len(previous) && previous[i].Value == replacements[i].Value {
			replacements[i] = previous[i]
		}
	}

	out := make([]Entry, 0, len(kept)+len(replacements))
	out = append(out, kept[:at]...)
	out = append(out, replacements...)
	out = append(out, kept[at:]...)
	b.Entries = out
	return nil
}

// Remove deletes every entry matching any of keys and returns how many went
func (b *Block) Remove(keys ...string) int {
	kept := b.Entries[:0:0]
	removed := 0
	for _, e := range b.Entries {
		match := false
		for _, k := range keys {
			if e.Matches(k) {
				match = true
				break
			}
		}
		if match {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	b.Entries = kept
	return removed
}
