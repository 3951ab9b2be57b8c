package kvs

// TableSize is the number of buckets in the hash table.
const TableSize = 26

type node struct {
	key   string
	value string
	next  *node
}

// table is a fixed-size chained hash table. It is not safe for concurrent use;
// Store serializes every access.
type table struct {
	buckets [TableSize]*node
	size    int
}

// bucketIndex maps a key to its bucket by first character: letters a-z
// (case-insensitive) to 0-25 and digits to 0-9. Other keys have no bucket.
func bucketIndex(key string) (int, bool) {
	if key == "" {
		return 0, false
	}

	c := key[0]
	if c >= 'A' && c <= 'Z' {
		c += 'a' - 'A'
	}

	switch {
	case c >= 'a' && c <= 'z':
		return int(c - 'a'), true
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	}
	return 0, false
}

func (t *table) put(idx int, key, value string) {
	for n := t.buckets[idx]; n != nil; n = n.next {
		if n.key == key {
			n.value = value
			return
		}
	}

	entry := &node{key: key, value: value}
	if t.buckets[idx] == nil {
		t.buckets[idx] = entry
	} else {
		tail := t.buckets[idx]
		for tail.next != nil {
			tail = tail.next
		}
		tail.next = entry
	}
	t.size++
}

func (t *table) get(idx int, key string) (string, bool) {
	for n := t.buckets[idx]; n != nil; n = n.next {
		if n.key == key {
			return n.value, true
		}
	}
	return "", false
}

func (t *table) remove(idx int, key string) bool {
	var prev *node
	for n := t.buckets[idx]; n != nil; n = n.next {
		if n.key == key {
			if prev == nil {
				t.buckets[idx] = n.next
			} else {
				prev.next = n.next
			}
			t.size--
			return true
		}
		prev = n
	}
	return false
}

// entries walks buckets in index order and each chain in insertion order.
func (t *table) entries() []Entry {
	out := make([]Entry, 0, t.size)
	for _, head := range t.buckets {
		for n := head; n != nil; n = n.next {
			out = append(out, Entry{Key: n.key, Value: n.value})
		}
	}
	return out
}

func (t *table) clear() {
	t.buckets = [TableSize]*node{}
	t.size = 0
}
