package codecache

// Table owns every compiled Block for one CPU instance: the primary
// Key -> Block map, and the secondary physical-page -> blocks reverse map
// used to find every block that must be invalidated when a page is
// written. Grounded on CodeCacheBackend::m_physical_page_blocks
// (code_cache_backend.h) generalized to be shared by both backends via
// the type parameter.
type Table[I any] struct {
	blocks      map[Key]*Block[I]
	pageBlocks  map[uint32][]Key
}

// NewTable returns an empty code cache.
func NewTable[I any]() *Table[I] {
	return &Table[I]{
		blocks:     make(map[Key]*Block[I]),
		pageBlocks: make(map[uint32][]Key),
	}
}

// Lookup returns the block compiled for key, or nil if none exists yet.
func (t *Table[I]) Lookup(key Key) *Block[I] {
	return t.blocks[key]
}

// Insert adds a newly compiled block to the table and indexes it under
// every physical page it occupies.
func (t *Table[I]) Insert(b *Block[I]) {
	t.blocks[b.Key] = b

	page := b.PhysicalPage()
	t.pageBlocks[page] = append(t.pageBlocks[page], b.Key)
	if b.Flags&FlagCrossesPage != 0 {
		next := b.NextPagePhysicalAddress
		t.pageBlocks[next] = append(t.pageBlocks[next], b.Key)
	}
}

// Remove destroys a block: drops it from the primary map and from every
// page it was indexed under, and unlinks it from its chained neighbours'
// adjacency lists so no dangling Key survives it.
func (t *Table[I]) Remove(key Key) {
	b, ok := t.blocks[key]
	if !ok {
		return
	}

	for _, pred := range b.Predecessors {
		if p := t.blocks[pred]; p != nil {
			p.Successors = removeKey(p.Successors, key)
		}
	}
	for _, succ := range b.Successors {
		if s := t.blocks[succ]; s != nil {
			s.Predecessors = removeKey(s.Predecessors, key)
		}
	}

	page := b.PhysicalPage()
	t.pageBlocks[page] = removeKey(t.pageBlocks[page], key)
	if b.Flags&FlagCrossesPage != 0 {
		next := b.NextPagePhysicalAddress
		t.pageBlocks[next] = removeKey(t.pageBlocks[next], key)
	}

	delete(t.blocks, key)
}

func removeKey(keys []Key, target Key) []Key {
	out := keys[:0]
	for _, k := range keys {
		if k != target {
			out = append(out, k)
		}
	}
	return out
}

// Link records a direct-chaining edge: executing `from` may fall through
// to `to` without consulting the table, provided `to` stays valid.
func (t *Table[I]) Link(from, to Key) {
	fb, tb := t.blocks[from], t.blocks[to]
	if fb == nil || tb == nil {
		return
	}
	fb.Successors = appendUnique(fb.Successors, to)
	tb.Predecessors = appendUnique(tb.Predecessors, from)
}

func appendUnique(keys []Key, k Key) []Key {
	for _, existing := range keys {
		if existing == k {
			return keys
		}
	}
	return append(keys, k)
}

// InvalidatePage marks every block mapped to physPage as invalidated. It
// does not destroy them — per the spec's lazy-reclamation design, the
// next attempt to execute an invalidated block revalidates by code hash
// and only then is it actually destroyed (by the caller invoking Remove).
// Called by the cached backend (Cached.invalidateIfDirty) when, at block
// lookup, the bus reports a write to a page this table has blocks for.
func (t *Table[I]) InvalidatePage(physPage uint32) {
	for _, key := range t.pageBlocks[physPage] {
		if b := t.blocks[key]; b != nil {
			b.Flags |= FlagInvalidated
		}
	}
}

// HasBlocksForPage reports whether any block is currently indexed under
// physPage, letting the caller skip the invalidation walk on pages that
// were never executed from.
func (t *Table[I]) HasBlocksForPage(physPage uint32) bool {
	return len(t.pageBlocks[physPage]) > 0
}

// FlushAll drops every block, e.g. on CR3 load or a global TLB flush that
// the CPU model treats as also invalidating the code cache.
func (t *Table[I]) FlushAll() {
	t.blocks = make(map[Key]*Block[I])
	t.pageBlocks = make(map[uint32][]Key)
}

// Len returns the number of live blocks, for tests and diagnostics.
func (t *Table[I]) Len() int { return len(t.blocks) }
