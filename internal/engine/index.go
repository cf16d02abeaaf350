package engine

import "github.com/pairsync/pairsync/internal/store"

// identityIndex is the in-memory view of the mapping store: forward
// (address book id to CRM id) and reverse lookups in O(1). The store
// commits first; the index is patched only after a successful write, so
// a failed run never leaves the index ahead of the database.
type identityIndex struct {
	forward map[string]string // abook id -> crm id
	reverse map[string]string // crm id -> abook id
}

func newIdentityIndex(mappings []store.Mapping) *identityIndex {
	idx := &identityIndex{
		forward: make(map[string]string, len(mappings)),
		reverse: make(map[string]string, len(mappings)),
	}
	for _, m := range mappings {
		idx.forward[m.ABookID] = m.CRMID
		idx.reverse[m.CRMID] = m.ABookID
	}
	return idx
}

func (idx *identityIndex) add(abookID, crmID string) {
	idx.forward[abookID] = crmID
	idx.reverse[crmID] = abookID
}

func (idx *identityIndex) remove(abookID, crmID string) {
	delete(idx.forward, abookID)
	delete(idx.reverse, crmID)
}

// crmFor returns the mapped CRM id for an address book id, or "".
func (idx *identityIndex) crmFor(abookID string) string {
	return idx.forward[abookID]
}

// abookFor returns the mapped address book id for a CRM id, or "".
func (idx *identityIndex) abookFor(crmID string) string {
	return idx.reverse[crmID]
}

func (idx *identityIndex) hasCRM(crmID string) bool {
	_, ok := idx.reverse[crmID]
	return ok
}

func (idx *identityIndex) empty() bool {
	return len(idx.forward) == 0
}
