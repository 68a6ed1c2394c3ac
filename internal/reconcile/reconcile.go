// Package reconcile implements the convergence rule every receiver applies to
// relayed scene elements. The relay gives no ordering or delivery guarantees;
// clients still converge because the merge is a pure per-id comparison that is
// commutative and idempotent.
package reconcile

import (
	"encoding/json"
	"errors"
)

// Element is the version record carried by every drawn object. Raw keeps the
// full object so the merge can hand back exactly what was sent.
type Element struct {
	ID           string
	Version      int64
	VersionNonce int64
	IsDeleted    bool
	Raw          json.RawMessage
}

type elementHeader struct {
	ID           string `json:"id"`
	Version      int64  `json:"version"`
	VersionNonce int64  `json:"versionNonce"`
	IsDeleted    bool   `json:"isDeleted"`
}

func (e *Element) UnmarshalJSON(b []byte) error {
	var h elementHeader
	if err := json.Unmarshal(b, &h); err != nil {
		return err
	}
	if h.ID == "" {
		return errors.New("element without id")
	}
	e.ID, e.Version, e.VersionNonce, e.IsDeleted = h.ID, h.Version, h.VersionNonce, h.IsDeleted
	e.Raw = append(json.RawMessage(nil), b...)
	return nil
}

func (e Element) MarshalJSON() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	return json.Marshal(elementHeader{ID: e.ID, Version: e.Version, VersionNonce: e.VersionNonce, IsDeleted: e.IsDeleted})
}

// KeepLocal reports whether local survives against remote (same id).
// editing is true while this client is interactively changing local.
func KeepLocal(local, remote Element, editing bool) bool {
	if editing {
		return true
	}
	if local.Version != remote.Version {
		return local.Version > remote.Version
	}
	return local.VersionNonce < remote.VersionNonce
}

// Merge folds remote into local. Ids present on one side only are kept, tombstones
// included. editing may be nil. The result keeps local order and appends
// remote-only elements in remote order; neither input is modified.
func Merge(local, remote []Element, editing func(id string) bool) []Element {
	out := make([]Element, len(local), len(local)+len(remote))
	copy(out, local)
	index := make(map[string]int, len(local))
	for i, el := range out {
		index[el.ID] = i
	}
	for _, r := range remote {
		i, ok := index[r.ID]
		if !ok {
			index[r.ID] = len(out)
			out = append(out, r)
			continue
		}
		if KeepLocal(out[i], r, editing != nil && editing(r.ID)) {
			continue
		}
		out[i] = r
	}
	return out
}

// ByID indexes elements by id.
func ByID(elements []Element) map[string]Element {
	m := make(map[string]Element, len(elements))
	for _, el := range elements {
		m[el.ID] = el
	}
	return m
}
