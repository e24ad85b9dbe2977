package ir

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MemberSet is a set of team-member ids.
//
// The zero value is an empty set. Sets built with NewMemberSet are sorted,
// de-duplicated and NFC normalized, so two sets with the same members compare
// equal element by element and marshal to identical canonical JSON.
type MemberSet []string

// NewMemberSet builds a normalized set from ids. Blank ids are dropped.
func NewMemberSet(ids ...string) MemberSet {
	seen := make(map[string]bool, len(ids))
	out := make(MemberSet, 0, len(ids))
	for _, id := range ids {
		id = norm.NFC.String(strings.TrimSpace(id))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Union returns a new set holding the members of s and every other set.
func (s MemberSet) Union(others ...MemberSet) MemberSet {
	all := append([]string(nil), s...)
	for _, o := range others {
		all = append(all, o...)
	}
	return NewMemberSet(all...)
}

// Contains reports whether id is a member.
func (s MemberSet) Contains(id string) bool {
	id = norm.NFC.String(id)
	i := sort.SearchStrings(s, id)
	return i < len(s) && s[i] == id
}

// Equal reports whether both sets hold the same members.
func (s MemberSet) Equal(o MemberSet) bool {
	a, b := NewMemberSet(s...), NewMemberSet(o...)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no backing array with s.
func (s MemberSet) Clone() MemberSet {
	if s == nil {
		return nil
	}
	return append(MemberSet(nil), s...)
}
