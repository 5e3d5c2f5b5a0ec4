// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package completions finds leaderboard members that earned stars between two
// snapshots.
package completions

import (
	"cmp"
	"slices"
	"strings"

	"go.astrophena.name/aocbot/cmd/aocbot/internal/aoc"
)

// Completion is a star count increase of a single member.
type Completion struct {
	MemberID  int64  `json:"member_id"`
	Name      string `json:"name"`
	Completed int    `json:"completed"`
	// First is true for members who weren't on the previous snapshot or had no
	// stars on it.
	First bool `json:"first"`
}

// Compute returns completions of cur relative to prev, ordered by [Sort].
//
// A member missing from prev is reported as a first-timer with all of their
// stars, even if they have none yet.
func Compute(prev, cur *aoc.Leaderboard) []Completion {
	if cur == nil {
		return nil
	}
	var prevMembers map[string]*aoc.Member
	if prev != nil {
		prevMembers = prev.Members
	}

	var out []Completion
	for id, m := range cur.Members {
		pm, seen := prevMembers[id]
		if seen && m.Stars <= pm.Stars {
			continue
		}
		c := Completion{
			MemberID:  m.ID,
			Name:      m.DisplayName(),
			Completed: m.Stars,
			First:     !seen,
		}
		if seen {
			c.Completed = m.Stars - pm.Stars
			c.First = pm.Stars == 0
		}
		out = append(out, c)
	}

	Sort(out)
	return out
}

// Sort orders completions: first-timers go first, then members with more
// completed challenges. Ties are broken by name and member ID.
func Sort(cs []Completion) {
	slices.SortFunc(cs, func(a, b Completion) int {
		if a.First != b.First {
			if a.First {
				return -1
			}
			return 1
		}
		return cmp.Or(
			cmp.Compare(b.Completed, a.Completed),
			strings.Compare(a.Name, b.Name),
			cmp.Compare(a.MemberID, b.MemberID),
		)
	})
}

// Names returns the names of members in cs.
func Names(cs []Completion) []string {
	names := make([]string, 0, len(cs))
	for _, c := range cs {
		names = append(names, c.Name)
	}
	return names
}
