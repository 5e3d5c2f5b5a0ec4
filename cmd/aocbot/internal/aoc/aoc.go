// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package aoc implements a client for Advent of Code private leaderboards.
package aoc

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.astrophena.name/aocbot/internal/request"
	"go.astrophena.name/aocbot/internal/util/syncx"

	"golang.org/x/sync/singleflight"
)

// DefaultBaseURL is the address of Advent of Code website.
const DefaultBaseURL = "https://adventofcode.com"

// DefaultMinInterval is the minimum time between two requests for the same
// leaderboard. Advent of Code asks automated tools to not poll private
// leaderboards more often than once every 15 minutes.
const DefaultMinInterval = 15 * time.Minute

// cacheSlack is subtracted from the minimum interval when deciding whether a
// cached leaderboard is fresh, so checks scheduled exactly MinInterval apart
// always fetch.
const cacheSlack = time.Minute

// ErrInvalidSession is returned when Advent of Code refuses the session token.
var ErrInvalidSession = errors.New("session token is invalid or expired")

// Leaderboard is a private leaderboard as returned by Advent of Code.
type Leaderboard struct {
	Members map[string]*Member `json:"members"`
	Event   string             `json:"event"`
	OwnerID int64              `json:"owner_id"`
	Day1TS  int64              `json:"day1_ts,omitempty"`
}

// Member is a leaderboard participant.
type Member struct {
	ID                 int64                       `json:"id"`
	Name               *string                     `json:"name"`
	LocalScore         int                         `json:"local_score"`
	GlobalScore        int                         `json:"global_score"`
	Stars              int                         `json:"stars"`
	LastStarTS         int64                       `json:"last_star_ts"`
	CompletionDayLevel map[string]map[string]*Star `json:"completion_day_level"`
}

// Star records when a part of a day's puzzle was solved.
type Star struct {
	GetStarTS int64 `json:"get_star_ts"`
	StarIndex int64 `json:"star_index"`
}

// DisplayName returns the member's name, or the placeholder Advent of Code
// uses for anonymous users.
func (m *Member) DisplayName() string {
	if m.Name != nil && *m.Name != "" {
		return *m.Name
	}
	return "(anonymous user #" + strconv.FormatInt(m.ID, 10) + ")"
}

// Sorted returns members ordered by local score, highest first. Ties are
// broken by stars, then by name and ID, so the order is stable between runs.
func (lb *Leaderboard) Sorted() []*Member {
	if lb == nil {
		return nil
	}
	members := make([]*Member, 0, len(lb.Members))
	for _, m := range lb.Members {
		members = append(members, m)
	}
	slices.SortFunc(members, func(a, b *Member) int {
		return cmp.Or(
			cmp.Compare(b.LocalScore, a.LocalScore),
			cmp.Compare(b.Stars, a.Stars),
			strings.Compare(a.DisplayName(), b.DisplayName()),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return members
}

// Standing is a member's position on the leaderboard.
type Standing struct {
	Position   int    `json:"position"`
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	LocalScore int    `json:"local_score"`
	Stars      int    `json:"stars"`
}

// Ranked returns the standings of all members, ordered as [Leaderboard.Sorted].
func (lb *Leaderboard) Ranked() []Standing {
	sorted := lb.Sorted()
	standings := make([]Standing, 0, len(sorted))
	for i, m := range sorted {
		standings = append(standings, Standing{
			Position:   i + 1,
			ID:         m.ID,
			Name:       m.DisplayName(),
			LocalScore: m.LocalScore,
			Stars:      m.Stars,
		})
	}
	return standings
}

// Snapshot is a leaderboard stored after a completion check.
type Snapshot struct {
	Leaderboard
	LastSync time.Time `json:"lastSync"`
}

// Client fetches private leaderboards.
type Client struct {
	// SessionToken is the value of the "session" cookie of a logged in user
	// that has access to the leaderboard.
	SessionToken string
	// BaseURL overrides DefaultBaseURL.
	BaseURL string
	// HTTPClient is an optional HTTP client. Redirects are never followed.
	HTTPClient *http.Client
	// MinInterval overrides DefaultMinInterval. Negative value disables
	// caching, but concurrent calls still share a request.
	MinInterval time.Duration
	// Now acts as time.Now, but can be mocked for testing.
	Now func() time.Time

	cache    syncx.Lazy[*syncx.Protected[map[string]cached]]
	inflight singleflight.Group
}

type cached struct {
	lb        *Leaderboard
	fetchedAt time.Time
}

// Leaderboard fetches the private leaderboard id of the given year.
//
// Responses are cached for a bit less than [Client.MinInterval], counting from
// the moment the request was sent. Concurrent calls for the same leaderboard
// share a single request. Callers must treat the returned leaderboard as
// read-only.
func (c *Client) Leaderboard(ctx context.Context, year int, id string) (*Leaderboard, error) {
	if c.SessionToken == "" {
		return nil, errors.New("aoc: session token is empty")
	}
	if id == "" {
		return nil, errors.New("aoc: leaderboard ID is empty")
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	minInterval := cmp.Or(c.MinInterval, DefaultMinInterval)
	key := strconv.Itoa(year) + "/" + id
	cache := c.cache.Get(func() *syncx.Protected[map[string]cached] {
		return syncx.Protect(make(map[string]cached))
	})
	fresh := func() *Leaderboard {
		if minInterval <= 0 {
			return nil
		}
		var hit *Leaderboard
		cache.RAccess(func(m map[string]cached) {
			if e, ok := m[key]; ok && now().Sub(e.fetchedAt) < freshFor(minInterval) {
				hit = e.lb
			}
		})
		return hit
	}

	if lb := fresh(); lb != nil {
		return lb, nil
	}

	v, err, _ := c.inflight.Do(key, func() (any, error) {
		// A flight that finished just before this one started may have
		// filled the cache.
		if lb := fresh(); lb != nil {
			return lb, nil
		}
		start := now()
		lb, err := c.fetch(ctx, year, id, key)
		if err != nil {
			return nil, err
		}
		if minInterval > 0 {
			cache.Access(func(m map[string]cached) {
				m[key] = cached{lb: lb, fetchedAt: start}
			})
		}
		return lb, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Leaderboard), nil
}

// freshFor returns how long a cached leaderboard is served for.
func freshFor(minInterval time.Duration) time.Duration {
	return minInterval - min(cacheSlack, minInterval/4)
}

func (c *Client) fetch(ctx context.Context, year int, id, key string) (*Leaderboard, error) {
	lb, err := request.Make[*Leaderboard](ctx, request.Params{
		Method: http.MethodGet,
		URL:    fmt.Sprintf("%s/%d/leaderboard/private/view/%s.json", cmp.Or(c.BaseURL, DefaultBaseURL), year, id),
		Headers: map[string]string{
			"Cookie": "session=" + c.SessionToken,
		},
		HTTPClient: c.httpClient(),
		Scrubber:   strings.NewReplacer(c.SessionToken, "[EXPUNGED]"),
	})
	if err != nil {
		var statusErr *request.StatusError
		if errors.As(err, &statusErr) && isRedirect(statusErr.StatusCode) {
			return nil, fmt.Errorf("fetching leaderboard %s: %w", key, ErrInvalidSession)
		}
		return nil, fmt.Errorf("fetching leaderboard %s: %w", key, err)
	}
	if lb == nil {
		return nil, fmt.Errorf("fetching leaderboard %s: empty response", key)
	}
	if lb.Members == nil {
		lb.Members = make(map[string]*Member)
	}
	return lb, nil
}

func isRedirect(code int) bool {
	return code >= 300 && code < 400
}

func (c *Client) httpClient() *http.Client {
	base := c.HTTPClient
	if base == nil {
		base = request.DefaultClient
	}
	// Advent of Code redirects to the leaderboard page when the session is
	// invalid, so don't follow redirects and report the status code instead.
	hc := *base
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &hc
}
