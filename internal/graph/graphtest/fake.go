// Package graphtest provides a scriptable in-memory graph.Client.
package graphtest

import (
	"context"
	"sync"
	"time"

	"followpilot/internal/graph"
)

// Fake implements graph.Client. Each *Func hook overrides the default
// behavior; calls are counted by method name.
type Fake struct {
	mu sync.Mutex

	ResolveAccountFunc       func(handle string) (graph.User, error)
	FetchConnectionsFunc     func(accountID string, edge graph.Edge, pageSize int, cursor string) (graph.Page, error)
	ResolveMediaIDFunc       func(shortCode string) (string, error)
	FetchPostLikersFunc      func(mediaID string) ([]graph.User, error)
	FetchCommentsFunc        func(shortCode string, pageSize int, cursor string) (graph.Page, error)
	FollowFunc               func(targetID string) (graph.FollowResult, error)
	UnfollowFunc             func(targetID string) error
	ResolveReciprocatorsFunc func(accountID string, since time.Time) ([]string, error)

	calls      map[string]int
	followed   []string
	unfollowed []string
}

var _ graph.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{calls: make(map[string]int)}
}

func (f *Fake) count(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

// Calls returns how often the named method was invoked.
func (f *Fake) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// Followed lists target ids with a successful Follow, in call order.
func (f *Fake) Followed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.followed...)
}

// Unfollowed lists target ids with a successful Unfollow, in call order.
func (f *Fake) Unfollowed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unfollowed...)
}

func (f *Fake) ResolveAccount(_ context.Context, handle string) (graph.User, error) {
	f.count("ResolveAccount")
	if f.ResolveAccountFunc != nil {
		return f.ResolveAccountFunc(handle)
	}
	return graph.User{ID: "id-" + handle, Username: handle}, nil
}

func (f *Fake) FetchConnectionsPage(_ context.Context, accountID string, edge graph.Edge, pageSize int, cursor string) (graph.Page, error) {
	f.count("FetchConnectionsPage")
	if f.FetchConnectionsFunc != nil {
		return f.FetchConnectionsFunc(accountID, edge, pageSize, cursor)
	}
	return graph.Page{}, nil
}

func (f *Fake) ResolveMediaID(_ context.Context, shortCode string) (string, error) {
	f.count("ResolveMediaID")
	if f.ResolveMediaIDFunc != nil {
		return f.ResolveMediaIDFunc(shortCode)
	}
	return "media-" + shortCode, nil
}

func (f *Fake) FetchPostLikers(_ context.Context, mediaID string) ([]graph.User, error) {
	f.count("FetchPostLikers")
	if f.FetchPostLikersFunc != nil {
		return f.FetchPostLikersFunc(mediaID)
	}
	return nil, nil
}

func (f *Fake) FetchPostCommentsPage(_ context.Context, shortCode string, pageSize int, cursor string) (graph.Page, error) {
	f.count("FetchPostCommentsPage")
	if f.FetchCommentsFunc != nil {
		return f.FetchCommentsFunc(shortCode, pageSize, cursor)
	}
	return graph.Page{}, nil
}

func (f *Fake) Follow(_ context.Context, targetID string) (graph.FollowResult, error) {
	f.count("Follow")
	res := graph.FollowResult{Tag: graph.TagFollowed}
	if f.FollowFunc != nil {
		var err error
		if res, err = f.FollowFunc(targetID); err != nil {
			return res, err
		}
	}
	f.mu.Lock()
	f.followed = append(f.followed, targetID)
	f.mu.Unlock()
	return res, nil
}

func (f *Fake) Unfollow(_ context.Context, targetID string) error {
	f.count("Unfollow")
	if f.UnfollowFunc != nil {
		if err := f.UnfollowFunc(targetID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.unfollowed = append(f.unfollowed, targetID)
	f.mu.Unlock()
	return nil
}

func (f *Fake) ResolveReciprocators(_ context.Context, accountID string, since time.Time) ([]string, error) {
	f.count("ResolveReciprocators")
	if f.ResolveReciprocatorsFunc != nil {
		return f.ResolveReciprocatorsFunc(accountID, since)
	}
	return nil, nil
}
