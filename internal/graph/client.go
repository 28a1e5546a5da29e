// Package graph is the capability boundary to the social network: account and
// post lookups, paginated candidate sources, and the follow/unfollow actions.
package graph

import (
	"context"
	"time"
)

// Edge selects which side of an account's connections to page through.
type Edge string

const (
	EdgeFollowers Edge = "followers"
	EdgeFollowing Edge = "following"
)

func (e Edge) Valid() bool {
	return e == EdgeFollowers || e == EdgeFollowing
}

// User is a candidate or target account as reported by the network.
type User struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	FullName       string `json:"full_name,omitempty"`
	AvatarURL      string `json:"avatar_url,omitempty"`
	FollowerCount  int    `json:"follower_count,omitempty"`
	FollowingCount int    `json:"following_count,omitempty"`
	IsPrivate      bool   `json:"is_private,omitempty"`
}

// Page is one slice of a cursor-paginated source. Count is the source's
// reported total size and may change between pages.
type Page struct {
	Items       []User `json:"items"`
	Count       int    `json:"count"`
	EndCursor   string `json:"end_cursor"`
	HasNextPage bool   `json:"has_next_page"`
}

// Follow result tags recorded in the audit trail.
const (
	TagFollowed  = "followed"
	TagRequested = "requested"
)

type FollowResult struct {
	Tag string `json:"result"`
}

// Client is implemented by the transport that talks to the network.
// Every failure, including non-success responses, is an error return.
type Client interface {
	ResolveAccount(ctx context.Context, handle string) (User, error)
	FetchConnectionsPage(ctx context.Context, accountID string, edge Edge, pageSize int, cursor string) (Page, error)
	ResolveMediaID(ctx context.Context, shortCode string) (string, error)
	FetchPostLikers(ctx context.Context, mediaID string) ([]User, error)
	FetchPostCommentsPage(ctx context.Context, shortCode string, pageSize int, cursor string) (Page, error)
	Follow(ctx context.Context, targetID string) (FollowResult, error)
	Unfollow(ctx context.Context, targetID string) error
	// ResolveReciprocators returns ids of accounts that followed accountID since the given time.
	ResolveReciprocators(ctx context.Context, accountID string, since time.Time) ([]string, error)
}
