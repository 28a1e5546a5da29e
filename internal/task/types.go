package task

import (
	"encoding/json"
	"time"

	"followpilot/internal/graph"
)

// Type selects the candidate source strategy. Immutable after creation.
type Type string

const (
	TypeAccountConnections Type = "account-connections"
	TypePostEngagers       Type = "post-engagers"
	TypeListImport         Type = "list-import"
)

func (t Type) Valid() bool {
	switch t {
	case TypeAccountConnections, TypePostEngagers, TypeListImport:
		return true
	}
	return false
}

type Status string

const (
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
)

type StopReason string

const (
	StopCompleted  StopReason = "completed"
	StopNoProgress StopReason = "no_progress"
	StopManual     StopReason = "manual"
)

func (r StopReason) Valid() bool {
	return r == StopCompleted || r == StopNoProgress || r == StopManual
}

const (
	MaxFollowedRecords = 200
	MaxQueue           = 5000
	MaxSeen            = 20000
)

// FollowRecord is one audit entry for an attempted follow.
type FollowRecord struct {
	TargetID       string    `json:"target_id"`
	Username       string    `json:"username,omitempty"`
	FullName       string    `json:"full_name,omitempty"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	FollowerCount  int       `json:"follower_count"`
	FollowingCount int       `json:"following_count"`
	Outcome        string    `json:"outcome"`
	At             time.Time `json:"at"`
}

// Succeeded reports whether the record represents an accepted follow.
func (r FollowRecord) Succeeded() bool {
	return r.Outcome == graph.TagFollowed || r.Outcome == graph.TagRequested
}

// Task is one bulk-follow job with its resumable strategy state.
type Task struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Status      Status          `json:"status"`
	SourceInput string          `json:"source_input"`
	Filters     json.RawMessage `json:"filters,omitempty"`
	// Total is an estimate revised by pagination; Progress may exceed it.
	Progress  int       `json:"progress"`
	Total     int       `json:"total"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// account-connections
	Edge            graph.Edge `json:"edge,omitempty"`
	SourceAccountID string     `json:"source_account_id,omitempty"`
	PageFetched     bool       `json:"page_fetched,omitempty"`
	HasNextPage     bool       `json:"has_next_page,omitempty"`

	// post-engagers
	ShortCode       string `json:"short_code,omitempty"`
	MediaID         string `json:"media_id,omitempty"`
	IncludeLikers   bool   `json:"include_likers,omitempty"`
	IncludeComments bool   `json:"include_comments,omitempty"`
	LikersDone      bool   `json:"likers_done,omitempty"`
	CommentsDone    bool   `json:"comments_done,omitempty"`

	// Cursor is the pagination token of whichever paginated source is active.
	Cursor string `json:"cursor,omitempty"`

	// Queue holds candidates not yet attempted; list imports carry only usernames.
	Queue []graph.User `json:"queue,omitempty"`
	Seen  []string     `json:"seen,omitempty"`

	FollowedUsers     []FollowRecord `json:"followed_users,omitempty"`
	FollowedCount     int            `json:"followed_count"`
	FollowedBackCount int            `json:"followed_back_count"`
	CleanedCount      int            `json:"cleaned_count"`
	CleanedUserIDs    []string       `json:"cleaned_user_ids,omitempty"`
}

// StoppedTask is an archived task snapshot.
type StoppedTask struct {
	Task
	StoppedAt  time.Time  `json:"stopped_at"`
	StopReason StopReason `json:"stop_reason"`
}

// Snapshot is the read-only view handed to observers.
type Snapshot struct {
	Active  []*Task        `json:"active"`
	Stopped []*StoppedTask `json:"stopped"`
}

// RecordAction prepends rec to the audit trail, keeping the newest entries.
func (t *Task) RecordAction(rec FollowRecord) {
	records := make([]FollowRecord, 0, len(t.FollowedUsers)+1)
	records = append(records, rec)
	records = append(records, t.FollowedUsers...)
	if len(records) > MaxFollowedRecords {
		records = records[:MaxFollowedRecords]
	}
	t.FollowedUsers = records
}

// FollowedTargetIDs returns distinct ids of successfully followed targets,
// most recent first.
func (t *Task) FollowedTargetIDs() []string {
	set := NewOrderedSet()
	for _, rec := range t.FollowedUsers {
		if rec.Succeeded() && rec.TargetID != "" {
			set.Add(rec.TargetID)
		}
	}
	return set.Items()
}

// clampCollections caps the unbounded lists before every write.
func (t *Task) clampCollections() {
	if len(t.Queue) > MaxQueue {
		t.Queue = t.Queue[:MaxQueue]
	}
	if len(t.Seen) > MaxSeen {
		t.Seen = t.Seen[len(t.Seen)-MaxSeen:]
	}
	if len(t.FollowedUsers) > MaxFollowedRecords {
		t.FollowedUsers = t.FollowedUsers[:MaxFollowedRecords]
	}
}

// Clone returns a deep copy so callers can mutate snapshots freely.
func (t *Task) Clone() *Task {
	c := *t
	c.Filters = append(json.RawMessage(nil), t.Filters...)
	c.Queue = append([]graph.User(nil), t.Queue...)
	c.Seen = append([]string(nil), t.Seen...)
	c.FollowedUsers = append([]FollowRecord(nil), t.FollowedUsers...)
	c.CleanedUserIDs = append([]string(nil), t.CleanedUserIDs...)
	return &c
}
