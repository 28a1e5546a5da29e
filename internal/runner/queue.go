package runner

import (
	"followpilot/internal/graph"
	"followpilot/internal/task"
)

// candidateKey identifies a queue entry in the seen set. List imports only
// know usernames until resolution.
func candidateKey(u graph.User) string {
	if u.ID != "" {
		return u.ID
	}
	return "@" + u.Username
}

// dropCandidate removes the first entry matching key.
func dropCandidate(queue []graph.User, key string) []graph.User {
	for i, u := range queue {
		if candidateKey(u) == key {
			out := make([]graph.User, 0, len(queue)-1)
			out = append(out, queue[:i]...)
			return append(out, queue[i+1:]...)
		}
	}
	return queue
}

// enqueue appends unseen candidates that pass accept and marks them seen.
// Once the queue holds task.MaxQueue entries the remaining users are left
// unseen so a later fetch can offer them again; full reports that case.
func enqueue(t *task.Task, users []graph.User, accept Acceptor) (queued int, full bool) {
	seen := task.NewOrderedSet(t.Seen...)
	for _, u := range users {
		if u.ID == "" || seen.Contains(candidateKey(u)) {
			continue
		}
		if len(t.Queue) >= task.MaxQueue {
			full = true
			break
		}
		seen.Add(candidateKey(u))
		if !accept(t.Filters, u) {
			continue
		}
		t.Queue = append(t.Queue, u)
		queued++
	}
	t.Seen = seen.Items()
	return queued, full
}
