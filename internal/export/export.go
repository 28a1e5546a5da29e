// Package export packs a task into a zip: the task document and its follow
// audit trail as CSV, one archive per task.
package export

import (
	"archive/zip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"followpilot/internal/task"
)

const (
	taskEntry     = "task.json"
	followedEntry = "followed.csv"
	cleanedEntry  = "cleaned.txt"
)

var followedHeader = []string{
	"at", "target_id", "username", "full_name", "follower_count", "following_count", "outcome",
}

// Filename is the suggested download name for a task export.
func Filename(t *task.Task) string {
	return fmt.Sprintf("task-%s.zip", t.ID)
}

// Write streams the export of doc, which is either a *task.Task or a
// *task.StoppedTask, into w. t supplies the shared task fields.
func Write(w io.Writer, t *task.Task, doc any, modified time.Time) error {
	zipWriter := zip.NewWriter(w)

	entries := []struct {
		name  string
		write func(io.Writer) error
	}{
		{taskEntry, func(out io.Writer) error { return writeJSON(out, doc) }},
		{followedEntry, func(out io.Writer) error { return writeFollowed(out, t.FollowedUsers) }},
		{cleanedEntry, func(out io.Writer) error { return writeLines(out, t.CleanedUserIDs) }},
	}
	for _, e := range entries {
		entryWriter, err := zipWriter.CreateHeader(&zip.FileHeader{
			Name:     e.name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			_ = zipWriter.Close()
			return fmt.Errorf("zip entry %s: %w", e.name, err)
		}
		if err := e.write(entryWriter); err != nil {
			_ = zipWriter.Close()
			return fmt.Errorf("write %s: %w", e.name, err)
		}
	}

	if err := zipWriter.Close(); err != nil {
		log.Error().Str("task_id", t.ID).Err(err).Msg("closing zip writer failed")
		return fmt.Errorf("close zip writer: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, doc any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func writeFollowed(w io.Writer, records []task.FollowRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(followedHeader); err != nil {
		return err
	}
	// oldest first reads naturally in a spreadsheet
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		row := []string{
			r.At.UTC().Format(time.RFC3339),
			r.TargetID,
			r.Username,
			r.FullName,
			strconv.Itoa(r.FollowerCount),
			strconv.Itoa(r.FollowingCount),
			r.Outcome,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeLines(w io.Writer, lines []string) error {
	for _, l := range lines {
		if _, err := io.WriteString(w, l+"\n"); err != nil {
			return err
		}
	}
	return nil
}
