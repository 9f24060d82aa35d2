package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/stupiduntilnot/personarelay/internal/db"
)

// Event is a row from the events table. A relay process writes one
// process.started root and parents every later event directly to it.
type Event struct {
	ID        int64          `json:"id"`
	Timestamp int64          `json:"timestamp"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// processLog is one relay run: its root and the events it recorded.
type processLog struct {
	Process Event          `json:"process"`
	Events  []Event        `json:"events"`
	Counts  map[string]int `json:"counts"`
}

type eventsOptions struct {
	processID int64
	eventType string
	limit     int
	jsonOut   bool
	noPayload bool
}

func newEventsCmd() *cobra.Command {
	var opts eventsOptions
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the events recorded by one relay process",
		Long: `events prints the process.started event of the most recent relay run (or
of --process) followed by the chat.completed, chat.failed and
sessions.swept events it recorded, and a count per event type.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := db.OpenReadOnly(dbPath)
			if err != nil {
				return err
			}
			defer database.Close()
			return runEvents(cmd.OutOrStdout(), database, opts)
		},
	}
	cmd.Flags().Int64Var(&opts.processID, "process", 0, "process.started event ID (default: latest)")
	cmd.Flags().StringVar(&opts.eventType, "type", "", "only show events of this type")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "show only the last n events (0 = all)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "output JSON format")
	cmd.Flags().BoolVar(&opts.noPayload, "no-payload", false, "hide payload details")
	return cmd
}

func runEvents(w io.Writer, database *sql.DB, opts eventsOptions) error {
	rootID := opts.processID
	if rootID == 0 {
		var err error
		if rootID, err = db.LatestProcessRoot(database); err != nil {
			return fmt.Errorf("find process root: %w", err)
		}
		if rootID == 0 {
			return errors.New("no process.started event found")
		}
	}

	pl, err := loadProcessLog(database, rootID, opts.eventType)
	if err != nil {
		return err
	}
	if opts.limit > 0 && len(pl.Events) > opts.limit {
		pl.Events = pl.Events[len(pl.Events)-opts.limit:]
	}
	if opts.noPayload {
		pl.Process.Payload = nil
		for i := range pl.Events {
			pl.Events[i].Payload = nil
		}
	}

	if opts.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(pl)
	}
	printProcessLog(w, pl)
	return nil
}

func loadProcessLog(database *sql.DB, rootID int64, eventType string) (*processLog, error) {
	root, err := scanEvent(database.QueryRow(
		`SELECT id, timestamp, event_type, payload FROM events WHERE id = ?`, rootID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %d not found", rootID)
	}
	if err != nil {
		return nil, fmt.Errorf("load event %d: %w", rootID, err)
	}
	if root.EventType != db.EventProcessStarted {
		return nil, fmt.Errorf("event %d is %s, not %s", rootID, root.EventType, db.EventProcessStarted)
	}

	rows, err := database.Query(
		`SELECT id, timestamp, event_type, payload FROM events
		 WHERE parent_id = ? AND (? = '' OR event_type = ?)
		 ORDER BY id ASC`,
		rootID, eventType, eventType,
	)
	if err != nil {
		return nil, fmt.Errorf("query process events: %w", err)
	}
	defer rows.Close()

	pl := &processLog{Process: root, Events: []Event{}, Counts: map[string]int{}}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		pl.Events = append(pl.Events, ev)
		pl.Counts[ev.EventType]++
	}
	return pl, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var (
		ev      Event
		payload sql.NullString
	)
	if err := row.Scan(&ev.ID, &ev.Timestamp, &ev.EventType, &payload); err != nil {
		return Event{}, err
	}
	if payload.Valid && payload.String != "" {
		// Unparseable payloads are shown without fields.
		_ = json.Unmarshal([]byte(payload.String), &ev.Payload)
	}
	return ev, nil
}

func printProcessLog(w io.Writer, pl *processLog) {
	fmt.Fprintln(w, formatEvent(pl.Process))
	for _, ev := range pl.Events {
		fmt.Fprintln(w, "  "+formatEvent(ev))
	}

	types := make([]string, 0, len(pl.Counts))
	for t := range pl.Counts {
		types = append(types, t)
	}
	sort.Strings(types)
	summary := make([]string, 0, len(types))
	for _, t := range types {
		summary = append(summary, fmt.Sprintf("%s=%d", t, pl.Counts[t]))
	}
	if len(summary) == 0 {
		summary = append(summary, "no events")
	}
	fmt.Fprintln(w, "total: "+strings.Join(summary, " "))
}

// formatEvent renders one line: [id] timestamp  event_type  key=value ...
func formatEvent(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s  %s", ev.ID, time.Unix(ev.Timestamp, 0).UTC().Format(time.DateTime), ev.EventType)

	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s=%s", k, payloadValue(ev.Payload[k]))
	}
	return b.String()
}

// payloadValue prints JSON numbers without a fraction when integral and
// quotes long strings cut to 80 bytes.
func payloadValue(v any) string {
	switch val := v.(type) {
	case string:
		if len(val) > 80 {
			return fmt.Sprintf("%q", val[:80]+"...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
