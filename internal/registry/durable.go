package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/funkyfirehose/relay/internal/hub"
)

// Record is the persisted form of one hub membership.
type Record struct {
	ID          string
	HubName     string
	Name        string
	Transport   string
	RemoteAddr  string
	ConnectedAt time.Time
}

// Durable records memberships in SQLite in addition to tracking the live
// connections in memory. Live only returns members present in both; rows
// whose connection no longer exists (for example after the process
// restarted) are pruned as they are found.
type Durable struct {
	db   *sql.DB
	live *Memory
}

// NewDurable creates a Durable registry over db, which must have the
// hub_sessions table migrated.
func NewDurable(db *sql.DB, live *Memory) *Durable {
	return &Durable{db: db, live: live}
}

func (d *Durable) Attach(ctx context.Context, hubName string, m hub.Member) error {
	c := m.Conn
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO hub_sessions (id, hub_name, name, transport, remote_addr, connected_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hub_name = excluded.hub_name,
			name = excluded.name`,
		c.ID(), hubName, m.Name, c.Transport(), c.RemoteAddr(), c.ConnectedAt().UTC())
	if err != nil {
		return fmt.Errorf("insert hub session %s: %w", c.ID(), err)
	}
	return d.live.Attach(ctx, hubName, m)
}

func (d *Durable) Detach(ctx context.Context, hubName, connID string) error {
	if err := d.live.Detach(ctx, hubName, connID); err != nil {
		return err
	}
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM hub_sessions WHERE hub_name = ? AND id = ?`, hubName, connID); err != nil {
		return fmt.Errorf("delete hub session %s: %w", connID, err)
	}
	return nil
}

func (d *Durable) Live(ctx context.Context, hubName string) ([]hub.Member, error) {
	records, err := d.Records(ctx, hubName)
	if err != nil {
		return nil, err
	}

	members := make([]hub.Member, 0, len(records))
	var stale []string
	for _, rec := range records {
		m, ok := d.live.Lookup(hubName, rec.ID)
		if !ok {
			stale = append(stale, rec.ID)
			continue
		}
		m.Name = rec.Name
		members = append(members, m)
	}

	for _, id := range stale {
		if _, err := d.db.ExecContext(ctx,
			`DELETE FROM hub_sessions WHERE hub_name = ? AND id = ?`, hubName, id); err != nil {
			return nil, fmt.Errorf("prune hub session %s: %w", id, err)
		}
	}
	if len(stale) > 0 {
		slog.Info("registry: pruned stale sessions",
			slog.String("hub", hubName),
			slog.Int("pruned", len(stale)))
	}
	return members, nil
}

// Records lists the persisted memberships for hubName, oldest first.
func (d *Durable) Records(ctx context.Context, hubName string) ([]Record, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, hub_name, name, transport, remote_addr, connected_at
		FROM hub_sessions
		WHERE hub_name = ?
		ORDER BY connected_at, id`, hubName)
	if err != nil {
		return nil, fmt.Errorf("list hub sessions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.HubName, &rec.Name, &rec.Transport, &rec.RemoteAddr, &rec.ConnectedAt); err != nil {
			return nil, fmt.Errorf("scan hub session: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
