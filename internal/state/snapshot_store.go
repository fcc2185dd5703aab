/*

This file contains persistence for health snapshot history. One row per
account per monitor poll, with the per-protocol positions stored as JSONB.

*/

package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmccharlie/opbutler/internal/types"
)

// SaveSnapshot appends one health snapshot.
func (s *Store) SaveSnapshot(snapshot types.HealthSnapshot) error {
	if s.db == nil {
		return ErrNotInitialized
	}

	positionsJSON, err := json.Marshal(snapshot.Positions)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot positions: %w", err)
	}

	stmt := `
		INSERT INTO health_snapshots (account, snapshot_timestamp, score, positions)
		VALUES ($1, $2, $3, $4);`

	if _, err := s.db.Exec(stmt, snapshot.Account, snapshot.Timestamp, snapshot.Score, positionsJSON); err != nil {
		return fmt.Errorf("failed to save health snapshot for %s: %w", snapshot.Account, err)
	}
	return nil
}

// ListSnapshots returns the most recent snapshots for one account, newest
// first, up to limit rows.
func (s *Store) ListSnapshots(account string, limit int) ([]types.HealthSnapshot, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = 100
	}

	stmt := `
		SELECT account, snapshot_timestamp, score, positions
		FROM health_snapshots
		WHERE account = $1
		ORDER BY snapshot_timestamp DESC
		LIMIT $2;`

	rows, err := s.db.Query(stmt, account, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots for %s: %w", account, err)
	}
	defer rows.Close()

	var snapshots []types.HealthSnapshot
	for rows.Next() {
		var snapshot types.HealthSnapshot
		var ts time.Time
		var positionsJSON []byte
		if err := rows.Scan(&snapshot.Account, &ts, &snapshot.Score, &positionsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		snapshot.Timestamp = ts
		if len(positionsJSON) > 0 {
			if err := json.Unmarshal(positionsJSON, &snapshot.Positions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal snapshot positions: %w", err)
			}
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshot rows: %w", err)
	}
	return snapshots, nil
}
