// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package project

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/pias-project/pias/lib/clock"
	"github.com/pias-project/pias/lib/codec"
	"github.com/pias-project/pias/lib/sqlitepool"
	"github.com/pias-project/pias/solver"
)

const schema = `
CREATE TABLE IF NOT EXISTS edge_labels (
	u          INTEGER NOT NULL,
	v          INTEGER NOT NULL,
	label      INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (u, v)
);

CREATE TABLE IF NOT EXISTS solutions (
	state_id     INTEGER PRIMARY KEY,
	exit_code    INTEGER NOT NULL,
	node_count   INTEGER NOT NULL,
	digest       BLOB,
	assignment   BLOB,
	completed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// StoreConfig configures a project store. Path is required.
type StoreConfig struct {
	// Path is the SQLite database file.
	Path string
	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger
	// Clock stamps label updates. Nil means the real clock.
	Clock clock.Clock
}

// Store is the SQLite-backed project store. It implements
// solver.Persistence and is safe for concurrent use.
type Store struct {
	pool    *sqlitepool.Pool
	logger  *slog.Logger
	clk     clock.Clock
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open opens (or creates) the project database and applies the
// schema. The caller must Close the store.
func Open(cfg StoreConfig) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("project: zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		pool.Close()
		return nil, fmt.Errorf("project: zstd decoder: %w", err)
	}

	return &Store{
		pool:    pool,
		logger:  logger,
		clk:     clk,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.pool.Close()
}

// SaveLabels upserts the given edge labels. Part of
// solver.Persistence.
func (s *Store) SaveLabels(ctx context.Context, edges []solver.Edge, labels []uint64) error {
	if len(edges) != len(labels) {
		return fmt.Errorf("project: got %d edges but %d labels", len(edges), len(labels))
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("project: saving labels: %w", err)
	}
	defer endTx(&err)

	now := s.clk.Now().UnixMilli()
	for i, edge := range edges {
		err = sqlitex.Execute(conn, `
			INSERT INTO edge_labels (u, v, label, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (u, v) DO UPDATE SET label = excluded.label, updated_at = excluded.updated_at
		`, &sqlitex.ExecOptions{
			Args: []any{int64(edge.U), int64(edge.V), int64(labels[i]), now},
		})
		if err != nil {
			return fmt.Errorf("project: saving label for (%d, %d): %w", edge.U, edge.V, err)
		}
	}
	return nil
}

// LoadLabels returns all recorded edge labels ordered by edge. Part
// of solver.Persistence.
func (s *Store) LoadLabels(ctx context.Context) ([]solver.Edge, []uint64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer s.pool.Put(conn)

	var edges []solver.Edge
	var labels []uint64
	err = sqlitex.Execute(conn, `
		SELECT u, v, label FROM edge_labels ORDER BY u, v
	`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			edges = append(edges, solver.Edge{
				U: uint64(stmt.ColumnInt64(0)),
				V: uint64(stmt.ColumnInt64(1)),
			})
			labels = append(labels, uint64(stmt.ColumnInt64(2)))
			return nil
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("project: loading labels: %w", err)
	}
	return edges, labels, nil
}

// assignmentBlob is the compressed payload stored for successful
// passes.
type assignmentBlob struct {
	Nodes       []uint64 `cbor:"nodes"`
	Assignments []uint64 `cbor:"assignments"`
}

// SaveSolution records the outcome of one solver pass. Part of
// solver.Persistence.
func (s *Store) SaveSolution(ctx context.Context, solution *solver.Solution) error {
	var blob []byte
	if solution.ExitCode == solver.ExitSuccess {
		encoded, err := codec.Marshal(assignmentBlob{
			Nodes:       solution.Nodes,
			Assignments: solution.Assignments,
		})
		if err != nil {
			return fmt.Errorf("project: encoding assignment: %w", err)
		}
		blob = s.encoder.EncodeAll(encoded, nil)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT OR REPLACE INTO solutions (state_id, exit_code, node_count, digest, assignment, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, &sqlitex.ExecOptions{
		Args: []any{
			int64(solution.StateID),
			int64(solution.ExitCode),
			int64(len(solution.Nodes)),
			solution.Digest,
			blob,
			solution.CompletedAt.UnixMilli(),
		},
	})
	if err != nil {
		return fmt.Errorf("project: saving solution %d: %w", solution.StateID, err)
	}
	return nil
}

// NextStateID returns the persisted state ID counter, zero for a
// fresh project. Part of solver.Persistence.
func (s *Store) NextStateID(ctx context.Context) (uint64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var value uint64
	err = sqlitex.Execute(conn, `
		SELECT value FROM meta WHERE key = 'next_state_id'
	`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = uint64(stmt.ColumnInt64(0))
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("project: loading state ID: %w", err)
	}
	return value, nil
}

// SetNextStateID persists the state ID counter. Part of
// solver.Persistence.
func (s *Store) SetNextStateID(ctx context.Context, id uint64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO meta (key, value) VALUES ('next_state_id', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, &sqlitex.ExecOptions{
		Args: []any{int64(id)},
	})
	if err != nil {
		return fmt.Errorf("project: saving state ID: %w", err)
	}
	return nil
}

// SolutionSummary is one history entry. Assignments are not included;
// use LoadSolution to recover a full partition.
type SolutionSummary struct {
	StateID     uint64          `cbor:"state_id"`
	ExitCode    solver.ExitCode `cbor:"exit_code"`
	Nodes       int             `cbor:"nodes"`
	Digest      []byte          `cbor:"digest,omitempty"`
	CompletedAt time.Time       `cbor:"completed_at"`
}

// History returns the most recent pass outcomes, newest first. limit
// caps the result; non-positive means no cap.
func (s *Store) History(ctx context.Context, limit int) ([]SolutionSummary, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	query := `
		SELECT state_id, exit_code, node_count, digest, completed_at
		FROM solutions ORDER BY state_id DESC
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var summaries []SolutionSummary
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			summary := SolutionSummary{
				StateID:     uint64(stmt.ColumnInt64(0)),
				ExitCode:    solver.ExitCode(stmt.ColumnInt64(1)),
				Nodes:       int(stmt.ColumnInt64(2)),
				CompletedAt: time.UnixMilli(stmt.ColumnInt64(4)).UTC(),
			}
			if length := stmt.ColumnLen(3); length > 0 {
				summary.Digest = make([]byte, length)
				stmt.ColumnBytes(3, summary.Digest)
			}
			summaries = append(summaries, summary)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("project: loading history: %w", err)
	}
	return summaries, nil
}

// LoadSolution recovers a recorded pass, including the full
// assignment for successful ones. Returns nil when the state ID is
// unknown.
func (s *Store) LoadSolution(ctx context.Context, stateID uint64) (*solver.Solution, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var solution *solver.Solution
	var blob []byte
	err = sqlitex.Execute(conn, `
		SELECT state_id, exit_code, digest, assignment, completed_at
		FROM solutions WHERE state_id = ?
	`, &sqlitex.ExecOptions{
		Args: []any{int64(stateID)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			solution = &solver.Solution{
				StateID:     uint64(stmt.ColumnInt64(0)),
				ExitCode:    solver.ExitCode(stmt.ColumnInt64(1)),
				CompletedAt: time.UnixMilli(stmt.ColumnInt64(4)).UTC(),
			}
			if length := stmt.ColumnLen(2); length > 0 {
				solution.Digest = make([]byte, length)
				stmt.ColumnBytes(2, solution.Digest)
			}
			if length := stmt.ColumnLen(3); length > 0 {
				blob = make([]byte, length)
				stmt.ColumnBytes(3, blob)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("project: loading solution %d: %w", stateID, err)
	}
	if solution == nil || len(blob) == 0 {
		return solution, nil
	}

	encoded, err := s.decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("project: decompressing solution %d: %w", stateID, err)
	}
	var assignment assignmentBlob
	if err := codec.Unmarshal(encoded, &assignment); err != nil {
		return nil, fmt.Errorf("project: decoding solution %d: %w", stateID, err)
	}
	solution.Nodes = assignment.Nodes
	solution.Assignments = assignment.Assignments
	return solution, nil
}

// LatestSuccessful returns the newest successful solution with its
// full assignment, or nil when no pass has succeeded.
func (s *Store) LatestSuccessful(ctx context.Context) (*solver.Solution, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}

	var stateID int64 = -1
	err = sqlitex.Execute(conn, `
		SELECT state_id FROM solutions WHERE exit_code = 0 ORDER BY state_id DESC LIMIT 1
	`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			stateID = stmt.ColumnInt64(0)
			return nil
		},
	})
	s.pool.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("project: loading latest solution: %w", err)
	}
	if stateID < 0 {
		return nil, nil
	}
	return s.LoadSolution(ctx, uint64(stateID))
}
