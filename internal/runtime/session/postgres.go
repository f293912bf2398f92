// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema 会话表结构；(thread_id, seq) 唯一保证只追加
const PostgresSchema = `CREATE TABLE IF NOT EXISTS agent_threads (
	thread_id  TEXT        NOT NULL,
	seq        INTEGER     NOT NULL,
	role       TEXT        NOT NULL,
	content    TEXT        NOT NULL,
	tool       TEXT        NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (thread_id, seq)
)`

// PostgresStore PostgreSQL 实现
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 创建连接池、探活并建表
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, PostgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create agent_threads: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Load 实现 Store
func (s *PostgresStore) Load(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, content, tool, created_at FROM agent_threads WHERE thread_id = $1 ORDER BY seq`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.Tool, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Append 实现 Store；在事务内按当前最大 seq 续号
func (s *PostgresStore) Append(ctx context.Context, threadID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var next int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM agent_threads WHERE thread_id = $1`, threadID).Scan(&next); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for i, m := range msgs {
			batch.Queue(
				`INSERT INTO agent_threads (thread_id, seq, role, content, tool, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
				threadID, next+i, m.Role, m.Content, m.Tool, m.CreatedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// Close 实现 Store
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
