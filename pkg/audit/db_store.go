package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/carebridge/pkg/database"
)

// DBStore persists events in the audit_logs table
type DBStore struct {
	db database.Querier
}

// NewDBStore wraps a connection pool
func NewDBStore(db database.Querier) *DBStore {
	return &DBStore{db: db}
}

const eventColumns = `id, user_id, action, resource_type, resource_id, details,
	ip_address, user_agent, risk_level, success, error_message, request_id, timestamp`

// EnsureTable creates the audit_logs table and its indexes
func (s *DBStore) EnsureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id UUID PRIMARY KEY,
		user_id VARCHAR(255),
		action VARCHAR(64) NOT NULL,
		resource_type VARCHAR(64),
		resource_id VARCHAR(255),
		details JSONB NOT NULL DEFAULT '{}',
		ip_address VARCHAR(64),
		user_agent TEXT,
		risk_level VARCHAR(16) NOT NULL,
		success BOOLEAN NOT NULL,
		error_message TEXT,
		request_id VARCHAR(100),
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_risk_timestamp ON audit_logs(risk_level, timestamp);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}
	return nil
}

// Write inserts e
func (s *DBStore) Write(ctx context.Context, e *Event) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	query := `INSERT INTO audit_logs (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.UserID, string(e.Action), e.ResourceType, e.ResourceID, details,
		e.IPAddress, e.UserAgent, string(e.RiskLevel), e.Success, e.ErrorMessage, e.RequestID, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// whereClause renders f as a WHERE clause starting at placeholder 1
func whereClause(f Filter) (string, []interface{}) {
	conds := []string{"1=1"}
	args := []interface{}{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if len(f.Actions) > 0 {
		actions := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			actions[i] = string(a)
		}
		add("action = ANY($%d)", pq.Array(actions))
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", f.ResourceType)
	}
	if f.ResourceID != "" {
		add("resource_id = $%d", f.ResourceID)
	}
	if f.RiskLevel != "" {
		add("risk_level = $%d", string(f.RiskLevel))
	}
	if f.Success != nil {
		add("success = $%d", *f.Success)
	}
	if f.StartTime != nil {
		add("timestamp >= $%d", *f.StartTime)
	}
	if f.EndTime != nil {
		add("timestamp <= $%d", *f.EndTime)
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (s *DBStore) Search(ctx context.Context, f Filter, p Pagination) (*Page, error) {
	p = p.Normalize()
	where, args := whereClause(f)

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count audit logs: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf("SELECT %s FROM audit_logs %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d",
		eventColumns, where, n+1, n+2)
	events, err := s.query(ctx, query, append(args, p.PageSize, p.Offset())...)
	if err != nil {
		return nil, err
	}
	return newPage(events, total, p), nil
}

func (s *DBStore) Stats(ctx context.Context, f Filter) (*Stats, error) {
	stats := newStats()
	where, args := whereClause(f)

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE NOT success),
			COUNT(DISTINCT user_id),
			COUNT(DISTINCT NULLIF(ip_address, ''))
		FROM audit_logs `+where, args...,
	).Scan(&stats.TotalEvents, &stats.FailedEvents, &stats.UniqueUsers, &stats.UniqueIPs)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit totals: %w", err)
	}

	if err := s.groupCount(ctx, "action", where, args, func(k string, n int64) {
		stats.EventsByAction[Action(k)] = n
	}); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, "risk_level", where, args, func(k string, n int64) {
		stats.EventsByRisk[RiskLevel(k)] = n
	}); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *DBStore) groupCount(ctx context.Context, column, where string, args []interface{}, fn func(string, int64)) error {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM audit_logs %s GROUP BY %s", column, where, column), args...)
	if err != nil {
		return fmt.Errorf("failed to get events by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan events by %s: %w", column, err)
		}
		fn(key, count)
	}
	return rows.Err()
}

func (s *DBStore) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM audit_logs
		WHERE timestamp < $1 AND risk_level = ANY($2)
		ORDER BY timestamp ASC LIMIT $3`, eventColumns)
	return s.query(ctx, query, cutoff, pq.Array(retentionEligible), limit)
}

func (s *DBStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_logs WHERE timestamp < $1 AND risk_level IN ('low','medium')", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired audit logs: %w", err)
	}
	return result.RowsAffected()
}

func (s *DBStore) DeleteArchived(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_logs WHERE id = ANY($1) AND risk_level IN ('low','medium')", pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete archived audit logs: %w", err)
	}
	return result.RowsAffected()
}

func (s *DBStore) query(ctx context.Context, query string, args ...interface{}) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var (
		e                                   Event
		userID                              sql.NullString
		resType, resID, ip, ua, errMsg, rid sql.NullString
		action, risk                        string
		details                             []byte
	)
	if err := rows.Scan(&e.ID, &userID, &action, &resType, &resID, &details,
		&ip, &ua, &risk, &e.Success, &errMsg, &rid, &e.Timestamp); err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	e.Action = Action(action)
	e.RiskLevel = RiskLevel(risk)
	if userID.Valid {
		e.UserID = &userID.String
	}
	e.ResourceType, e.ResourceID = resType.String, resID.String
	e.IPAddress, e.UserAgent = ip.String, ua.String
	e.ErrorMessage, e.RequestID = errMsg.String, rid.String

	e.Details = map[string]interface{}{}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
		}
	}
	return &e, nil
}
