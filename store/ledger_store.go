package store

import (
	"context"
	"fmt"
	"time"

	"mabletask/agent/database"
	"mabletask/agent/logger"
	"mabletask/agent/models"
	"mabletask/agent/utils"
)

// LedgerStore keeps a ClickHouse copy of every envelope the bridge delivered.
type LedgerStore struct {
	DB  *database.ClickHouseClient
	log logger.Logger
}

// EventTypeCountByTime is one bucket of the event count series.
type EventTypeCountByTime struct {
	Time      time.Time `json:"time"`
	EventType *string   `json:"eventType,omitempty"`
	Count     uint64    `json:"count"`
}

func NewLedgerStore(chClient *database.ClickHouseClient, log logger.Logger) *LedgerStore {
	return &LedgerStore{DB: chClient, log: log}
}

// InsertRecords batch-inserts ledger rows.
func (s *LedgerStore) InsertRecords(ctx context.Context, records []models.LedgerRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO agent_envelopes (
			event_id, organization_id, event_type, event_source, click_id, session_id,
			timestamp, page_path, page_type, referrer, transport, dedupe_key, event_data
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, r := range records {
		err := batch.Append(
			r.EventID,
			r.OrganizationID,
			r.EventType,
			r.EventSource,
			r.ClickID,
			r.SessionID,
			r.Timestamp,
			r.PagePath,
			r.PageType,
			r.Referrer,
			r.Transport,
			r.DedupeKey,
			string(r.EventData),
		)
		if err != nil {
			s.log.Warn("Error appending ledger record to batch", logger.String("event_id", r.EventID), logger.Error(err))
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// GetEventCountsOverTime buckets envelope counts by interval for one organization.
func (s *LedgerStore) GetEventCountsOverTime(ctx context.Context, orgID, interval string, start, end time.Time, eventTypeFilter string) ([]EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	args := []interface{}{orgID, start, end}
	selectCols := fmt.Sprintf("toStartOf%s(timestamp) as time_bucket, count() as total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE organization_id = ? AND timestamp >= ? AND timestamp <= ?"
	orderByCols := "time_bucket ASC"
	isFilteringByType := eventTypeFilter != ""

	if isFilteringByType {
		selectCols += ", event_type"
		groupByCols += ", event_type"
		whereClause += " AND event_type = ?"
		args = append(args, eventTypeFilter)
		orderByCols += ", event_type ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM agent_envelopes
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []EventTypeCountByTime
	for rows.Next() {
		var (
			bucket    time.Time
			count     uint64
			eventType string
			current   EventTypeCountByTime
		)
		if isFilteringByType {
			if err := rows.Scan(&bucket, &count, &eventType); err != nil {
				s.log.Warn("Error scanning row for event counts over time", logger.Error(err))
				continue
			}
			current.EventType = &eventType
		} else if err := rows.Scan(&bucket, &count); err != nil {
			s.log.Warn("Error scanning row for event counts over time", logger.Error(err))
			continue
		}
		current.Time = bucket
		current.Count = count
		results = append(results, current)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}
	return results, nil
}

// GetTopPagePaths returns the most viewed paths for one organization.
func (s *LedgerStore) GetTopPagePaths(ctx context.Context, orgID string, start, end time.Time, limit uint64) ([]models.TopPathResult, error) {
	if limit == 0 {
		limit = 10
	}

	rows, err := s.DB.Conn.Query(ctx, `
		SELECT page_path, any(page_type), count() as view_count
		FROM agent_envelopes
		WHERE organization_id = ? AND event_type = 'page_view' AND timestamp >= ? AND timestamp <= ?
		GROUP BY page_path
		ORDER BY view_count DESC
		LIMIT ?
	`, orgID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top page paths: %w", err)
	}
	defer rows.Close()

	var results []models.TopPathResult
	for rows.Next() {
		var r models.TopPathResult
		if err := rows.Scan(&r.PagePath, &r.PageType, &r.Count); err != nil {
			s.log.Warn("Error scanning row for top page paths", logger.Error(err))
			continue
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top page paths: %w", err)
	}
	return results, nil
}
