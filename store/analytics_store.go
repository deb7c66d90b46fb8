package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"edumarket/api/models"
	"edumarket/api/utils"
)

// AnalyticsStore is the ClickHouse warehouse behind the dashboard. Visitor
// pipelines mirror their raw events and conversions into it.
type AnalyticsStore struct {
	conn clickhouse.Conn
}

func NewAnalyticsStore(conn clickhouse.Conn) *AnalyticsStore {
	return &AnalyticsStore{conn: conn}
}

func (s *AnalyticsStore) InsertAnalyticsEvents(ctx context.Context, events []models.AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO analytics_events (
			event_id, event_type, visitor_id, session_id, timestamp, page_path, referrer, user_agent,
			ip_address, duration_ms, country, channel, event_data
		)`)
	if err != nil {
		return fmt.Errorf("failed to prepare event batch: %w", err)
	}

	for _, e := range events {
		err := batch.Append(
			e.EventID, e.EventType, e.VisitorID, e.SessionID, e.Timestamp, e.PagePath, e.Referrer,
			e.UserAgent, e.IPAddress, e.DurationMs, e.Country, string(e.Channel), string(e.EventData),
		)
		if err != nil {
			log.Error().Err(err).Str("event_id", e.EventID).Msg("Error appending event to batch")
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send event batch: %w", err)
	}
	log.Debug().Int("events", len(events)).Msg("Inserted analytics events")
	return nil
}

func (s *AnalyticsStore) InsertConversions(ctx context.Context, rows []models.ConversionRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO conversions (
			conversion_id, visitor_id, session_id, goal_id, goal_type, value, timestamp,
			time_to_convert, touchpoints, attribution_model, segment, source, medium, campaign
		)`)
	if err != nil {
		return fmt.Errorf("failed to prepare conversion batch: %w", err)
	}

	for _, r := range rows {
		err := batch.Append(
			r.ID, r.VisitorID, r.SessionID, r.GoalID, r.GoalType, r.Value, r.Timestamp,
			r.TimeToConvertMs, uint32(r.TouchpointCount), r.AttributionModel, r.Segment,
			r.Source, r.Medium, r.Campaign,
		)
		if err != nil {
			log.Error().Err(err).Str("conversion_id", r.ID).Msg("Error appending conversion to batch")
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send conversion batch: %w", err)
	}
	log.Debug().Int("conversions", len(rows)).Msg("Inserted conversions")
	return nil
}

func (s *AnalyticsStore) GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventTypeFilter string) ([]models.EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	selectCols := fmt.Sprintf("toStartOf%s(timestamp) AS time_bucket, count() AS total_events", interval)
	groupBy := "time_bucket"
	where := "WHERE timestamp >= ? AND timestamp <= ?"
	args := []any{start, end}
	byType := eventTypeFilter != ""
	if byType {
		selectCols += ", event_type"
		groupBy += ", event_type"
		where += " AND event_type = ?"
		args = append(args, eventTypeFilter)
	}

	query := fmt.Sprintf(`SELECT %s FROM analytics_events %s GROUP BY %s ORDER BY %s ASC`, selectCols, where, groupBy, groupBy)
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []models.EventTypeCountByTime
	for rows.Next() {
		var r models.EventTypeCountByTime
		if byType {
			var eventType string
			if err := rows.Scan(&r.Time, &r.Count, &eventType); err != nil {
				log.Error().Err(err).Msg("Error scanning event count row")
				continue
			}
			r.EventType = &eventType
		} else if err := rows.Scan(&r.Time, &r.Count); err != nil {
			log.Error().Err(err).Msg("Error scanning event count row")
			continue
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}
	return results, nil
}

func (s *AnalyticsStore) GetAverageEventDuration(ctx context.Context, eventTypeFilter string, start, end time.Time) (float64, error) {
	query := `SELECT avg(duration_ms) FROM analytics_events WHERE timestamp >= ? AND timestamp <= ?`
	args := []any{start, end}
	if eventTypeFilter != "" {
		query += ` AND event_type = ?`
		args = append(args, eventTypeFilter)
	}
	avg, err := s.scanFloat(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to query average event duration: %w", err)
	}
	return avg, nil
}

func (s *AnalyticsStore) GetAverageCustomEventParameter(ctx context.Context, eventTypeFilter, paramName string, start, end time.Time) (float64, error) {
	if paramName == "" {
		return 0, errors.New("parameter name for average calculation cannot be empty")
	}
	query := `
		SELECT avg(JSONExtractFloat(event_data, ?))
		FROM analytics_events
		WHERE event_type = ? AND timestamp >= ? AND timestamp <= ?`
	avg, err := s.scanFloat(ctx, query, paramName, eventTypeFilter, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to query average of custom event parameter '%s': %w", paramName, err)
	}
	return avg, nil
}

// scanFloat reads a single aggregate. No rows and NaN (avg over nothing)
// both read as zero.
func (s *AnalyticsStore) scanFloat(ctx context.Context, query string, args ...any) (float64, error) {
	var v float64
	if err := s.conn.QueryRow(ctx, query, args...).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	if math.IsNaN(v) {
		return 0, nil
	}
	return v, nil
}

func (s *AnalyticsStore) GetUniqueUsersOverTime(ctx context.Context, interval string, start, end time.Time) ([]models.EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	query := fmt.Sprintf(`
		SELECT toStartOf%s(timestamp) AS time_bucket, uniq(visitor_id) AS unique_users
		FROM analytics_events
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC`, interval)

	rows, err := s.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query unique users over time: %w", err)
	}
	defer rows.Close()

	var results []models.EventTypeCountByTime
	for rows.Next() {
		var r models.EventTypeCountByTime
		if err := rows.Scan(&r.Time, &r.Count); err != nil {
			log.Error().Err(err).Msg("Error scanning unique users row")
			continue
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for unique users: %w", err)
	}
	return results, nil
}

func (s *AnalyticsStore) GetTopNPagePaths(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPathResult, error) {
	if limit == 0 {
		limit = 10
	}

	rows, err := s.conn.Query(ctx, `
		SELECT page_path, count() AS view_count
		FROM analytics_events
		WHERE event_type = 'page_view' AND timestamp >= ? AND timestamp <= ?
		GROUP BY page_path
		ORDER BY view_count DESC
		LIMIT ?`, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top page paths: %w", err)
	}
	defer rows.Close()

	var results []models.TopPathResult
	for rows.Next() {
		var r models.TopPathResult
		if err := rows.Scan(&r.PagePath, &r.Count); err != nil {
			log.Error().Err(err).Msg("Error scanning top page path row")
			continue
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top page paths: %w", err)
	}
	return results, nil
}

// Dashboard aggregates traffic and conversions between start and end.
func (s *AnalyticsStore) Dashboard(ctx context.Context, start, end time.Time) (*models.Dashboard, error) {
	d := &models.Dashboard{Start: start, End: end}

	err := s.conn.QueryRow(ctx, `
		SELECT uniq(visitor_id), uniq(session_id), countIf(event_type = 'page_view')
		FROM analytics_events
		WHERE timestamp >= ? AND timestamp <= ?`, start, end).
		Scan(&d.Visitors, &d.Sessions, &d.PageViews)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query traffic totals: %w", err)
	}

	var converted uint64
	err = s.conn.QueryRow(ctx, `
		SELECT count(), sum(value), uniq(visitor_id)
		FROM conversions
		WHERE timestamp >= ? AND timestamp <= ?`, start, end).
		Scan(&d.Conversions, &d.Revenue, &converted)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query conversion totals: %w", err)
	}
	if d.Visitors > 0 {
		d.ConversionRate = float64(converted) / float64(d.Visitors)
	}

	if d.Channels, err = s.channels(ctx, start, end, ""); err != nil {
		return nil, err
	}
	if d.Goals, err = s.goals(ctx, start, end); err != nil {
		return nil, err
	}
	if d.Segments, err = s.segments(ctx, start, end); err != nil {
		return nil, err
	}
	if d.TopPages, err = s.GetTopNPagePaths(ctx, start, end, 10); err != nil {
		return nil, err
	}
	if d.DailyVisitors, err = s.GetUniqueUsersOverTime(ctx, "Day", start, end); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *AnalyticsStore) channels(ctx context.Context, start, end time.Time, segment string) ([]models.ChannelStat, error) {
	query := `
		SELECT source, medium, count() AS n, sum(value)
		FROM conversions
		WHERE timestamp >= ? AND timestamp <= ?`
	args := []any{start, end}
	if segment != "" {
		query += ` AND segment = ?`
		args = append(args, segment)
	}
	query += ` GROUP BY source, medium ORDER BY n DESC`

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query channel conversions: %w", err)
	}
	defer rows.Close()

	out := []models.ChannelStat{}
	for rows.Next() {
		var c models.ChannelStat
		if err := rows.Scan(&c.Source, &c.Medium, &c.Conversions, &c.Revenue); err != nil {
			log.Error().Err(err).Msg("Error scanning channel row")
			continue
		}
		if c.Source == "" {
			c.Source = "direct"
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *AnalyticsStore) goals(ctx context.Context, start, end time.Time) ([]models.GoalStat, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT goal_id, count() AS n, sum(value)
		FROM conversions
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY goal_id ORDER BY n DESC`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query goal conversions: %w", err)
	}
	defer rows.Close()

	out := []models.GoalStat{}
	for rows.Next() {
		var g models.GoalStat
		if err := rows.Scan(&g.GoalID, &g.Conversions, &g.Value); err != nil {
			log.Error().Err(err).Msg("Error scanning goal row")
			continue
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *AnalyticsStore) segments(ctx context.Context, start, end time.Time) ([]models.SegmentStat, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT segment, count() AS n, sum(value)
		FROM conversions
		WHERE timestamp >= ? AND timestamp <= ? AND segment != ''
		GROUP BY segment ORDER BY n DESC`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query segment conversions: %w", err)
	}
	defer rows.Close()

	out := []models.SegmentStat{}
	for rows.Next() {
		var st models.SegmentStat
		if err := rows.Scan(&st.Segment, &st.Conversions, &st.Revenue); err != nil {
			log.Error().Err(err).Msg("Error scanning segment row")
			continue
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// exportLimit bounds a single export request.
const exportLimit = 10000

// Export returns the rows of one export action. A segment narrows conversions
// and channels to that segment, and events to visitors who converted in it.
func (s *AnalyticsStore) Export(ctx context.Context, action models.ExportAction, start, end time.Time, segment string) (any, int, error) {
	switch action {
	case models.ExportEvents:
		rows, err := s.exportEvents(ctx, start, end, segment)
		return rows, len(rows), err
	case models.ExportConversions:
		rows, err := s.exportConversions(ctx, start, end, segment)
		return rows, len(rows), err
	case models.ExportChannels:
		rows, err := s.channels(ctx, start, end, segment)
		return rows, len(rows), err
	default:
		return nil, 0, fmt.Errorf("unknown export action %q", action)
	}
}

func (s *AnalyticsStore) exportEvents(ctx context.Context, start, end time.Time, segment string) ([]models.AnalyticsEvent, error) {
	var q strings.Builder
	q.WriteString(`
		SELECT event_id, event_type, visitor_id, session_id, timestamp, page_path, referrer,
			user_agent, ip_address, duration_ms, country, channel, event_data
		FROM analytics_events
		WHERE timestamp >= ? AND timestamp <= ?`)
	args := []any{start, end}
	if segment != "" {
		q.WriteString(` AND visitor_id IN (SELECT visitor_id FROM conversions WHERE segment = ?)`)
		args = append(args, segment)
	}
	q.WriteString(` ORDER BY timestamp ASC LIMIT ?`)
	args = append(args, exportLimit)

	rows, err := s.conn.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to export events: %w", err)
	}
	defer rows.Close()

	out := []models.AnalyticsEvent{}
	for rows.Next() {
		var e models.AnalyticsEvent
		var channel, data string
		if err := rows.Scan(&e.EventID, &e.EventType, &e.VisitorID, &e.SessionID, &e.Timestamp, &e.PagePath,
			&e.Referrer, &e.UserAgent, &e.IPAddress, &e.DurationMs, &e.Country, &channel, &data); err != nil {
			log.Error().Err(err).Msg("Error scanning exported event")
			continue
		}
		e.Channel = models.TrafficType(channel)
		if data != "" {
			e.EventData = []byte(data)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *AnalyticsStore) exportConversions(ctx context.Context, start, end time.Time, segment string) ([]models.ConversionRow, error) {
	query := `
		SELECT conversion_id, visitor_id, session_id, goal_id, goal_type, value, timestamp,
			time_to_convert, touchpoints, attribution_model, segment, source, medium, campaign
		FROM conversions
		WHERE timestamp >= ? AND timestamp <= ?`
	args := []any{start, end}
	if segment != "" {
		query += ` AND segment = ?`
		args = append(args, segment)
	}
	query += ` ORDER BY timestamp ASC LIMIT ?`
	args = append(args, exportLimit)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to export conversions: %w", err)
	}
	defer rows.Close()

	out := []models.ConversionRow{}
	for rows.Next() {
		var r models.ConversionRow
		var touchpoints uint32
		if err := rows.Scan(&r.ID, &r.VisitorID, &r.SessionID, &r.GoalID, &r.GoalType, &r.Value, &r.Timestamp,
			&r.TimeToConvertMs, &touchpoints, &r.AttributionModel, &r.Segment, &r.Source, &r.Medium, &r.Campaign); err != nil {
			log.Error().Err(err).Msg("Error scanning exported conversion")
			continue
		}
		r.TouchpointCount = int(touchpoints)
		out = append(out, r)
	}
	return out, rows.Err()
}
