package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/internal/types"
)

// CountByDomain aggregates issue counts per classified domain within the
// submission window. Unclassified issues are not counted.
func (s *SQLiteStorage) CountByDomain(ctx context.Context, cityID string, since, until time.Time) ([]storage.DomainCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT json_extract(classification, '$.domain') AS domain, COUNT(*) AS n
		FROM issues
		WHERE city_id = ? AND submitted_at >= ? AND submitted_at < ?
		  AND classification IS NOT NULL
		GROUP BY domain ORDER BY n DESC`, cityID, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to count by domain for %s: %w", cityID, err)
	}
	defer rows.Close()

	var counts []storage.DomainCount
	for rows.Next() {
		var c storage.DomainCount
		if err := rows.Scan(&c.Domain, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan domain count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// CountByArea aggregates issue counts per reported area within the
// submission window. Issues without an area tag are not counted.
func (s *SQLiteStorage) CountByArea(ctx context.Context, cityID string, since, until time.Time) ([]storage.AreaCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT json_extract(location, '$.area') AS area, COUNT(*) AS n
		FROM issues
		WHERE city_id = ? AND submitted_at >= ? AND submitted_at < ?
		  AND json_extract(location, '$.area') IS NOT NULL
		  AND json_extract(location, '$.area') != ''
		GROUP BY area ORDER BY n DESC`, cityID, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to count by area for %s: %w", cityID, err)
	}
	defer rows.Close()

	var counts []storage.AreaCount
	for rows.Next() {
		var c storage.AreaCount
		if err := rows.Scan(&c.Area, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan area count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// CountByDomainArea aggregates counts and mean severity per (domain,
// area) pair within the submission window. Issues without an area land
// in the empty bucket; AVG skips issues that were never scored.
func (s *SQLiteStorage) CountByDomainArea(ctx context.Context, cityID string, since, until time.Time) ([]storage.DomainAreaStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT json_extract(classification, '$.domain') AS domain,
		       COALESCE(json_extract(location, '$.area'), '') AS area,
		       COUNT(*) AS n,
		       COALESCE(AVG(json_extract(priority, '$.severity')), 0) AS avg_severity
		FROM issues
		WHERE city_id = ? AND submitted_at >= ? AND submitted_at < ?
		  AND classification IS NOT NULL
		GROUP BY domain, area ORDER BY n DESC`, cityID, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to count by domain and area for %s: %w", cityID, err)
	}
	defer rows.Close()

	var stats []storage.DomainAreaStat
	for rows.Next() {
		var stat storage.DomainAreaStat
		if err := rows.Scan(&stat.Domain, &stat.Area, &stat.Count, &stat.AvgSeverity); err != nil {
			return nil, fmt.Errorf("failed to scan domain-area stat: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// ResolutionStats aggregates resolution times per domain over issues
// resolved in the window
func (s *SQLiteStorage) ResolutionStats(ctx context.Context, cityID string, since, until time.Time) ([]storage.ResolutionStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT json_extract(classification, '$.domain') AS domain,
		       COUNT(*) AS n,
		       AVG(strftime('%s', resolved_at) - strftime('%s', submitted_at)) AS avg_seconds
		FROM issues
		WHERE city_id = ? AND status = ? AND classification IS NOT NULL
		  AND resolved_at IS NOT NULL AND resolved_at >= ? AND resolved_at < ?
		GROUP BY domain ORDER BY n DESC`, cityID, types.StatusResolved, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate resolution stats for %s: %w", cityID, err)
	}
	defer rows.Close()

	var stats []storage.ResolutionStat
	for rows.Next() {
		var stat storage.ResolutionStat
		var avgSeconds float64
		if err := rows.Scan(&stat.Domain, &stat.Resolved, &avgSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan resolution stat: %w", err)
		}
		stat.AvgResolution = time.Duration(avgSeconds * float64(time.Second))
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}
