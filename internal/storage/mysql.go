package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"github.com/callwatch/backend/internal/types"
)

// MySQLStore persists call records in the switch's MySQL CDR database
// and reads the switch-owned registration and identity tables.
type MySQLStore struct {
	db           *sql.DB
	trunkContext string
	logger       zerolog.Logger
}

// NewMySQLStore opens the CDR database, verifies connectivity and
// ensures the call record table exists. Registration and identity
// tables are provisioned by the switch; they are never created here.
func NewMySQLStore(dsn, trunkContext string, logger zerolog.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}

	s := &MySQLStore{db: db, trunkContext: trunkContext, logger: logger}
	if err := s.ensureTables(); err != nil {
		return nil, err
	}

	logger.Info().Msg("connected to call record database")
	return s, nil
}

func (s *MySQLStore) ensureTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS cdr (
		id INT AUTO_INCREMENT PRIMARY KEY,
		calldate DATETIME NOT NULL,
		start DATETIME DEFAULT NULL,
		answer DATETIME DEFAULT NULL,
		end DATETIME DEFAULT NULL,
		clid VARCHAR(80) NOT NULL DEFAULT '',
		src VARCHAR(80) NOT NULL DEFAULT '',
		dst VARCHAR(80) NOT NULL DEFAULT '',
		dcontext VARCHAR(80) NOT NULL DEFAULT '',
		channel VARCHAR(80) NOT NULL DEFAULT '',
		dstchannel VARCHAR(80) NOT NULL DEFAULT '',
		lastapp VARCHAR(80) NOT NULL DEFAULT '',
		lastdata VARCHAR(80) NOT NULL DEFAULT '',
		duration INT NOT NULL DEFAULT 0,
		billsec INT NOT NULL DEFAULT 0,
		disposition VARCHAR(45) NOT NULL DEFAULT '',
		uniqueid VARCHAR(150) NOT NULL DEFAULT '',
		userfield VARCHAR(255) NOT NULL DEFAULT '',
		recordingfile VARCHAR(255) NOT NULL DEFAULT '',
		INDEX idx_uniqueid (uniqueid),
		INDEX idx_calldate (calldate),
		INDEX idx_dcontext (dcontext)
	)`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create cdr table: %v", err)
	}
	return nil
}

// GetCallRecord returns the most recent record for the identifier, or
// nil when none exists.
func (s *MySQLStore) GetCallRecord(ctx context.Context, uniqueID string) (*types.CallRecord, error) {
	query := `
	SELECT uniqueid, calldate, start, answer, end, src, dst, clid,
	       dcontext, channel, dstchannel, lastapp, lastdata,
	       duration, billsec, disposition, recordingfile, userfield
	FROM cdr WHERE uniqueid = ? ORDER BY calldate DESC LIMIT 1`

	var rec types.CallRecord
	var start, answer, end sql.NullTime
	err := s.db.QueryRowContext(ctx, query, uniqueID).Scan(
		&rec.UniqueID, &rec.CallDate, &start, &answer, &end,
		&rec.Src, &rec.Dst, &rec.CallerID,
		&rec.Context, &rec.Channel, &rec.DstChannel, &rec.LastApp, &rec.LastData,
		&rec.Duration, &rec.BillSec, &rec.Disposition, &rec.RecordingFile, &rec.UserField,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query call record: %v", err)
	}
	if start.Valid {
		rec.Start = start.Time
	} else {
		rec.Start = rec.CallDate
	}
	if answer.Valid {
		rec.Answer = &answer.Time
	}
	if end.Valid {
		rec.End = &end.Time
	}
	return &rec, nil
}

// CreateCallRecord inserts a new record row
func (s *MySQLStore) CreateCallRecord(ctx context.Context, rec types.CallRecord) error {
	query := `
	INSERT INTO cdr (calldate, start, answer, end, clid, src, dst, dcontext,
	                 channel, dstchannel, lastapp, lastdata, duration, billsec,
	                 disposition, uniqueid, userfield, recordingfile)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	start := rec.Start
	if start.IsZero() {
		start = rec.CallDate
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.CallDate, start, nullTime(rec.Answer), nullTime(rec.End),
		rec.CallerID, rec.Src, rec.Dst, rec.Context,
		rec.Channel, rec.DstChannel, rec.LastApp, rec.LastData,
		rec.Duration, rec.BillSec, rec.Disposition,
		rec.UniqueID, rec.UserField, rec.RecordingFile,
	)
	if err != nil {
		return fmt.Errorf("failed to insert call record: %v", err)
	}
	return nil
}

// UpdateCallRecord applies the non-nil fields of upd to the record
func (s *MySQLStore) UpdateCallRecord(ctx context.Context, uniqueID string, upd types.CallRecordUpdate) error {
	var sets []string
	var args []interface{}

	add := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Answer != nil {
		add("answer", *upd.Answer)
	}
	if upd.End != nil {
		add("end", *upd.End)
	}
	if upd.Disposition != nil {
		add("disposition", *upd.Disposition)
	}
	if upd.Duration != nil {
		add("duration", *upd.Duration)
	}
	if upd.BillSec != nil {
		add("billsec", *upd.BillSec)
	}
	if upd.Src != nil {
		add("src", *upd.Src)
	}
	if upd.CallerID != nil {
		add("clid", *upd.CallerID)
	}
	if upd.UserField != nil {
		add("userfield", *upd.UserField)
	}
	if upd.DstChannel != nil {
		add("dstchannel", *upd.DstChannel)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, uniqueID)
	query := "UPDATE cdr SET " + strings.Join(sets, ", ") + " WHERE uniqueid = ?"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update call record: %v", err)
	}
	return nil
}

// TrunkCounts counts distinct trunk-leg calls since the given instant.
// Only records arriving through the trunk context are considered, so
// internal extension-to-extension legs never inflate the totals.
func (s *MySQLStore) TrunkCounts(ctx context.Context, since time.Time) (TrunkCounts, error) {
	var counts TrunkCounts

	query := `SELECT COUNT(DISTINCT uniqueid) FROM cdr WHERE dcontext = ? AND calldate >= ?`
	if err := s.db.QueryRowContext(ctx, query, s.trunkContext, since).Scan(&counts.Total); err != nil {
		return counts, fmt.Errorf("failed to count trunk calls: %v", err)
	}

	query = `SELECT COUNT(DISTINCT uniqueid) FROM cdr
	         WHERE dcontext = ? AND calldate >= ? AND disposition = 'NO ANSWER'`
	if err := s.db.QueryRowContext(ctx, query, s.trunkContext, since).Scan(&counts.Abandoned); err != nil {
		return counts, fmt.Errorf("failed to count abandoned trunk calls: %v", err)
	}
	return counts, nil
}

// HourlyVolume returns one bucket per trailing hour, oldest first.
// Hours with no traffic are present with zero counts.
func (s *MySQLStore) HourlyVolume(ctx context.Context, hours int) ([]types.HourlyVolume, error) {
	now := time.Now()
	since := now.Add(-time.Duration(hours) * time.Hour).Truncate(time.Hour)

	query := `
	SELECT DATE_FORMAT(calldate, '%H:00') AS hour,
	       COUNT(DISTINCT uniqueid) AS calls,
	       SUM(CASE WHEN disposition = 'ANSWERED' THEN 1 ELSE 0 END) AS handled,
	       SUM(CASE WHEN disposition = 'NO ANSWER' THEN 1 ELSE 0 END) AS abandoned
	FROM cdr
	WHERE dcontext = ? AND calldate >= ?
	GROUP BY hour`

	rows, err := s.db.QueryContext(ctx, query, s.trunkContext, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly volume: %v", err)
	}
	defer rows.Close()

	byHour := make(map[string]types.HourlyVolume)
	for rows.Next() {
		var v types.HourlyVolume
		if err := rows.Scan(&v.Hour, &v.Calls, &v.Handled, &v.Abandoned); err != nil {
			return nil, fmt.Errorf("failed to scan hourly volume: %v", err)
		}
		byHour[v.Hour] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]types.HourlyVolume, 0, hours)
	for i := hours - 1; i >= 0; i-- {
		hour := now.Add(-time.Duration(i) * time.Hour).Format("15:00")
		if v, ok := byHour[hour]; ok {
			out = append(out, v)
		} else {
			out = append(out, types.HourlyVolume{Hour: hour})
		}
	}
	return out, nil
}

// LatestRegistrations returns the newest registration row per endpoint
func (s *MySQLStore) LatestRegistrations(ctx context.Context) ([]types.RegistrationRow, error) {
	query := `
	SELECT r.id, r.endpoint, r.uri, r.status, r.expiration_time, r.user_agent
	FROM registrations r
	JOIN (SELECT endpoint, MAX(id) AS id FROM registrations GROUP BY endpoint) latest
	  ON r.id = latest.id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query registrations: %v", err)
	}
	defer rows.Close()

	var out []types.RegistrationRow
	for rows.Next() {
		var row types.RegistrationRow
		var uri, status, userAgent sql.NullString
		var expiration sql.NullInt64
		if err := rows.Scan(&row.ID, &row.Endpoint, &uri, &status, &expiration, &userAgent); err != nil {
			return nil, fmt.Errorf("failed to scan registration: %v", err)
		}
		row.URI = uri.String
		row.Status = status.String
		row.Expiration = expiration.Int64
		row.UserAgent = userAgent.String
		out = append(out, row)
	}
	return out, rows.Err()
}

// Identities returns the extension-to-name directory
func (s *MySQLStore) Identities(ctx context.Context) ([]types.Identity, error) {
	query := `SELECT id, name, extension FROM users WHERE extension IS NOT NULL AND extension <> ''`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query identities: %v", err)
	}
	defer rows.Close()

	var out []types.Identity
	for rows.Next() {
		var id types.Identity
		if err := rows.Scan(&id.ID, &id.Name, &id.Extension); err != nil {
			return nil, fmt.Errorf("failed to scan identity: %v", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *MySQLStore) Close() error { return s.db.Close() }

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
