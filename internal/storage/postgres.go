package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"booking-engine/internal/links"
	"booking-engine/internal/model"
)

//go:embed schema.sql
var schema string

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

type Postgres struct {
	pool *pgxpool.Pool
}

// Open connects and pings. The caller owns Close.
func Open(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() { s.pool.Close() }

func (s *Postgres) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// q returns the transaction carried by ctx, if any, else the pool.
func (s *Postgres) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// Atomically runs fn in a transaction holding a per-business advisory lock, so concurrent
// intake for one tenant is serialized while other tenants proceed.
func (s *Postgres) Atomically(ctx context.Context, businessID string, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, businessID); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (s *Postgres) inTx(ctx context.Context, fn func(q querier) error) error {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(tx)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error { return fn(tx) })
}

// Businesses

func (s *Postgres) GetBusiness(ctx context.Context, id string) (model.Business, bool, error) {
	var b model.Business
	var key *string
	err := s.q(ctx).QueryRow(ctx, `SELECT id, name, legacy_key FROM businesses WHERE id=$1`, id).Scan(&b.ID, &b.Name, &key)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Business{}, false, nil
	}
	if err != nil {
		return model.Business{}, false, fmt.Errorf("get business: %w", err)
	}
	if key != nil {
		b.LegacyKey = *key
	}
	return b, true, nil
}

func (s *Postgres) GetBusinessByLegacyKey(ctx context.Context, key string) (string, bool, error) {
	var id string
	err := s.q(ctx).QueryRow(ctx, `SELECT id FROM businesses WHERE lower(legacy_key)=lower($1)`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get business by legacy key: %w", err)
	}
	return id, true, nil
}

// Availability

func (s *Postgres) ListWindows(ctx context.Context, businessID string) ([]model.AvailabilityWindow, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT id, business_id, day_of_week, start_time, end_time, is_enabled
		FROM availability_windows WHERE business_id=$1 ORDER BY day_of_week, start_time`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	defer rows.Close()

	var out []model.AvailabilityWindow
	for rows.Next() {
		var w model.AvailabilityWindow
		if err := rows.Scan(&w.ID, &w.BusinessID, &w.DayOfWeek, &w.StartTime, &w.EndTime, &w.IsEnabled); err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Postgres) ReplaceWindows(ctx context.Context, businessID string, windows []model.AvailabilityWindow) ([]model.AvailabilityWindow, error) {
	out := make([]model.AvailabilityWindow, len(windows))
	err := s.inTx(ctx, func(q querier) error {
		if _, err := q.Exec(ctx, `DELETE FROM availability_windows WHERE business_id=$1`, businessID); err != nil {
			return err
		}
		for i, w := range windows {
			w.ID, w.BusinessID = uuid.NewString(), businessID
			if _, err := q.Exec(ctx, `INSERT INTO availability_windows
				(id, business_id, day_of_week, start_time, end_time, is_enabled) VALUES ($1,$2,$3,$4,$5,$6)`,
				w.ID, w.BusinessID, w.DayOfWeek, w.StartTime, w.EndTime, w.IsEnabled); err != nil {
				return err
			}
			out[i] = w
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replace windows: %w", err)
	}
	return out, nil
}

func (s *Postgres) ListExceptions(ctx context.Context, businessID, date string) ([]model.AvailabilityException, error) {
	const cols = `SELECT id, business_id, date::text, start_time, end_time, type FROM availability_exceptions`
	var (
		rows pgx.Rows
		err  error
	)
	if date == "" {
		rows, err = s.q(ctx).Query(ctx, cols+` WHERE business_id=$1 ORDER BY date`, businessID)
	} else {
		rows, err = s.q(ctx).Query(ctx, cols+` WHERE business_id=$1 AND date=$2::date`, businessID, date)
	}
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	defer rows.Close()

	var out []model.AvailabilityException
	for rows.Next() {
		var e model.AvailabilityException
		if err := rows.Scan(&e.ID, &e.BusinessID, &e.Date, &e.StartTime, &e.EndTime, &e.Type); err != nil {
			return nil, fmt.Errorf("scan exception: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReplaceExceptions swaps out every exception on the given dates for the new set.
func (s *Postgres) ReplaceExceptions(ctx context.Context, businessID string, dates []string, exceptions []model.AvailabilityException) ([]model.AvailabilityException, error) {
	out := make([]model.AvailabilityException, len(exceptions))
	err := s.inTx(ctx, func(q querier) error {
		if _, err := q.Exec(ctx, `DELETE FROM availability_exceptions WHERE business_id=$1 AND date::text = ANY($2::text[])`,
			businessID, dates); err != nil {
			return err
		}
		for i, e := range exceptions {
			e.ID, e.BusinessID = uuid.NewString(), businessID
			if _, err := q.Exec(ctx, `INSERT INTO availability_exceptions
				(id, business_id, date, start_time, end_time, type) VALUES ($1,$2,$3::date,$4,$5,$6)`,
				e.ID, e.BusinessID, e.Date, e.StartTime, e.EndTime, e.Type); err != nil {
				return err
			}
			out[i] = e
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replace exceptions: %w", err)
	}
	return out, nil
}

func (s *Postgres) GetSettings(ctx context.Context, businessID string) (model.BookingSettings, bool, error) {
	var st model.BookingSettings
	err := s.q(ctx).QueryRow(ctx, `SELECT business_id, timezone, buffer_minutes, min_notice_hours, max_days_out,
		default_duration_minutes, booking_mode FROM booking_settings WHERE business_id=$1`, businessID).
		Scan(&st.BusinessID, &st.Timezone, &st.BufferMinutes, &st.MinNoticeHours, &st.MaxDaysOut,
			&st.DefaultDurationMinutes, &st.BookingMode)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.BookingSettings{}, false, nil
	}
	if err != nil {
		return model.BookingSettings{}, false, fmt.Errorf("get settings: %w", err)
	}
	return st, true, nil
}

func (s *Postgres) UpsertSettings(ctx context.Context, st model.BookingSettings) error {
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO booking_settings
		(business_id, timezone, buffer_minutes, min_notice_hours, max_days_out, default_duration_minutes, booking_mode, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (business_id) DO UPDATE SET
			timezone=EXCLUDED.timezone, buffer_minutes=EXCLUDED.buffer_minutes,
			min_notice_hours=EXCLUDED.min_notice_hours, max_days_out=EXCLUDED.max_days_out,
			default_duration_minutes=EXCLUDED.default_duration_minutes, booking_mode=EXCLUDED.booking_mode,
			updated_at=now()`,
		st.BusinessID, st.Timezone, st.BufferMinutes, st.MinNoticeHours, st.MaxDaysOut,
		st.DefaultDurationMinutes, st.BookingMode)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

// Busy blocks

func (s *Postgres) ListBusyBlocks(ctx context.Context, businessID string, from, to time.Time) ([]model.BusyBlock, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT id, business_id, start_at, end_at, reason, source FROM busy_blocks
		WHERE business_id=$1 AND start_at < $3 AND end_at > $2 ORDER BY start_at`, businessID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list busy blocks: %w", err)
	}
	defer rows.Close()

	var out []model.BusyBlock
	for rows.Next() {
		var b model.BusyBlock
		if err := rows.Scan(&b.ID, &b.BusinessID, &b.Start, &b.End, &b.Reason, &b.Source); err != nil {
			return nil, fmt.Errorf("scan busy block: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateBusyBlock(ctx context.Context, b *model.BusyBlock) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO busy_blocks (id, business_id, start_at, end_at, reason, source)
		VALUES ($1,$2,$3,$4,$5,$6)`, b.ID, b.BusinessID, b.Start, b.End, b.Reason, b.Source)
	if err != nil {
		return fmt.Errorf("create busy block: %w", err)
	}
	return nil
}

func (s *Postgres) DeleteBusyBlock(ctx context.Context, businessID, blockID string) error {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM busy_blocks WHERE id=$1 AND business_id=$2 AND source='manual'`,
		blockID, businessID)
	if err != nil {
		return fmt.Errorf("delete busy block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Postgres) ReplaceSyncedBlocks(ctx context.Context, businessID string, source model.BusySource, from, to time.Time, blocks []model.BusyBlock) error {
	err := s.inTx(ctx, func(q querier) error {
		if _, err := q.Exec(ctx, `DELETE FROM busy_blocks WHERE business_id=$1 AND source=$2 AND start_at < $4 AND end_at > $3`,
			businessID, source, from, to); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, b := range blocks {
			if b.ID == "" {
				b.ID = uuid.NewString()
			}
			batch.Queue(`INSERT INTO busy_blocks (id, business_id, start_at, end_at, reason, source) VALUES ($1,$2,$3,$4,$5,$6)`,
				b.ID, businessID, b.Start, b.End, b.Reason, source)
		}
		if batch.Len() == 0 {
			return nil
		}
		tx, ok := q.(pgx.Tx)
		if !ok {
			return errors.New("synced block replace needs a transaction")
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("replace synced blocks: %w", err)
	}
	return nil
}

// Services

func (s *Postgres) GetService(ctx context.Context, businessID, serviceID string) (model.Service, error) {
	var svc model.Service
	err := s.q(ctx).QueryRow(ctx, `SELECT id, business_id, name, duration_minutes, active FROM services
		WHERE id=$1 AND business_id=$2`, serviceID, businessID).
		Scan(&svc.ID, &svc.BusinessID, &svc.Name, &svc.DurationMinutes, &svc.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Service{}, model.ErrNotFound
	}
	if err != nil {
		return model.Service{}, fmt.Errorf("get service: %w", err)
	}
	return svc, nil
}

func (s *Postgres) ListServices(ctx context.Context, businessID string) ([]model.Service, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT id, business_id, name, duration_minutes, active FROM services
		WHERE business_id=$1 ORDER BY name`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var svc model.Service
		if err := rows.Scan(&svc.ID, &svc.BusinessID, &svc.Name, &svc.DurationMinutes, &svc.Active); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// Requests

const requestCols = `id, business_id, service_id, customer_name, customer_email, customer_phone, notes, status,
	preferred_start, preferred_end, proposed_start, proposed_end, proposal_expires_at, created_at, updated_at,
	first_responded_at, approved_at, cancelled_at, reactivated_at`

func scanRequest(row pgx.Row) (model.BookingRequest, error) {
	var r model.BookingRequest
	err := row.Scan(&r.ID, &r.BusinessID, &r.ServiceID, &r.CustomerName, &r.CustomerEmail, &r.CustomerPhone,
		&r.Notes, &r.Status, &r.PreferredStart, &r.PreferredEnd, &r.ProposedStart, &r.ProposedEnd,
		&r.ProposalExpiresAt, &r.CreatedAt, &r.UpdatedAt, &r.FirstRespondedAt, &r.ApprovedAt,
		&r.CancelledAt, &r.ReactivatedAt)
	return r, err
}

func (s *Postgres) queryRequests(ctx context.Context, sql string, args ...any) ([]model.BookingRequest, error) {
	rows, err := s.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BookingRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateRequest(ctx context.Context, r *model.BookingRequest) error {
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO booking_requests (`+requestCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		r.ID, r.BusinessID, r.ServiceID, r.CustomerName, r.CustomerEmail, r.CustomerPhone, r.Notes, r.Status,
		r.PreferredStart, r.PreferredEnd, r.ProposedStart, r.ProposedEnd, r.ProposalExpiresAt, r.CreatedAt,
		r.UpdatedAt, r.FirstRespondedAt, r.ApprovedAt, r.CancelledAt, r.ReactivatedAt)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateRequest(ctx context.Context, r *model.BookingRequest) error {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE booking_requests SET status=$3, proposed_start=$4, proposed_end=$5,
		proposal_expires_at=$6, updated_at=$7, first_responded_at=$8, approved_at=$9, cancelled_at=$10,
		reactivated_at=$11 WHERE id=$1 AND business_id=$2`,
		r.ID, r.BusinessID, r.Status, r.ProposedStart, r.ProposedEnd, r.ProposalExpiresAt, r.UpdatedAt,
		r.FirstRespondedAt, r.ApprovedAt, r.CancelledAt, r.ReactivatedAt)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// GetRequest locks the row when called inside Atomically.
func (s *Postgres) GetRequest(ctx context.Context, businessID, requestID string) (model.BookingRequest, error) {
	sql := `SELECT ` + requestCols + ` FROM booking_requests WHERE id=$1 AND business_id=$2`
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		sql += ` FOR UPDATE`
	}
	r, err := scanRequest(s.q(ctx).QueryRow(ctx, sql, requestID, businessID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.BookingRequest{}, model.ErrNotFound
	}
	if err != nil {
		return model.BookingRequest{}, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

func (s *Postgres) FindRecentDuplicate(ctx context.Context, businessID, email string, preferredStart *time.Time, since time.Time) (model.BookingRequest, bool, error) {
	r, err := scanRequest(s.q(ctx).QueryRow(ctx, `SELECT `+requestCols+` FROM booking_requests
		WHERE business_id=$1 AND lower(customer_email)=lower($2)
		  AND preferred_start IS NOT DISTINCT FROM $3::timestamptz AND created_at >= $4
		ORDER BY created_at DESC LIMIT 1`, businessID, email, preferredStart, since))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.BookingRequest{}, false, nil
	}
	if err != nil {
		return model.BookingRequest{}, false, fmt.Errorf("find duplicate request: %w", err)
	}
	return r, true, nil
}

func (s *Postgres) ListOccupyingRequests(ctx context.Context, businessID string, from, to time.Time) ([]model.BookingRequest, error) {
	out, err := s.queryRequests(ctx, `SELECT `+requestCols+` FROM booking_requests
		WHERE business_id=$1 AND status IN ('REQUESTED','APPROVED','PROPOSED')
		  AND ((preferred_start < $3 AND coalesce(preferred_end, preferred_start + interval '1 day') > $2)
		    OR (proposed_start < $3 AND coalesce(proposed_end, proposed_start + interval '1 day') > $2))`,
		businessID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list occupying requests: %w", err)
	}
	return out, nil
}

func (s *Postgres) ListRequests(ctx context.Context, businessID string, status model.Status, limit int) ([]model.BookingRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	out, err := s.queryRequests(ctx, `SELECT `+requestCols+` FROM booking_requests
		WHERE business_id=$1 AND ($2 = '' OR status = $2) ORDER BY created_at DESC LIMIT $3`,
		businessID, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return out, nil
}

func (s *Postgres) ListRequestsCreatedSince(ctx context.Context, businessID string, since time.Time) ([]model.BookingRequest, error) {
	out, err := s.queryRequests(ctx, `SELECT `+requestCols+` FROM booking_requests
		WHERE business_id=$1 AND created_at >= $2 ORDER BY created_at`, businessID, since)
	if err != nil {
		return nil, fmt.Errorf("list requests since: %w", err)
	}
	return out, nil
}

// Public links

func (s *Postgres) GetLinkByBusiness(ctx context.Context, businessID string) (model.PublicLink, bool, error) {
	return s.getLink(ctx, `business_id=$1`, businessID)
}

func (s *Postgres) GetLinkByCode(ctx context.Context, code string) (model.PublicLink, bool, error) {
	return s.getLink(ctx, `code=$1`, code)
}

func (s *Postgres) getLink(ctx context.Context, where string, arg string) (model.PublicLink, bool, error) {
	var l model.PublicLink
	err := s.q(ctx).QueryRow(ctx, `SELECT business_id, code, slug, created_at FROM public_links WHERE `+where, arg).
		Scan(&l.BusinessID, &l.Code, &l.Slug, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PublicLink{}, false, nil
	}
	if err != nil {
		return model.PublicLink{}, false, fmt.Errorf("get public link: %w", err)
	}
	return l, true, nil
}

// InsertLink relies on the two unique keys: a business conflict returns the stored link,
// a code conflict returns links.ErrCodeTaken.
func (s *Postgres) InsertLink(ctx context.Context, link model.PublicLink) (model.PublicLink, bool, error) {
	var stored model.PublicLink
	err := s.q(ctx).QueryRow(ctx, `INSERT INTO public_links (business_id, code, slug, created_at)
		VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING RETURNING business_id, code, slug, created_at`,
		link.BusinessID, link.Code, link.Slug, link.CreatedAt).
		Scan(&stored.BusinessID, &stored.Code, &stored.Slug, &stored.CreatedAt)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.PublicLink{}, false, fmt.Errorf("insert public link: %w", err)
	}
	existing, ok, err := s.GetLinkByBusiness(ctx, link.BusinessID)
	if err != nil {
		return model.PublicLink{}, false, err
	}
	if ok {
		return existing, false, nil
	}
	return model.PublicLink{}, false, links.ErrCodeTaken
}

// Calendar connections

func (s *Postgres) SaveCalendarToken(ctx context.Context, businessID string, source model.BusySource, token []byte) error {
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO calendar_connections (business_id, source, token, updated_at)
		VALUES ($1,$2,$3::jsonb,now())
		ON CONFLICT (business_id, source) DO UPDATE SET token=EXCLUDED.token, updated_at=now()`,
		businessID, source, string(token))
	if err != nil {
		return fmt.Errorf("save calendar token: %w", err)
	}
	return nil
}

func (s *Postgres) GetCalendarToken(ctx context.Context, businessID string, source model.BusySource) ([]byte, bool, error) {
	var token string
	err := s.q(ctx).QueryRow(ctx, `SELECT token::text FROM calendar_connections WHERE business_id=$1 AND source=$2`,
		businessID, source).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get calendar token: %w", err)
	}
	return []byte(token), true, nil
}
