package repositories

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"arendoBack/internal/models"
)

type ReturnConfirmationRepository struct {
	DB *sql.DB
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Current returns the non-superseded confirmation per party for a booking,
// at most one row per side.
func (r *ReturnConfirmationRepository) Current(ctx context.Context, bookingID int) ([]models.ReturnConfirmation, error) {
	return currentRows(ctx, r.DB, bookingID)
}

func currentRows(ctx context.Context, q queryer, bookingID int) ([]models.ReturnConfirmation, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, booking_id, party, has_damage, seq, superseded, frozen, created_at
		 FROM return_confirmations WHERE booking_id = $1 AND superseded = false ORDER BY party`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var confs []models.ReturnConfirmation
	for rows.Next() {
		var c models.ReturnConfirmation
		if err := rows.Scan(&c.ID, &c.BookingID, &c.Party, &c.HasDamage, &c.Seq, &c.Superseded, &c.Frozen, &c.CreatedAt); err != nil {
			return nil, err
		}
		confs = append(confs, c)
	}
	return confs, rows.Err()
}

// Submit records a party's claim. The previous current row for the same
// party is superseded, never deleted, and the new row takes the next
// booking-scoped sequence number. The match decision and the freeze happen
// in the same transaction, under the same advisory lock, as the write: a
// revision committing concurrently cannot slip between seeing a matched
// pair and freezing it, so only values that were current together can
// freeze. Returns the pair as it stands after the write and whether a row
// was written; identical resubmission writes nothing, and a frozen row
// yields models.ErrConfirmationsClosed.
func (r *ReturnConfirmationRepository) Submit(ctx context.Context, bookingID int, party string, hasDamage bool) ([]models.ReturnConfirmation, bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	// serialize per booking so supersede, seq assignment and the freeze
	// decision all see the same pair
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, confirmationLockKey(bookingID)); err != nil {
		return nil, false, err
	}

	current, err := currentRows(ctx, tx, bookingID)
	if err != nil {
		return nil, false, err
	}
	var mine *models.ReturnConfirmation
	for i := range current {
		if current[i].Party == party {
			mine = &current[i]
		}
	}
	if mine != nil && mine.Frozen {
		return nil, false, models.ErrConfirmationsClosed
	}
	if mine != nil && mine.HasDamage == hasDamage {
		// identical resubmission: no new row, no counter movement
		return current, false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE return_confirmations SET superseded = true WHERE booking_id = $1 AND party = $2 AND superseded = false`,
		bookingID, party); err != nil {
		return nil, false, err
	}

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM return_confirmations WHERE booking_id = $1`, bookingID).Scan(&seq); err != nil {
		return nil, false, err
	}

	now := time.Now()
	c := models.ReturnConfirmation{BookingID: bookingID, Party: party, HasDamage: hasDamage, Seq: seq, CreatedAt: now}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO return_confirmations (booking_id, party, has_damage, seq, superseded, frozen, created_at)
		 VALUES ($1, $2, $3, $4, false, false, $5) RETURNING id`,
		bookingID, party, hasDamage, seq, now).Scan(&c.ID)
	if err != nil {
		return nil, false, err
	}

	pair := []models.ReturnConfirmation{c}
	for _, row := range current {
		if row.Party != party {
			pair = append(pair, row)
		}
	}
	if len(pair) == 2 && pair[0].HasDamage == pair[1].HasDamage {
		if _, err := tx.ExecContext(ctx,
			`UPDATE return_confirmations SET frozen = true WHERE booking_id = $1 AND superseded = false`, bookingID); err != nil {
			return nil, false, err
		}
		for i := range pair {
			pair[i].Frozen = true
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	sort.Slice(pair, func(i, j int) bool { return pair[i].Party < pair[j].Party })
	return pair, true, nil
}

func confirmationLockKey(bookingID int) int64 {
	// namespace booking ids away from other advisory lock users
	return int64(bookingID) | (1 << 40)
}
