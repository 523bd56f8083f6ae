package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"arendoBack/internal/models"
)

type DamageFeeRepository struct {
	DB *sql.DB
}

// Upsert stores the outstanding proposal for a booking. A later proposal
// replaces the earlier one while the booking is unsettled; bookings keep a
// single row.
func (r *DamageFeeRepository) Upsert(ctx context.Context, p models.DamageFeeProposal) (models.DamageFeeProposal, error) {
	now := time.Now()
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO damage_fee_proposals (booking_id, fee, differential, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (booking_id) DO UPDATE SET fee = EXCLUDED.fee, differential = EXCLUDED.differential, created_at = EXCLUDED.created_at
		 RETURNING id`,
		p.BookingID, p.Fee, p.Differential, now).Scan(&p.ID)
	if err != nil {
		return models.DamageFeeProposal{}, err
	}
	p.CreatedAt = now
	return p, nil
}

func (r *DamageFeeRepository) GetByBooking(ctx context.Context, bookingID int) (models.DamageFeeProposal, error) {
	var p models.DamageFeeProposal
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, booking_id, fee, differential, created_at FROM damage_fee_proposals WHERE booking_id = $1`,
		bookingID).Scan(&p.ID, &p.BookingID, &p.Fee, &p.Differential, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DamageFeeProposal{}, models.ErrFeeProposalMissing
	}
	if err != nil {
		return models.DamageFeeProposal{}, err
	}
	return p, nil
}
