package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"arendoBack/internal/escrow/fsm"
	"arendoBack/internal/models"
)

type BookingRepository struct {
	DB *sql.DB
}

const bookingColumns = `id, item_id, lessor_id, lessee_id, rental_fee, security_deposit, platform_fee, total_amount,
	status, outcome_kind, outcome_fee, handover_proof_url, payment_tx_ref, settlement_tx_ref, reconcile_needed,
	created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (models.Booking, error) {
	var (
		b           models.Booking
		outcomeKind sql.NullString
		outcomeFee  decimal.NullDecimal
	)
	err := row.Scan(
		&b.ID, &b.ItemID, &b.LessorID, &b.LesseeID,
		&b.RentalFee, &b.SecurityDeposit, &b.PlatformFee, &b.TotalAmount,
		&b.Status, &outcomeKind, &outcomeFee,
		&b.HandoverProofURL, &b.PaymentTxRef, &b.SettlementTxRef, &b.ReconcileNeeded,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return models.Booking{}, err
	}
	if outcomeKind.Valid {
		b.Outcome = &models.SettlementOutcome{Kind: outcomeKind.String}
		if outcomeFee.Valid {
			b.Outcome.DamageFee = outcomeFee.Decimal
		}
	}
	return b, nil
}

func (r *BookingRepository) Create(ctx context.Context, b models.Booking) (models.Booking, error) {
	query := `INSERT INTO bookings (item_id, lessor_id, lessee_id, rental_fee, security_deposit, platform_fee, total_amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	now := time.Now()
	err := r.DB.QueryRowContext(ctx, query,
		b.ItemID, b.LessorID, b.LesseeID,
		b.RentalFee, b.SecurityDeposit, b.PlatformFee, b.TotalAmount,
		fsm.StatusPending, now,
	).Scan(&b.ID)
	if err != nil {
		return models.Booking{}, err
	}
	b.Status = fsm.StatusPending
	b.CreatedAt = now
	return b, nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id int) (models.Booking, error) {
	b, err := scanBooking(r.DB.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Booking{}, models.ErrBookingNotFound
	}
	return b, err
}

func (r *BookingRepository) ListByUser(ctx context.Context, userID int) ([]models.Booking, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE lessor_id = $1 OR lessee_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// Transition moves a booking between statuses with optimistic validation.
// Returns models.ErrBookingNotFound when the booking is gone and
// sql.ErrNoRows when the current status no longer matches.
func (r *BookingRepository) Transition(ctx context.Context, bookingID int, from, to string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fsm.Apply(ctx, tx, bookingID, from, to); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkPaid records the escrow payment transaction and moves the booking to
// paid, conditional on it still being approved.
func (r *BookingRepository) MarkPaid(ctx context.Context, bookingID int, txRef string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE bookings SET status = $1, payment_tx_ref = $2, updated_at = now() WHERE id = $3 AND status = $4`,
		fsm.StatusPaid, txRef, bookingID, fsm.StatusApproved)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// AttachHandoverProof stores the proof artifact and walks the booking from
// active through return_initiated to awaiting_confirmation in one
// transaction, so confirmations open exactly when the proof exists.
func (r *BookingRepository) AttachHandoverProof(ctx context.Context, bookingID int, proofURL string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE bookings SET handover_proof_url = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		proofURL, bookingID, fsm.StatusActive)
	if err != nil {
		return err
	}
	if err := oneRow(res); err != nil {
		return err
	}
	if err := fsm.Apply(ctx, tx, bookingID, fsm.StatusActive, fsm.StatusReturnInitiated); err != nil {
		return err
	}
	if err := fsm.Apply(ctx, tx, bookingID, fsm.StatusReturnInitiated, fsm.StatusAwaitingConfirmation); err != nil {
		return err
	}
	return tx.Commit()
}

// ClaimSettlement atomically flips awaiting_confirmation to settling and
// records the transaction reference that will be broadcast. Only the caller
// that wins this update may invoke a chain action, and the stored reference
// lets the reconciler resolve the transaction if the caller dies mid-flight.
func (r *BookingRepository) ClaimSettlement(ctx context.Context, bookingID int, txRef string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE bookings SET status = $1, settlement_tx_ref = $2, updated_at = now() WHERE id = $3 AND status = $4`,
		fsm.StatusSettling, txRef, bookingID, fsm.StatusAwaitingConfirmation)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// RollbackSettlement returns a claimed booking to awaiting_confirmation
// after a broadcast that provably never moved funds. The transaction
// reference is cleared so the next attempt starts clean.
func (r *BookingRepository) RollbackSettlement(ctx context.Context, bookingID int) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE bookings SET status = $1, settlement_tx_ref = NULL, updated_at = now() WHERE id = $2 AND status = $3`,
		fsm.StatusAwaitingConfirmation, bookingID, fsm.StatusSettling)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// FinalizeSettlement writes the terminal state in a single conditional
// update: status settled, outcome, and the confirmed transaction reference.
func (r *BookingRepository) FinalizeSettlement(ctx context.Context, bookingID int, outcome models.SettlementOutcome, txRef string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE bookings SET status = $1, outcome_kind = $2, outcome_fee = $3, settlement_tx_ref = $4, reconcile_needed = false, updated_at = now()
		 WHERE id = $5 AND status = $6`,
		fsm.StatusSettled, outcome.Kind, outcome.DamageFee, txRef, bookingID, fsm.StatusSettling)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// FlagReconcile marks a booking whose chain action succeeded but whose
// record update failed. Best effort: the reconciler also sweeps bookings
// stuck in settling.
func (r *BookingRepository) FlagReconcile(ctx context.Context, bookingID int, txRef string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE bookings SET reconcile_needed = true, settlement_tx_ref = $1, updated_at = now() WHERE id = $2`,
		txRef, bookingID)
	return err
}

// ListReconcilePending returns bookings flagged for reconciliation plus any
// stuck in settling since before the cutoff.
func (r *BookingRepository) ListReconcilePending(ctx context.Context, stuckBefore time.Time) ([]models.Booking, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE reconcile_needed = true OR (status = $1 AND updated_at < $2)`,
		fsm.StatusSettling, stuckBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func oneRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
