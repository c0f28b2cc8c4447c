package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chargeup/payment-engine/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// defaultInstrumentConstraint is the partial unique index allowing one default per user
const defaultInstrumentConstraint = "uq_saved_instruments_default_per_user"

// SavedInstrumentRepository handles saved_payment_instruments persistence
type SavedInstrumentRepository struct {
	db *sqlx.DB
}

// NewSavedInstrumentRepository creates a new saved instrument repository
func NewSavedInstrumentRepository(db *sqlx.DB) *SavedInstrumentRepository {
	return &SavedInstrumentRepository{db: db}
}

// Create inserts an instrument. The user's first instrument becomes the
// default; losing a race for the default slot stores it as non-default.
// A duplicate (user_id, token) yields ErrUniqueViolation.
func (r *SavedInstrumentRepository) Create(ctx context.Context, inst *models.SavedPaymentInstrument) error {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now()
	}

	err := r.insert(ctx, inst, true)
	if constraint, ok := isUniqueViolation(err); ok && constraint == defaultInstrumentConstraint {
		err = r.insert(ctx, inst, false)
	}
	if err != nil {
		return wrapUnique(err, "failed to create saved instrument")
	}
	return nil
}

func (r *SavedInstrumentRepository) insert(ctx context.Context, inst *models.SavedPaymentInstrument, allowDefault bool) error {
	query := `
		INSERT INTO saved_payment_instruments (
			id, user_id, token, last4, brand, expiry_month, expiry_year,
			gateway_merchant_id, is_default, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9 AND NOT EXISTS (
				SELECT 1 FROM saved_payment_instruments WHERE user_id = $2 AND is_default
			),
			$10
		)
		RETURNING is_default`

	return r.db.GetContext(ctx, &inst.IsDefault, query,
		inst.ID, inst.UserID, inst.Token, inst.Last4, inst.Brand, inst.ExpiryMonth, inst.ExpiryYear,
		inst.GatewayMerchantID, allowDefault, inst.CreatedAt,
	)
}

// GetByUserAndToken returns the instrument for (user, token) or nil
func (r *SavedInstrumentRepository) GetByUserAndToken(ctx context.Context, userID, token string) (*models.SavedPaymentInstrument, error) {
	return r.getOne(ctx, `SELECT * FROM saved_payment_instruments WHERE user_id = $1 AND token = $2`, userID, token)
}

// GetByIDForUser returns a user's instrument by id or nil
func (r *SavedInstrumentRepository) GetByIDForUser(ctx context.Context, id uuid.UUID, userID string) (*models.SavedPaymentInstrument, error) {
	return r.getOne(ctx, `SELECT * FROM saved_payment_instruments WHERE id = $1 AND user_id = $2`, id, userID)
}

// ListByUser returns a user's instruments, default first
func (r *SavedInstrumentRepository) ListByUser(ctx context.Context, userID string) ([]*models.SavedPaymentInstrument, error) {
	query := `
		SELECT * FROM saved_payment_instruments
		WHERE user_id = $1
		ORDER BY is_default DESC, created_at DESC`

	var instruments []*models.SavedPaymentInstrument
	if err := r.db.SelectContext(ctx, &instruments, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list saved instruments: %w", err)
	}
	return instruments, nil
}

func (r *SavedInstrumentRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.SavedPaymentInstrument, error) {
	var inst models.SavedPaymentInstrument
	if err := r.db.GetContext(ctx, &inst, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get saved instrument: %w", err)
	}
	return &inst, nil
}
