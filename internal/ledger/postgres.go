package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexbotov/mpesa/internal/database"
	"github.com/alexbotov/mpesa/internal/domain"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure
const uniqueViolation = "23505"

// PostgresStore is a Store backed by PostgreSQL
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore wraps an open, migrated database
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureAccount(ctx context.Context, serviceProviderCode string, opening domain.Money) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO float_accounts (service_provider_code, amount, currency, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (service_provider_code) DO NOTHING
	`, serviceProviderCode, opening.Amount, opening.Currency, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to open float account: %w", err)
	}
	return nil
}

func (s *PostgresStore) Balance(ctx context.Context, serviceProviderCode string) (domain.Money, error) {
	var balance domain.Money
	err := s.db.QueryRowContext(ctx, `
		SELECT amount, currency FROM float_accounts WHERE service_provider_code = $1
	`, serviceProviderCode).Scan(&balance.Amount, &balance.Currency)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Money{}, ErrAccountNotFound
		}
		return domain.Money{}, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) Disburse(ctx context.Context, d *domain.Disbursement) (domain.Money, error) {
	if d.Amount.Amount <= 0 {
		return domain.Money{}, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Money{}, err
	}
	defer tx.Rollback()

	var balance domain.Money
	err = tx.QueryRowContext(ctx, `
		SELECT amount, currency FROM float_accounts WHERE service_provider_code = $1 FOR UPDATE
	`, d.ServiceProviderCode).Scan(&balance.Amount, &balance.Currency)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Money{}, ErrAccountNotFound
		}
		return domain.Money{}, fmt.Errorf("failed to lock float account: %w", err)
	}

	var exists int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM disbursements WHERE third_party_reference = $1
	`, d.ThirdPartyReference).Scan(&exists)
	if err != nil {
		return domain.Money{}, fmt.Errorf("failed to check reference: %w", err)
	}
	if exists > 0 {
		return domain.Money{}, ErrDuplicateReference
	}

	if balance.Amount < d.Amount.Amount {
		return balance, ErrInsufficientFunds
	}
	balance = balance.Sub(d.Amount)

	_, err = tx.ExecContext(ctx, `
		UPDATE float_accounts SET amount = $1, updated_at = $2 WHERE service_provider_code = $3
	`, balance.Amount, d.CreatedAt, d.ServiceProviderCode)
	if err != nil {
		return domain.Money{}, fmt.Errorf("failed to debit float: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO disbursements (id, conversation_id, transaction_id, transaction_reference, third_party_reference,
			customer_msisdn, service_provider_code, amount, currency, status, response_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, d.ID, d.ConversationID, d.TransactionID, d.TransactionReference, d.ThirdPartyReference,
		d.CustomerMSISDN, d.ServiceProviderCode, d.Amount.Amount, d.Amount.Currency, d.Status, d.ResponseCode, d.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.Money{}, ErrDuplicateReference
		}
		return domain.Money{}, fmt.Errorf("failed to record disbursement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Money{}, err
	}
	return balance, nil
}

const disbursementColumns = `id, conversation_id, transaction_id, transaction_reference, third_party_reference,
	customer_msisdn, service_provider_code, amount, currency, status, response_code, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDisbursement(row rowScanner) (*domain.Disbursement, error) {
	var d domain.Disbursement
	err := row.Scan(&d.ID, &d.ConversationID, &d.TransactionID, &d.TransactionReference, &d.ThirdPartyReference,
		&d.CustomerMSISDN, &d.ServiceProviderCode, &d.Amount.Amount, &d.Amount.Currency, &d.Status, &d.ResponseCode, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) FindByReference(ctx context.Context, thirdPartyReference string) (*domain.Disbursement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+disbursementColumns+` FROM disbursements WHERE third_party_reference = $1
	`, thirdPartyReference)
	d, err := scanDisbursement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get disbursement: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*domain.Disbursement, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+disbursementColumns+` FROM disbursements ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list disbursements: %w", err)
	}
	defer rows.Close()

	var list []*domain.Disbursement
	for rows.Next() {
		d, err := scanDisbursement(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

func (s *PostgresStore) SetState(ctx context.Context, key, value, updatedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_state (key, value, updated_at, updated_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = $3, updated_by = $4
	`, key, value, time.Now().UTC(), updatedBy)
	if err != nil {
		return fmt.Errorf("failed to persist gateway state: %w", err)
	}
	return nil
}

func (s *PostgresStore) State(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM gateway_state WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
