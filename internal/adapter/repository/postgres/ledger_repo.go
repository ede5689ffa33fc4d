package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/usecase"
)

const ledgerColumns = `id, event_type, transaction_id, account_id, amount::text, balance_before::text, balance_after::text, metadata, created_at`

// LedgerRepository implements usecase.LedgerRepository.
type LedgerRepository struct {
	db querier
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return newLedgerRepository(pool)
}

func newLedgerRepository(db querier) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append inserts event. ON CONFLICT DO NOTHING waits for a concurrent insert
// of the same key and, unlike a unique violation, leaves tx usable.
func (r *LedgerRepository) Append(ctx context.Context, tx usecase.Transaction, event *domain.LedgerEvent) error {
	metadata, err := marshalMetadata(event.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ledger_events (id, event_type, transaction_id, account_id, amount, balance_before, balance_after, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9)
		ON CONFLICT (transaction_id, event_type) DO NOTHING
	`

	q, err := inTx(r.db, tx)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, query,
		event.ID,
		string(event.Type),
		event.TransactionID,
		event.AccountID,
		event.Amount.String(),
		event.BalanceBefore.String(),
		event.BalanceAfter.String(),
		metadata,
		event.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateEvent
	}

	return nil
}

// ListByAccount returns an account's events, oldest first.
func (r *LedgerRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.LedgerEvent, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_events WHERE account_id = $1 ORDER BY created_at, id LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectLedgerEvents(rows)
}

// ListByTransaction returns every event caused by one transaction.
func (r *LedgerRepository) ListByTransaction(ctx context.Context, transactionID string) ([]*domain.LedgerEvent, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_events WHERE transaction_id = $1 ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	return collectLedgerEvents(rows)
}

// SumByAccount folds the ledger into a balance inside the database.
func (r *LedgerRepository) SumByAccount(ctx context.Context, tx usecase.Transaction, accountID string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(CASE WHEN event_type IN ('CREDIT', 'RELEASE') THEN amount ELSE -amount END), 0)::text
		FROM ledger_events
		WHERE account_id = $1
	`

	q, err := inTx(r.db, tx)
	if err != nil {
		return decimal.Zero, err
	}
	var sum string
	if err := q.QueryRow(ctx, query, accountID).Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return parseDecimal(sum)
}

func collectLedgerEvents(rows pgx.Rows) ([]*domain.LedgerEvent, error) {
	defer rows.Close()

	events := make([]*domain.LedgerEvent, 0)
	for rows.Next() {
		var (
			e                     domain.LedgerEvent
			eventType             string
			amount, before, after string
			metadata              []byte
		)
		if err := rows.Scan(
			&e.ID,
			&eventType,
			&e.TransactionID,
			&e.AccountID,
			&amount,
			&before,
			&after,
			&metadata,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}

		e.Type = domain.LedgerEventType(eventType)
		var err error
		if e.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		if e.BalanceBefore, err = parseDecimal(before); err != nil {
			return nil, err
		}
		if e.BalanceAfter, err = parseDecimal(after); err != nil {
			return nil, err
		}
		if e.Metadata, err = unmarshalMetadata(metadata); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}

	return events, rows.Err()
}
