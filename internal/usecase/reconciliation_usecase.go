package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/gosettle/internal/infrastructure/metrics"
)

// ReconciliationUseCase compares live balances with balances rebuilt from the ledger.
type ReconciliationUseCase struct {
	txManager   TransactionManager
	accountRepo AccountRepository
	ledgerRepo  LedgerRepository
	alerter     DriftAlerter
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewReconciliationUseCase creates a new reconciliation use case. alerter may be nil.
func NewReconciliationUseCase(
	txManager TransactionManager,
	accountRepo AccountRepository,
	ledgerRepo LedgerRepository,
	alerter DriftAlerter,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *ReconciliationUseCase {
	return &ReconciliationUseCase{
		txManager:   txManager,
		accountRepo: accountRepo,
		ledgerRepo:  ledgerRepo,
		alerter:     alerter,
		metrics:     m,
		logger:      logger,
	}
}

// ReconciliationResult represents the result of a reconciliation check
type ReconciliationResult struct {
	AccountID         string
	RecordedBalance   decimal.Decimal
	CalculatedBalance decimal.Decimal
	Difference        decimal.Decimal
	IsReconciled      bool
	LastChecked       time.Time
}

// ReconcileAccount locks the account so no mutation can interleave, then
// compares its balance with the ledger sum.
func (uc *ReconciliationUseCase) ReconcileAccount(ctx context.Context, accountID string) (*ReconciliationResult, error) {
	var result *ReconciliationResult

	err := runInTx(ctx, uc.txManager, nil, func(ctx context.Context, tx Transaction) error {
		account, err := uc.accountRepo.GetByIDForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}

		calculated, err := uc.ledgerRepo.SumByAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}

		diff := account.Balance.Sub(calculated)
		result = &ReconciliationResult{
			AccountID:         accountID,
			RecordedBalance:   account.Balance,
			CalculatedBalance: calculated,
			Difference:        diff,
			IsReconciled:      diff.IsZero(),
			LastChecked:       time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.IsReconciled {
		uc.logger.Error().
			Bool("alert", true).
			Str("account_id", accountID).
			Str("recorded", result.RecordedBalance.String()).
			Str("calculated", result.CalculatedBalance.String()).
			Str("difference", result.Difference.String()).
			Msg("ledger drift detected")
		if uc.alerter != nil {
			uc.alerter.AlertDrift(ctx, result)
		}
	}

	return result, nil
}

// ReconcileAllAccounts reconciles every account page by page.
func (uc *ReconciliationUseCase) ReconcileAllAccounts(ctx context.Context) ([]*ReconciliationResult, error) {
	var results []*ReconciliationResult

	for offset := 0; ; offset += reconcilePageSize {
		accounts, err := uc.accountRepo.List(ctx, reconcilePageSize, offset)
		if err != nil {
			return nil, err
		}

		for _, account := range accounts {
			result, err := uc.ReconcileAccount(ctx, account.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to reconcile account %s: %w", account.ID, err)
			}
			results = append(results, result)
		}

		if len(accounts) < reconcilePageSize {
			return results, nil
		}
	}
}

// ReconciliationReport represents a full reconciliation report
type ReconciliationReport struct {
	TotalAccounts      int
	ReconciledAccounts int
	Discrepancies      []*ReconciliationResult
	TotalDrift         decimal.Decimal
	CheckedAt          time.Time
}

// GenerateReconciliationReport reconciles all accounts and summarizes drift.
func (uc *ReconciliationUseCase) GenerateReconciliationReport(ctx context.Context) (*ReconciliationReport, error) {
	results, err := uc.ReconcileAllAccounts(ctx)
	if err != nil {
		if uc.metrics != nil {
			uc.metrics.ReconciliationRuns.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	report := &ReconciliationReport{
		TotalAccounts: len(results),
		Discrepancies: make([]*ReconciliationResult, 0),
		TotalDrift:    decimal.Zero,
		CheckedAt:     time.Now().UTC(),
	}

	for _, result := range results {
		if result.IsReconciled {
			report.ReconciledAccounts++
			continue
		}
		report.Discrepancies = append(report.Discrepancies, result)
		report.TotalDrift = report.TotalDrift.Add(result.Difference.Abs())
	}

	if uc.metrics != nil {
		uc.metrics.LedgerDriftAccounts.Set(float64(len(report.Discrepancies)))
		label := "clean"
		if len(report.Discrepancies) > 0 {
			label = "drift"
		}
		uc.metrics.ReconciliationRuns.WithLabelValues(label).Inc()
	}

	return report, nil
}

// RunScheduled is the cron entry point for the periodic sweep.
func (uc *ReconciliationUseCase) RunScheduled(ctx context.Context) {
	report, err := uc.GenerateReconciliationReport(ctx)
	if err != nil {
		uc.logger.Error().Err(err).Msg("scheduled reconciliation failed")
		return
	}

	uc.logger.Info().
		Int("accounts", report.TotalAccounts).
		Int("reconciled", report.ReconciledAccounts).
		Int("discrepancies", len(report.Discrepancies)).
		Str("total_drift", report.TotalDrift.String()).
		Msg("scheduled reconciliation finished")
}
