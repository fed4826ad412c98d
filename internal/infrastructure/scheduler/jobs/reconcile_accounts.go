package jobs

import (
	"context"
	"fmt"

	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE ACCOUNTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileAccountsJob sweeps every points account and checks its
// denormalized total against the exact ledger sum. The total is always
// updated in the same transaction as the ledger append, so any drift
// means a bug or manual data surgery. The job reports drift, it does not
// repair it: a silent rewrite would hide the bug that caused it.
type ReconcileAccountsJob struct {
	accounts gamification.AccountRepository
	ledger   gamification.LedgerRepository
	log      *logger.Logger
}

// NewReconcileAccountsJob creates a new ReconcileAccountsJob.
func NewReconcileAccountsJob(accounts gamification.AccountRepository, ledger gamification.LedgerRepository, log *logger.Logger) *ReconcileAccountsJob {
	return &ReconcileAccountsJob{
		accounts: accounts,
		ledger:   ledger,
		log:      log.With(logger.Component("reconcile_accounts")),
	}
}

// Name returns the job name.
func (j *ReconcileAccountsJob) Name() string {
	return "reconcile_accounts"
}

// Description returns a human-readable description.
func (j *ReconcileAccountsJob) Description() string {
	return "Verifies account totals against the points ledger"
}

// Run compares every account total with its ledger sum.
func (j *ReconcileAccountsJob) Run(ctx context.Context) error {
	accounts, err := j.accounts.TopByPoints(ctx, 0)
	if err != nil {
		return fmt.Errorf("reconcile_accounts: failed to list accounts: %w", err)
	}

	drifted := 0
	for _, account := range accounts {
		sum, err := j.ledger.SumByStudent(ctx, account.StudentID)
		if err != nil {
			return fmt.Errorf("reconcile_accounts: failed to sum ledger for %s: %w", account.StudentID, err)
		}

		if account.TotalPoints.Int() != sum {
			drifted++
			j.log.Error("account total drifted from ledger",
				logger.StudentID(account.StudentID.String()),
				logger.Int("account_total", account.TotalPoints.Int()),
				logger.Int("ledger_sum", sum),
			)
		}
	}

	j.log.Info("account reconciliation finished",
		logger.Int("accounts_checked", len(accounts)),
		logger.Int("accounts_drifted", drifted),
	)

	if drifted > 0 {
		return fmt.Errorf("reconcile_accounts: %d account(s) drifted from the ledger", drifted)
	}
	return nil
}
