package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/vcledger/internal/ledger"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

type chainVerifier interface {
	Tenants(ctx context.Context) ([]uuid.UUID, error)
	VerifyChain(ctx context.Context, tenantID uuid.UUID, fromEventID *uuid.UUID) (*ledger.ChainVerification, error)
}

type ChainVerifyJobParams struct {
	Logger *logger.Logger
	Ledger chainVerifier
}

// NewChainVerifyJob walks every tenant chain. A broken chain halts itself
// inside VerifyChain; the job only reports it.
func NewChainVerifyJob(params ChainVerifyJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	return &chainVerifyJob{logg: params.Logger, ledger: params.Ledger}, nil
}

type chainVerifyJob struct {
	logg   *logger.Logger
	ledger chainVerifier
}

func (j *chainVerifyJob) Name() string { return "chain-verify" }

func (j *chainVerifyJob) Run(ctx context.Context) error {
	tenants, err := j.ledger.Tenants(ctx)
	if err != nil {
		return fmt.Errorf("list ledger tenants: %w", err)
	}
	var (
		errs   error
		broken int
		halted int
	)
	for _, tenantID := range tenants {
		res, err := j.ledger.VerifyChain(ctx, tenantID, nil)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("verify tenant %s: %w", tenantID, err))
			continue
		}
		if res.Halted {
			halted++
		}
		if !res.Valid {
			broken++
			logCtx := j.logg.WithFields(j.logg.WithTenantID(ctx, tenantID.String()), map[string]any{
				"broken_sequence": res.BrokenSequence,
				"reason":          res.Reason,
			})
			j.logg.Warn(logCtx, "ledger chain broken")
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"tenants": len(tenants),
		"broken":  broken,
		"halted":  halted,
	})
	j.logg.Info(logCtx, "ledger chains verified")
	return errs
}
