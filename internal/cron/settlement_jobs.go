package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/vcledger/internal/settlement"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

type invoiceExpirer interface {
	ExpireInvoices(ctx context.Context) (*settlement.BatchResult, error)
}

type settlementResumer interface {
	ResumeSettlements(ctx context.Context) (*settlement.BatchResult, error)
}

type InvoiceExpiryJobParams struct {
	Logger     *logger.Logger
	Settlement invoiceExpirer
}

// NewInvoiceExpiryJob closes pending invoices past their due date and
// cancels their carts.
func NewInvoiceExpiryJob(params InvoiceExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Settlement == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	return &batchJob{
		name: "invoice-expiry",
		logg: params.Logger,
		run:  params.Settlement.ExpireInvoices,
	}, nil
}

type SettlementResumeJobParams struct {
	Logger     *logger.Logger
	Settlement settlementResumer
}

// NewSettlementResumeJob finishes settlements interrupted between the
// invoice update and the receipt, or between invoice failure and cart
// cancellation.
func NewSettlementResumeJob(params SettlementResumeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Settlement == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	return &batchJob{
		name: "settlement-resume",
		logg: params.Logger,
		run:  params.Settlement.ResumeSettlements,
	}, nil
}

type batchJob struct {
	name string
	logg *logger.Logger
	run  func(ctx context.Context) (*settlement.BatchResult, error)
}

func (j *batchJob) Name() string { return j.name }

func (j *batchJob) Run(ctx context.Context) error {
	res, err := j.run(ctx)
	if res != nil && (res.Processed > 0 || res.Failed > 0) {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"processed": res.Processed,
			"failed":    res.Failed,
		})
		j.logg.Info(logCtx, "settlement batch finished")
	}
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	return nil
}
