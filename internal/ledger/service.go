package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/vcledger/pkg/db"
	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/logger"
	"github.com/angelmondragon/vcledger/pkg/outbox"
	"github.com/angelmondragon/vcledger/pkg/outbox/payloads"
)

const defaultVerifyBatchSize = 500

// chainAlertNamespace derives one alert aggregate per broken event.
var chainAlertNamespace = uuid.MustParse("3f6c2a4e-8d0b-5b7e-9a51-0c4d2e7f1b93")

// Service appends to and verifies per-tenant inventory event chains.
type Service interface {
	Append(ctx context.Context, event NewEvent) (*models.InventoryEvent, error)
	AppendBatch(ctx context.Context, tenantID uuid.UUID, build BatchBuilder) ([]models.InventoryEvent, error)
	VerifyChain(ctx context.Context, tenantID uuid.UUID, fromEventID *uuid.UUID) (*ChainVerification, error)
	ResumeChain(ctx context.Context, tenantID, actorID uuid.UUID) (*ChainVerification, error)
	Head(ctx context.Context, tenantID uuid.UUID) (*models.InventoryChainHead, error)
	ListEvents(ctx context.Context, tenantID uuid.UUID, afterSequence int64, limit int) ([]models.InventoryEvent, error)
	Tenants(ctx context.Context) ([]uuid.UUID, error)
}

// BatchBuilder runs inside the append transaction after the chain head is
// locked. It must only read through tx.
type BatchBuilder func(ctx context.Context, tx *gorm.DB) ([]NewEvent, error)

// NewEvent is the caller-supplied part of an inventory event.
type NewEvent struct {
	TenantID      uuid.UUID
	CatalogItemID string
	LotID         *uuid.UUID
	LocationID    uuid.UUID
	Type          enums.InventoryEventType
	Quantity      int64
	CartID        *uuid.UUID
	ReceiptID     *uuid.UUID
	Reason        *string
	ActorID       uuid.UUID
}

// Validate checks the event shape before it is chained.
func (e NewEvent) Validate() error {
	if e.TenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if strings.TrimSpace(e.CatalogItemID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "catalog item id is required")
	}
	if e.LocationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "location id is required")
	}
	if e.ActorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	if !e.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid inventory event type %q", e.Type))
	}
	if e.Quantity == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be non-zero")
	}
	if e.Type != enums.InventoryEventAdjustment && e.Quantity < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s quantity must be positive", e.Type))
	}
	if e.Type == enums.InventoryEventAdjustment && (e.Reason == nil || strings.TrimSpace(*e.Reason) == "") {
		return pkgerrors.New(pkgerrors.CodeValidation, "adjustment reason is required")
	}
	switch e.Type {
	case enums.InventoryEventReserve, enums.InventoryEventRelease:
		if e.CartID == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s requires a cart id", e.Type))
		}
	case enums.InventoryEventSale:
		if e.CartID == nil || e.ReceiptID == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "sale requires cart and receipt ids")
		}
	}
	return nil
}

// ChainVerification reports the outcome of a chain walk.
type ChainVerification struct {
	TenantID       uuid.UUID  `json:"tenantId"`
	Valid          bool       `json:"valid"`
	BrokenAt       *uuid.UUID `json:"brokenAt,omitempty"`
	BrokenSequence int64      `json:"brokenSequence,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	Checked        int64      `json:"checked"`
	HeadSequence   int64      `json:"headSequence"`
	Halted         bool       `json:"halted"`
}

type chainBreak struct {
	eventID  uuid.UUID
	sequence int64
	expected string
	actual   string
	reason   string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ledgerMetrics interface {
	IncAppended(eventType string, n int)
	ObserveAppend(duration time.Duration)
	IncIntegrityViolation(source string)
}

// ServiceParams groups the ledger dependencies.
type ServiceParams struct {
	DB              txRunner
	Repo            Repository
	Outbox          outboxEmitter
	Metrics         ledgerMetrics
	Logger          *logger.Logger
	VerifyBatchSize int
	Clock           func() time.Time
}

type service struct {
	db          txRunner
	repo        Repository
	outbox      outboxEmitter
	metrics     ledgerMetrics
	logg        *logger.Logger
	verifyBatch int
	clock       func() time.Time

	mu      sync.Mutex
	tenants map[uuid.UUID]*sync.Mutex
}

// NewService wires a ledger service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	batch := params.VerifyBatchSize
	if batch <= 0 {
		batch = defaultVerifyBatchSize
	}
	clock := params.Clock
	if clock == nil {
		clock = dbpkg.NowUTC
	}
	return &service{
		db:          params.DB,
		repo:        params.Repo,
		outbox:      params.Outbox,
		metrics:     params.Metrics,
		logg:        params.Logger,
		verifyBatch: batch,
		clock:       clock,
		tenants:     map[uuid.UUID]*sync.Mutex{},
	}, nil
}

func (s *service) Append(ctx context.Context, event NewEvent) (*models.InventoryEvent, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	events, err := s.AppendBatch(ctx, event.TenantID, func(context.Context, *gorm.DB) ([]NewEvent, error) {
		return []NewEvent{event}, nil
	})
	if err != nil {
		return nil, err
	}
	return &events[0], nil
}

// AppendBatch serialises on the tenant, row locks the chain head and appends
// whatever the builder returns in one transaction.
func (s *service) AppendBatch(ctx context.Context, tenantID uuid.UUID, build BatchBuilder) ([]models.InventoryEvent, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if build == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "batch builder required")
	}

	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()
	started := time.Now()

	var (
		appended []models.InventoryEvent
		brk      *chainBreak
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.EnsureHead(ctx, tenantID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "ensure chain head")
		}
		head, err := repo.LockHead(ctx, tenantID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock chain head")
		}
		if head.Halted {
			return pkgerrors.New(pkgerrors.CodeIntegrity, "ledger chain halted: "+derefString(head.HaltedReason))
		}
		if brk, err = s.checkTip(ctx, repo, head); err != nil {
			return err
		}
		if brk != nil {
			return pkgerrors.New(pkgerrors.CodeIntegrity, brk.reason)
		}

		inputs, err := build(ctx, tx)
		if err != nil {
			return err
		}
		if len(inputs) == 0 {
			return nil
		}

		now := s.clock().UTC().Truncate(time.Microsecond)
		prev := head.HeadHash
		seq := head.Sequence
		rows := make([]models.InventoryEvent, 0, len(inputs))
		for _, in := range inputs {
			if in.TenantID != tenantID {
				return pkgerrors.New(pkgerrors.CodeValidation, "event tenant does not match chain")
			}
			if err := in.Validate(); err != nil {
				return err
			}
			seq++
			row := models.InventoryEvent{
				ID:            uuid.New(),
				TenantID:      tenantID,
				Sequence:      seq,
				CatalogItemID: in.CatalogItemID,
				LotID:         in.LotID,
				LocationID:    in.LocationID,
				Type:          in.Type,
				Quantity:      in.Quantity,
				CartID:        in.CartID,
				ReceiptID:     in.ReceiptID,
				Reason:        in.Reason,
				ActorID:       in.ActorID,
				PrevHash:      prev,
				CreatedAt:     now,
			}
			row.Hash = ComputeHash(&row, prev)
			prev = row.Hash
			rows = append(rows, row)
		}

		if err := repo.InsertEvents(ctx, rows); err != nil {
			if isChainCollision(err) {
				brk = &chainBreak{
					eventID:  rows[0].ID,
					sequence: rows[0].Sequence,
					expected: head.HeadHash,
					actual:   rows[0].PrevHash,
					reason:   "concurrent append collided on chain position",
				}
				return pkgerrors.Wrap(pkgerrors.CodeIntegrity, err, brk.reason)
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert inventory events")
		}
		last := rows[len(rows)-1]
		if err := repo.AdvanceHead(ctx, tenantID, last.Sequence, last.ID, last.Hash); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advance chain head")
		}
		appended = rows
		return nil
	})
	if brk != nil {
		s.recordBreak(ctx, tenantID, brk, "append")
	}
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveAppend(time.Since(started))
		for eventType, n := range countByType(appended) {
			s.metrics.IncAppended(eventType, n)
		}
	}
	return appended, nil
}

// checkTip recomputes the last stored event and compares it with the head.
func (s *service) checkTip(ctx context.Context, repo Repository, head *models.InventoryChainHead) (*chainBreak, error) {
	if head.Sequence == 0 {
		if head.HeadHash != GenesisHash {
			return &chainBreak{expected: GenesisHash, actual: head.HeadHash, reason: "empty chain head is not genesis"}, nil
		}
		return nil, nil
	}
	last, err := repo.FindBySequence(ctx, head.TenantID, head.Sequence)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			brk := &chainBreak{sequence: head.Sequence, expected: head.HeadHash, reason: "head event missing"}
			if head.HeadEventID != nil {
				brk.eventID = *head.HeadEventID
			}
			return brk, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load chain tip")
	}
	recomputed := ComputeHash(last, last.PrevHash)
	if recomputed != last.Hash || last.Hash != head.HeadHash {
		return &chainBreak{
			eventID:  last.ID,
			sequence: last.Sequence,
			expected: head.HeadHash,
			actual:   recomputed,
			reason:   "chain tip hash mismatch",
		}, nil
	}
	return nil, nil
}

// VerifyChain walks the chain and reports the first break. A broken chain is
// reported, halted and alerted; it is never returned as an error.
func (s *service) VerifyChain(ctx context.Context, tenantID uuid.UUID, fromEventID *uuid.UUID) (*ChainVerification, error) {
	result, brk, err := s.walk(ctx, tenantID, fromEventID)
	if err != nil {
		return nil, err
	}
	if brk != nil {
		s.recordBreak(ctx, tenantID, brk, "verify")
		result.Halted = true
	}
	return result, nil
}

// ResumeChain clears a halt once the chain verifies again from genesis.
func (s *service) ResumeChain(ctx context.Context, tenantID, actorID uuid.UUID) (*ChainVerification, error) {
	if actorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	result, brk, err := s.walk(ctx, tenantID, nil)
	if err != nil {
		return nil, err
	}
	if brk != nil {
		return nil, pkgerrors.New(pkgerrors.CodeIntegrity, fmt.Sprintf("chain still broken at sequence %d: %s", brk.sequence, brk.reason)).
			WithDetails(result)
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.EnsureHead(ctx, tenantID); err != nil {
			return err
		}
		if _, err := repo.LockHead(ctx, tenantID); err != nil {
			return err
		}
		hash := GenesisHash
		var eventID *uuid.UUID
		if result.HeadSequence > 0 {
			tail, err := repo.FindBySequence(ctx, tenantID, result.HeadSequence)
			if err != nil {
				return err
			}
			hash = tail.Hash
			eventID = &tail.ID
		}
		return repo.ClearHalt(ctx, tenantID, result.HeadSequence, eventID, hash)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resume chain")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"tenant_id": tenantID.String(),
			"actor_id":  actorID.String(),
			"sequence":  result.HeadSequence,
		})
		s.logg.Warn(logCtx, "ledger chain resumed")
	}
	result.Halted = false
	return result, nil
}

func (s *service) walk(ctx context.Context, tenantID uuid.UUID, fromEventID *uuid.UUID) (*ChainVerification, *chainBreak, error) {
	if tenantID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	result := &ChainVerification{TenantID: tenantID, Valid: true}

	head, err := s.repo.GetHead(ctx, tenantID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load chain head")
	}
	if head != nil {
		result.Halted = head.Halted
	}

	after := int64(0)
	prevHash := GenesisHash
	if fromEventID != nil {
		from, err := s.repo.FindByID(ctx, *fromEventID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "event not found")
			}
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load start event")
		}
		if from.TenantID != tenantID {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "event not found")
		}
		after = from.Sequence - 1
		if after > 0 {
			prev, err := s.repo.FindBySequence(ctx, tenantID, after)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return s.broken(result, &chainBreak{eventID: from.ID, sequence: from.Sequence, reason: "predecessor missing"})
				}
				return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load predecessor")
			}
			prevHash = prev.Hash
		}
	}

	last := after
	for {
		batch, err := s.repo.ListAfter(ctx, tenantID, last, s.verifyBatch)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list chain events")
		}
		for i := range batch {
			ev := &batch[i]
			switch {
			case ev.Sequence != last+1:
				return s.broken(result, &chainBreak{eventID: ev.ID, sequence: ev.Sequence, reason: fmt.Sprintf("sequence gap after %d", last)})
			case ev.PrevHash != prevHash:
				return s.broken(result, &chainBreak{eventID: ev.ID, sequence: ev.Sequence, expected: prevHash, actual: ev.PrevHash, reason: "prev hash mismatch"})
			}
			if recomputed := ComputeHash(ev, ev.PrevHash); recomputed != ev.Hash {
				return s.broken(result, &chainBreak{eventID: ev.ID, sequence: ev.Sequence, expected: ev.Hash, actual: recomputed, reason: "hash mismatch"})
			}
			prevHash = ev.Hash
			last = ev.Sequence
			result.Checked++
		}
		if len(batch) < s.verifyBatch {
			break
		}
	}
	result.HeadSequence = last

	if head != nil && (head.Sequence != last || head.HeadHash != prevHash) {
		brk := &chainBreak{sequence: head.Sequence, expected: head.HeadHash, actual: prevHash, reason: "chain head diverged from stored events"}
		if head.HeadEventID != nil {
			brk.eventID = *head.HeadEventID
		}
		return s.broken(result, brk)
	}
	return result, nil, nil
}

func (s *service) broken(result *ChainVerification, brk *chainBreak) (*ChainVerification, *chainBreak, error) {
	result.Valid = false
	result.Reason = brk.reason
	result.BrokenSequence = brk.sequence
	if brk.eventID != uuid.Nil {
		id := brk.eventID
		result.BrokenAt = &id
	}
	return result, brk, nil
}

// recordBreak halts the tenant chain and queues an operator alert. Failures
// here are logged; the caller already reports the break.
func (s *service) recordBreak(ctx context.Context, tenantID uuid.UUID, brk *chainBreak, source string) {
	if s.metrics != nil {
		s.metrics.IncIntegrityViolation(source)
	}
	now := s.clock().UTC()
	reason := fmt.Sprintf("%s at sequence %d", brk.reason, brk.sequence)

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.EnsureHead(ctx, tenantID); err != nil {
			return err
		}
		if err := repo.Halt(ctx, tenantID, reason, now); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLedgerChainBroken,
			AggregateType: enums.AggregateLedgerChain,
			AggregateID:   uuid.NewSHA1(chainAlertNamespace, []byte(tenantID.String()+"|"+brk.eventID.String())),
			Actor:         &outbox.ActorRef{TenantID: tenantID, Role: string(enums.ActorRoleSystem)},
			OccurredAt:    now,
			Data: payloads.LedgerChainBrokenEvent{
				TenantID:     tenantID,
				EventID:      brk.eventID,
				Sequence:     brk.sequence,
				ExpectedHash: brk.expected,
				ActualHash:   brk.actual,
				Reason:       brk.reason,
				DetectedAt:   now,
				DetectedBy:   source,
			},
		})
	})

	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"tenant_id":      tenantID.String(),
		"event_id":       brk.eventID.String(),
		"sequence":       brk.sequence,
		"expected_hash":  brk.expected,
		"actual_hash":    brk.actual,
		"detected_by":    source,
		"halt_persisted": err == nil,
	})
	s.logg.Error(logCtx, "ledger chain integrity violation", pkgerrors.New(pkgerrors.CodeIntegrity, reason))
	if err != nil {
		s.logg.Error(logCtx, "failed to halt ledger chain", err)
	}
}

func (s *service) Head(ctx context.Context, tenantID uuid.UUID) (*models.InventoryChainHead, error) {
	head, err := s.repo.GetHead(ctx, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.InventoryChainHead{TenantID: tenantID, HeadHash: GenesisHash}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load chain head")
	}
	return head, nil
}

func (s *service) ListEvents(ctx context.Context, tenantID uuid.UUID, afterSequence int64, limit int) ([]models.InventoryEvent, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if limit <= 0 || limit > s.verifyBatch {
		limit = s.verifyBatch
	}
	events, err := s.repo.ListAfter(ctx, tenantID, afterSequence, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list events")
	}
	return events, nil
}

func (s *service) Tenants(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.ListTenants(ctx)
}

func (s *service) tenantLock(tenantID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.tenants[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		s.tenants[tenantID] = lock
	}
	return lock
}

func isChainCollision(err error) bool {
	return dbpkg.IsUniqueViolation(err, "ux_inventory_events_tenant_prev_hash") ||
		dbpkg.IsUniqueViolation(err, "ux_inventory_events_tenant_sequence") ||
		dbpkg.IsUniqueViolation(err, "inventory_events.prev_hash") ||
		dbpkg.IsUniqueViolation(err, "inventory_events.sequence")
}

func countByType(events []models.InventoryEvent) map[string]int {
	counts := map[string]int{}
	for _, ev := range events {
		counts[string(ev.Type)]++
	}
	return counts
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
