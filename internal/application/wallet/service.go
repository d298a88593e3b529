package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/domain/apperr"
	"cookie-wallet/internal/domain/transaction"
	"cookie-wallet/internal/domain/wallet"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

const defaultHistoryLimit = 20

// MaxHistoryLimit 台帳取得1回あたりの最大件数
const MaxHistoryLimit = 200

// Settings バッチの既定値と消費順序
type Settings struct {
	DebitPolicy      wallet.DebitPolicy
	PurchaseBatchTTL time.Duration // 0は無期限
	RefundBatchTTL   time.Duration
	BonusBatchTTL    time.Duration
}

// WalletApplicationService クッキーウォレットアプリケーションサービス
type WalletApplicationService struct {
	balanceRepo    wallet.BalanceRepository
	batchRepo      wallet.BatchRepository
	ledgerRepo     wallet.LedgerRepository
	allocationRepo wallet.AllocationRepository
	txManager      transaction.TransactionManager
	settings       Settings
	logger         *otelinfra.Logger
	metrics        *otelinfra.Metrics
	tracer         trace.Tracer
	now            func() time.Time
	newID          func() string
}

// NewWalletApplicationService 新しいWalletApplicationServiceを作成
func NewWalletApplicationService(
	balanceRepo wallet.BalanceRepository,
	batchRepo wallet.BatchRepository,
	ledgerRepo wallet.LedgerRepository,
	allocationRepo wallet.AllocationRepository,
	txManager transaction.TransactionManager,
	settings Settings,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *WalletApplicationService {
	if settings.DebitPolicy == "" {
		settings.DebitPolicy = wallet.PolicyExpiryFirst
	}
	return &WalletApplicationService{
		balanceRepo:    balanceRepo,
		batchRepo:      batchRepo,
		ledgerRepo:     ledgerRepo,
		allocationRepo: allocationRepo,
		txManager:      txManager,
		settings:       settings,
		logger:         logger,
		metrics:        metrics,
		tracer:         otel.Tracer("wallet-service"),
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
	}
}

// fail スパンとログに失敗を記録する。業務上の拒否は警告として扱う
func (s *WalletApplicationService) fail(ctx context.Context, span trace.Span, msg string, err error, fields map[string]interface{}) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindConflict, apperr.KindState, apperr.KindNotFound:
		fields["error"] = err.Error()
		s.logger.Warn(ctx, msg, fields)
	default:
		s.logger.Error(ctx, msg, err, fields)
		s.metrics.RecordError(ctx, "wallet")
	}
}

// lockBalance 残高行をロックして取得する。createがtrueなら行がなければ作成する
func (s *WalletApplicationService) lockBalance(ctx context.Context, userID string, create bool) (*wallet.Balance, error) {
	bal, err := s.balanceRepo.FindByUserIDForUpdate(ctx, userID)
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, wallet.ErrWalletNotFound) || !create {
		return nil, err
	}
	if err := s.balanceRepo.Create(ctx, wallet.NewBalance(userID, s.now())); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return s.balanceRepo.FindByUserIDForUpdate(ctx, userID)
}

func (s *WalletApplicationService) expiryFor(source wallet.BatchSource, explicit *time.Time, now time.Time) time.Time {
	if explicit != nil {
		return *explicit
	}
	var ttl time.Duration
	switch source {
	case wallet.BatchSourcePurchase:
		ttl = s.settings.PurchaseBatchTTL
	case wallet.BatchSourceRefund:
		ttl = s.settings.RefundBatchTTL
	case wallet.BatchSourceBonus, wallet.BatchSourceAdmin:
		ttl = s.settings.BonusBatchTTL
	}
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Debit クッキーを消費する。消費順序に従ってバッチから引き当て、割当を記録する
func (s *WalletApplicationService) Debit(ctx context.Context, req *DebitRequest) (*MutationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.Debit")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Int64("amount", req.Amount),
		attribute.String("reference_id", req.Reference.ID),
		attribute.Bool("release_hold", req.ReleaseHold),
	)
	fields := map[string]interface{}{
		"user_id":      req.UserID,
		"amount":       req.Amount,
		"reference_id": req.Reference.ID,
	}

	if req.Amount <= 0 {
		s.fail(ctx, span, "Invalid debit amount", wallet.ErrInvalidAmount, fields)
		return nil, wallet.ErrInvalidAmount
	}

	var resp *MutationResponse
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		now := s.now()
		bal, err := s.lockBalance(ctx, req.UserID, false)
		if errors.Is(err, wallet.ErrWalletNotFound) {
			return &wallet.InsufficientBalanceError{Requested: req.Amount, Available: 0}
		}
		if err != nil {
			return err
		}

		batches, err := s.batchRepo.FindActiveByUserID(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("failed to find batches: %w", err)
		}

		// 確保解放後も残る確保分は引き当てられない
		frozenAfter := bal.FrozenAmount()
		if req.ReleaseHold {
			frozenAfter -= min(req.Amount, frozenAfter)
		}
		spendable := wallet.SpendableTotal(batches, now) - frozenAfter
		if spendable < req.Amount {
			return &wallet.InsufficientBalanceError{Requested: req.Amount, Available: max(spendable, 0)}
		}

		plan, err := wallet.PlanDebit(batches, req.Amount, now, s.settings.DebitPolicy)
		if err != nil {
			return err
		}

		allocations := make([]*wallet.Allocation, 0, len(plan))
		details := make([]AllocationDetail, 0, len(plan))
		for _, p := range plan {
			if err := p.Batch.Consume(p.Quantity, now); err != nil {
				return err
			}
			if err := s.batchRepo.Update(ctx, p.Batch); err != nil {
				return fmt.Errorf("failed to update batch: %w", err)
			}
			allocations = append(allocations, wallet.NewAllocation(s.newID(), req.UserID, p.Batch.ID(), req.Reference, p.Quantity, now))
			details = append(details, AllocationDetail{
				BatchID:   p.Batch.ID(),
				BatchType: p.Batch.Type().String(),
				Quantity:  p.Quantity,
			})
		}

		if err := bal.Debit(req.Amount, req.ReleaseHold, now); err != nil {
			return err
		}
		if err := s.balanceRepo.Update(ctx, bal); err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}

		entry, err := wallet.NewLedgerEntry(s.newID(), req.UserID, wallet.EntryTypeDebit, req.Amount, bal.Amount(), req.Reference, now)
		if err != nil {
			return err
		}
		if err := s.ledgerRepo.Append(ctx, entry); err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
		if err := s.allocationRepo.SaveAll(ctx, allocations); err != nil {
			return fmt.Errorf("failed to save allocations: %w", err)
		}

		resp = &MutationResponse{
			UserID:       req.UserID,
			EntryID:      entry.ID(),
			Amount:       req.Amount,
			BalanceAfter: bal.Amount(),
			Available:    bal.Available(),
			Allocations:  details,
		}
		return nil
	})
	if err != nil {
		s.fail(ctx, span, "Failed to debit cookies", err, fields)
		return nil, err
	}

	fields["balance_after"] = resp.BalanceAfter
	fields["batches"] = len(resp.Allocations)
	transaction.AfterCommit(ctx, func() {
		s.metrics.RecordLedger(ctx, wallet.EntryTypeDebit.String(), req.Amount)
		s.logger.Info(ctx, "Cookies debited", fields)
	})
	return resp, nil
}

// Credit クッキーを付与する。付与ごとに新しいバッチを作成する
func (s *WalletApplicationService) Credit(ctx context.Context, req *CreditRequest) (*MutationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.Credit")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Int64("amount", req.Amount),
		attribute.String("batch_type", req.BatchType.String()),
		attribute.String("source", req.Source.String()),
	)
	fields := map[string]interface{}{
		"user_id":      req.UserID,
		"amount":       req.Amount,
		"source":       req.Source.String(),
		"reference_id": req.Reference.ID,
	}

	if _, err := wallet.NewBatchType(req.BatchType.String()); err != nil {
		s.fail(ctx, span, "Invalid batch type", err, fields)
		return nil, err
	}
	if _, err := wallet.NewBatchSource(req.Source.String()); err != nil {
		s.fail(ctx, span, "Invalid batch source", err, fields)
		return nil, err
	}

	entryType := wallet.EntryTypeCharge
	if req.Source == wallet.BatchSourceRefund {
		entryType = wallet.EntryTypeRefund
	}

	var resp *MutationResponse
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		now := s.now()
		expiresAt := s.expiryFor(req.Source, req.ExpiresAt, now)
		if !expiresAt.IsZero() && !expiresAt.After(now) {
			return apperr.Validation("invalid_expiry", "batch expiry must be in the future")
		}

		batch, err := wallet.NewBatch(s.newID(), req.UserID, req.Amount, req.BatchType, req.Source, expiresAt, "", now)
		if err != nil {
			return err
		}
		bal, err := s.lockBalance(ctx, req.UserID, true)
		if err != nil {
			return err
		}
		if err := bal.Credit(req.Amount, now); err != nil {
			return err
		}
		if err := s.batchRepo.Create(ctx, batch); err != nil {
			return fmt.Errorf("failed to create batch: %w", err)
		}
		if err := s.balanceRepo.Update(ctx, bal); err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}

		entry, err := wallet.NewLedgerEntry(s.newID(), req.UserID, entryType, req.Amount, bal.Amount(), req.Reference, now)
		if err != nil {
			return err
		}
		if err := s.ledgerRepo.Append(ctx, entry); err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}

		resp = &MutationResponse{
			UserID:       req.UserID,
			EntryID:      entry.ID(),
			Amount:       req.Amount,
			BalanceAfter: bal.Amount(),
			Available:    bal.Available(),
			Allocations: []AllocationDetail{{
				BatchID:   batch.ID(),
				BatchType: batch.Type().String(),
				Quantity:  req.Amount,
			}},
		}
		return nil
	})
	if err != nil {
		s.fail(ctx, span, "Failed to credit cookies", err, fields)
		return nil, err
	}

	fields["balance_after"] = resp.BalanceAfter
	transaction.AfterCommit(ctx, func() {
		s.metrics.RecordLedger(ctx, entryType.String(), req.Amount)
		s.logger.Info(ctx, "Cookies credited", fields)
	})
	return resp, nil
}

// Freeze 決済待ちの間、指定量を確保する
func (s *WalletApplicationService) Freeze(ctx context.Context, userID string, amount int64) error {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.Freeze")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID), attribute.Int64("amount", amount))
	fields := map[string]interface{}{"user_id": userID, "amount": amount}

	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		now := s.now()
		bal, err := s.lockBalance(ctx, userID, false)
		if errors.Is(err, wallet.ErrWalletNotFound) {
			return &wallet.InsufficientBalanceError{Requested: amount, Available: 0}
		}
		if err != nil {
			return err
		}
		batches, err := s.batchRepo.FindActiveByUserID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to find batches: %w", err)
		}
		// 期限切れで未失効のバッチは確保の対象にしない
		available := min(bal.Available(), wallet.SpendableTotal(batches, now)-bal.FrozenAmount())
		if available < amount {
			return &wallet.InsufficientBalanceError{Requested: amount, Available: max(available, 0)}
		}
		if err := bal.Freeze(amount, now); err != nil {
			return err
		}
		if err := s.balanceRepo.Update(ctx, bal); err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}
		return nil
	})
	if err != nil {
		s.fail(ctx, span, "Failed to freeze cookies", err, fields)
		return err
	}

	s.logger.Info(ctx, "Cookies frozen", fields)
	return nil
}

// Unfreeze 確保を解放し、実際に解放した量を返す
func (s *WalletApplicationService) Unfreeze(ctx context.Context, userID string, amount int64) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.Unfreeze")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID), attribute.Int64("amount", amount))
	fields := map[string]interface{}{"user_id": userID, "amount": amount}

	var released int64
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		bal, err := s.lockBalance(ctx, userID, false)
		if errors.Is(err, wallet.ErrWalletNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		released, err = bal.Unfreeze(amount, s.now())
		if err != nil {
			return err
		}
		if released == 0 {
			return nil
		}
		return s.balanceRepo.Update(ctx, bal)
	})
	if err != nil {
		s.fail(ctx, span, "Failed to unfreeze cookies", err, fields)
		return 0, err
	}

	fields["released"] = released
	s.logger.Info(ctx, "Cookies unfrozen", fields)
	return released, nil
}

// Available 今すぐ使える量を返す。期限切れで未失効のバッチは含めない
func (s *WalletApplicationService) Available(ctx context.Context, userID string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.Available")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	bal, err := s.balanceRepo.FindByUserID(ctx, userID)
	if errors.Is(err, wallet.ErrWalletNotFound) {
		return 0, nil
	}
	if err != nil {
		s.fail(ctx, span, "Failed to get wallet", err, map[string]interface{}{"user_id": userID})
		return 0, err
	}
	batches, err := s.batchRepo.FindActiveByUserID(ctx, userID)
	if err != nil {
		s.fail(ctx, span, "Failed to find batches", err, map[string]interface{}{"user_id": userID})
		return 0, err
	}

	available := min(bal.Available(), wallet.SpendableTotal(batches, s.now())-bal.FrozenAmount())
	return max(available, 0), nil
}

// GetWallet ウォレットと有効なバッチを取得
func (s *WalletApplicationService) GetWallet(ctx context.Context, userID string) (*WalletResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.GetWallet")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	resp := &WalletResponse{UserID: userID, Batches: []BatchDetail{}}
	bal, err := s.balanceRepo.FindByUserID(ctx, userID)
	if errors.Is(err, wallet.ErrWalletNotFound) {
		return resp, nil
	}
	if err != nil {
		s.fail(ctx, span, "Failed to get wallet", err, map[string]interface{}{"user_id": userID})
		return nil, err
	}
	batches, err := s.batchRepo.FindActiveByUserID(ctx, userID)
	if err != nil {
		s.fail(ctx, span, "Failed to find batches", err, map[string]interface{}{"user_id": userID})
		return nil, err
	}

	now := s.now()
	spendable := wallet.SpendableTotal(batches, now)
	resp.Amount = bal.Amount()
	resp.FrozenAmount = bal.FrozenAmount()
	resp.Available = max(min(bal.Available(), spendable-bal.FrozenAmount()), 0)
	resp.DailyLimit = bal.DailyLimit()
	resp.MonthlyLimit = bal.MonthlyLimit()
	for _, b := range wallet.OrderForDebit(batches, now, s.settings.DebitPolicy) {
		detail := BatchDetail{
			BatchID:   b.ID(),
			BatchType: b.Type().String(),
			Source:    b.Source().String(),
			QtyTotal:  b.QtyTotal(),
			QtyRemain: b.QtyRemain(),
			CreatedAt: b.CreatedAt(),
		}
		if !b.ExpiresAt().IsZero() {
			expiresAt := b.ExpiresAt()
			detail.ExpiresAt = &expiresAt
		}
		resp.Batches = append(resp.Batches, detail)
	}
	return resp, nil
}

// History 台帳を新しい順に取得
func (s *WalletApplicationService) History(ctx context.Context, userID string, limit, offset int) (*HistoryResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.History")
	defer span.End()

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)

	entries, err := s.ledgerRepo.FindByUserID(ctx, userID, limit, offset)
	if err != nil {
		s.fail(ctx, span, "Failed to get ledger history", err, map[string]interface{}{"user_id": userID})
		return nil, err
	}

	resp := &HistoryResponse{
		UserID:  userID,
		Entries: make([]LedgerEntryDetail, 0, len(entries)),
		Limit:   limit,
		Offset:  offset,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, LedgerEntryDetail{
			EntryID:       e.ID(),
			EntryType:     e.Type().String(),
			CookieAmount:  e.CookieAmount(),
			BalanceAfter:  e.BalanceAfter(),
			ReferenceType: e.Reference().Type,
			ReferenceID:   e.Reference().ID,
			CreatedAt:     e.CreatedAt(),
		})
	}
	return resp, nil
}

// Reconcile 台帳の合計とバッチ残量の合計を残高と照合する
func (s *WalletApplicationService) Reconcile(ctx context.Context, userID string) (*ReconcileResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.Reconcile")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))
	fields := map[string]interface{}{"user_id": userID}

	var amount int64
	bal, err := s.balanceRepo.FindByUserID(ctx, userID)
	switch {
	case errors.Is(err, wallet.ErrWalletNotFound):
	case err != nil:
		s.fail(ctx, span, "Failed to get wallet", err, fields)
		return nil, err
	default:
		amount = bal.Amount()
	}

	ledgerSum, err := s.ledgerRepo.SumByUserID(ctx, userID)
	if err != nil {
		s.fail(ctx, span, "Failed to sum ledger", err, fields)
		return nil, err
	}
	batches, err := s.batchRepo.FindActiveByUserID(ctx, userID)
	if err != nil {
		s.fail(ctx, span, "Failed to find batches", err, fields)
		return nil, err
	}
	var remain int64
	for _, b := range batches {
		remain += b.QtyRemain()
	}

	resp := &ReconcileResponse{
		UserID:         userID,
		Amount:         amount,
		LedgerSum:      ledgerSum,
		BatchRemainSum: remain,
		Consistent:     ledgerSum == amount && remain == amount,
	}
	fields["amount"] = amount
	fields["ledger_sum"] = ledgerSum
	fields["batch_remain_sum"] = remain
	if !resp.Consistent {
		s.metrics.RecordLedgerInconsistency(ctx)
		span.SetAttributes(attribute.Bool("consistent", false))
		s.logger.Error(ctx, "Ledger inconsistency detected",
			&wallet.InconsistencyError{UserID: userID, LedgerSum: ledgerSum, Amount: amount}, fields)
		return resp, nil
	}

	s.logger.Info(ctx, "Wallet reconciled", fields)
	return resp, nil
}

// ExpireBatches 期限切れのバッチを失効させる。ユーザーごとに別トランザクションで処理する
func (s *WalletApplicationService) ExpireBatches(ctx context.Context, limit int) (*ExpireResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.ExpireBatches")
	defer span.End()

	now := s.now()
	expired, err := s.batchRepo.FindExpired(ctx, now, limit)
	if err != nil {
		s.fail(ctx, span, "Failed to find expired batches", err, map[string]interface{}{})
		return nil, err
	}

	var users []string
	byUser := make(map[string][]string)
	for _, b := range expired {
		if _, ok := byUser[b.UserID()]; !ok {
			users = append(users, b.UserID())
		}
		byUser[b.UserID()] = append(byUser[b.UserID()], b.ID())
	}

	resp := &ExpireResponse{}
	var errs []error
	for _, userID := range users {
		batches, forfeited, err := s.expireForUser(ctx, userID, byUser[userID], now)
		if err != nil {
			s.logger.Error(ctx, "Failed to expire batches", err, map[string]interface{}{"user_id": userID})
			errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
			continue
		}
		if batches > 0 {
			resp.Users++
		}
		resp.Batches += batches
		resp.Forfeited += forfeited
	}

	span.SetAttributes(
		attribute.Int("batches", resp.Batches),
		attribute.Int64("forfeited", resp.Forfeited),
	)
	if resp.Forfeited > 0 {
		s.metrics.RecordLedger(ctx, wallet.EntryTypeExpire.String(), resp.Forfeited)
	}
	s.metrics.RecordSweep(ctx, "batch_expiry", int64(resp.Batches))
	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return resp, err
	}
	if resp.Batches > 0 {
		s.logger.Info(ctx, "Expired cookie batches", map[string]interface{}{
			"batches":   resp.Batches,
			"users":     resp.Users,
			"forfeited": resp.Forfeited,
		})
	}
	return resp, nil
}

func (s *WalletApplicationService) expireForUser(ctx context.Context, userID string, batchIDs []string, now time.Time) (int, int64, error) {
	var count int
	var total int64
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		bal, err := s.lockBalance(ctx, userID, false)
		if err != nil {
			return err
		}
		// ロック取得後に読み直し、並行する消費の結果を反映する
		batches, err := s.batchRepo.FindByIDs(ctx, batchIDs)
		if err != nil {
			return fmt.Errorf("failed to find batches: %w", err)
		}
		for _, b := range batches {
			wasActive := b.IsActive()
			forfeited := b.Expire(now)
			if !wasActive || b.IsActive() {
				continue
			}
			if err := s.batchRepo.Update(ctx, b); err != nil {
				return fmt.Errorf("failed to update batch: %w", err)
			}
			count++
			if forfeited == 0 {
				continue
			}
			if err := bal.Expire(forfeited, now); err != nil {
				return err
			}
			total += forfeited
			ref := wallet.Reference{Type: wallet.ReferenceTypeExpiry, ID: b.ID()}
			entry, err := wallet.NewLedgerEntry(s.newID(), userID, wallet.EntryTypeExpire, forfeited, bal.Amount(), ref, now)
			if err != nil {
				return err
			}
			if err := s.ledgerRepo.Append(ctx, entry); err != nil {
				return fmt.Errorf("failed to append ledger entry: %w", err)
			}
		}
		if total == 0 {
			return nil
		}
		return s.balanceRepo.Update(ctx, bal)
	})
	if err != nil {
		return 0, 0, err
	}
	return count, total, nil
}

// RestoreForRefund 返金された消費を戻す。割当を新しい順にたどり、元のバッチへ戻せない分は
// 種類ごとにまとめて新しいREFUNDバッチで付与する
func (s *WalletApplicationService) RestoreForRefund(ctx context.Context, req *RestoreRequest) (*RestoreResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.RestoreForRefund")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Int64("amount", req.Amount),
		attribute.String("order_reference", req.OrderReference.ID),
		attribute.String("refund_reference", req.RefundReference.ID),
	)
	fields := map[string]interface{}{
		"user_id":          req.UserID,
		"amount":           req.Amount,
		"order_reference":  req.OrderReference.ID,
		"refund_reference": req.RefundReference.ID,
	}

	if req.Amount <= 0 {
		s.fail(ctx, span, "Invalid restore amount", wallet.ErrInvalidAmount, fields)
		return nil, wallet.ErrInvalidAmount
	}

	var resp *RestoreResponse
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		now := s.now()
		bal, err := s.lockBalance(ctx, req.UserID, true)
		if err != nil {
			return err
		}

		allocations, err := s.allocationRepo.FindByReference(ctx, req.OrderReference)
		if err != nil {
			return fmt.Errorf("failed to find allocations: %w", err)
		}
		ids := make([]string, 0, len(allocations))
		seen := make(map[string]bool)
		for _, a := range allocations {
			if !seen[a.BatchID()] {
				seen[a.BatchID()] = true
				ids = append(ids, a.BatchID())
			}
		}
		byID := make(map[string]*wallet.Batch)
		if len(ids) > 0 {
			batches, err := s.batchRepo.FindByIDs(ctx, ids)
			if err != nil {
				return fmt.Errorf("failed to find batches: %w", err)
			}
			for _, b := range batches {
				byID[b.ID()] = b
			}
		}

		resp = &RestoreResponse{UserID: req.UserID, Amount: req.Amount, NewBatchIDs: []string{}}
		pooled := make(map[wallet.BatchType]int64)
		origin := make(map[wallet.BatchType]string)
		updated := make(map[string]*wallet.Batch)
		remaining := req.Amount
		for i := len(allocations) - 1; i >= 0 && remaining > 0; i-- {
			a := allocations[i]
			take := min(a.Restorable(), remaining)
			if take <= 0 {
				continue
			}
			b, ok := byID[a.BatchID()]
			switch {
			case ok && b.CanRestore(take, now):
				if err := b.Restore(take, now); err != nil {
					return err
				}
				updated[b.ID()] = b
				resp.RestoredInPlace += take
			case ok:
				pooled[b.Type()] += take
				if origin[b.Type()] == "" {
					origin[b.Type()] = b.ID()
				}
			default:
				pooled[wallet.BatchTypePaid] += take
			}
			if err := a.MarkRestored(take); err != nil {
				return err
			}
			if err := s.allocationRepo.UpdateRestored(ctx, a); err != nil {
				return fmt.Errorf("failed to update allocation: %w", err)
			}
			remaining -= take
		}
		if remaining > 0 {
			return fmt.Errorf("%w: %d cookies of %s have no allocation to restore",
				wallet.ErrLedgerInconsistent, remaining, req.OrderReference.ID)
		}

		for _, id := range ids {
			if b, ok := updated[id]; ok {
				if err := s.batchRepo.Update(ctx, b); err != nil {
					return fmt.Errorf("failed to update batch: %w", err)
				}
			}
		}

		expiresAt := s.expiryFor(wallet.BatchSourceRefund, nil, now)
		for _, t := range []wallet.BatchType{wallet.BatchTypePaid, wallet.BatchTypeFree} {
			qty := pooled[t]
			if qty == 0 {
				continue
			}
			nb, err := wallet.NewBatch(s.newID(), req.UserID, qty, t, wallet.BatchSourceRefund, expiresAt, origin[t], now)
			if err != nil {
				return err
			}
			if err := s.batchRepo.Create(ctx, nb); err != nil {
				return fmt.Errorf("failed to create batch: %w", err)
			}
			resp.Reissued += qty
			resp.NewBatchIDs = append(resp.NewBatchIDs, nb.ID())
		}

		if err := bal.Credit(req.Amount, now); err != nil {
			return err
		}
		if err := s.balanceRepo.Update(ctx, bal); err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}
		entry, err := wallet.NewLedgerEntry(s.newID(), req.UserID, wallet.EntryTypeRefund, req.Amount, bal.Amount(), req.RefundReference, now)
		if err != nil {
			return err
		}
		if err := s.ledgerRepo.Append(ctx, entry); err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
		resp.EntryID = entry.ID()
		resp.BalanceAfter = bal.Amount()
		return nil
	})
	if err != nil {
		s.fail(ctx, span, "Failed to restore cookies", err, fields)
		return nil, err
	}

	fields["restored_in_place"] = resp.RestoredInPlace
	fields["reissued"] = resp.Reissued
	transaction.AfterCommit(ctx, func() {
		s.metrics.RecordLedger(ctx, wallet.EntryTypeRefund.String(), req.Amount)
		s.logger.Info(ctx, "Cookies restored for refund", fields)
	})
	return resp, nil
}

// SetLimits ユーザー個別の上限を設定する
func (s *WalletApplicationService) SetLimits(ctx context.Context, userID string, daily, monthly int64) error {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.SetLimits")
	defer span.End()

	fields := map[string]interface{}{"user_id": userID, "daily_limit": daily, "monthly_limit": monthly}
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		bal, err := s.lockBalance(ctx, userID, true)
		if err != nil {
			return err
		}
		if err := bal.SetLimits(daily, monthly, s.now()); err != nil {
			return err
		}
		return s.balanceRepo.Update(ctx, bal)
	})
	if err != nil {
		s.fail(ctx, span, "Failed to set wallet limits", err, fields)
		return err
	}
	s.logger.Info(ctx, "Wallet limits updated", fields)
	return nil
}
