// Package ledger applies token credits to user balances with at-most-once
// effect per transaction key.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/decyphers/platform/internal/docstore"
	"github.com/decyphers/platform/internal/domain"
)

// Publisher receives events for committed credits.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// errSettled aborts a conditional write when the key needs no change.
var errSettled = errors.New("ledger: transaction already settled")

// errAccountExists aborts account setup when a record is already present.
var errAccountExists = errors.New("ledger: account exists")

// Engine reconciles purchases against the user documents in a store.
type Engine struct {
	store     docstore.Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates a ledger engine. publisher may be nil.
func NewEngine(store docstore.Store, publisher Publisher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// UserPath is the document path of a user's ledger record.
func UserPath(userID string) string {
	return docstore.JoinPath("users", userID)
}

// ledgerView is the subset of a user document the engine reads. Numbers are
// kept loose because other writers of the document are not strict about
// integer encoding.
type ledgerView struct {
	Tokens    json.Number                `json:"tokens"`
	Purchases map[string]json.RawMessage `json:"purchases"`
}

type purchaseView struct {
	Tokens json.Number           `json:"tokens"`
	Status domain.PurchaseStatus `json:"status"`
}

// ApplyCredit adds p.Tokens to the user's balance and records the purchase
// under p.TransactionKey, in one conditional write. Outcomes by existing
// record under the key:
//
//	none                      credit, record with incoming status
//	paid or completed         no write
//	pending, incoming pending no write
//	pending, incoming paid    promote, credit only tokens not yet granted
//
// A committed write is read back; a balance that differs fails with
// VerificationMismatch.
func (e *Engine) ApplyCredit(ctx context.Context, p domain.CreditParams) (*domain.CreditResult, error) {
	if err := domain.ValidateCredit(p); err != nil {
		return nil, err
	}
	if p.Purchase.Currency == "" {
		p.Purchase.Currency = "usd"
	}
	p.Purchase.Currency = strings.ToLower(p.Purchase.Currency)
	if p.Purchase.Type == "" {
		p.Purchase.Type = domain.PurchaseTypePurchase
	}

	log := e.logger.With("user_id", p.UserID, "transaction_key", p.TransactionKey)
	path := UserPath(p.UserID)
	now := e.now().UTC()

	var result *domain.CreditResult
	err := e.store.Transact(ctx, path, func(cur docstore.Node) (any, error) {
		result = nil

		var doc map[string]any
		if err := cur.Unmarshal(&doc); err != nil {
			return nil, fmt.Errorf("decode user document: %w", err)
		}
		if doc == nil {
			return nil, domain.ErrUserNotFound(p.UserID)
		}

		view, err := decodeView(doc)
		if err != nil {
			return nil, err
		}
		balance := toInt(view.Tokens)

		plan, err := planCredit(view, p)
		if err != nil {
			return nil, err
		}
		if plan.skip {
			result = &domain.CreditResult{
				PreviousBalance: balance,
				NewBalance:      balance,
				Status:          plan.existingStatus,
				Idempotent:      true,
			}
			return nil, errSettled
		}

		newBalance := balance + plan.credit
		patch := map[string]any{
			"tokens":    newBalance,
			"updatedAt": now,
			"lastPurchase": domain.LastPurchase{
				Amount:    plan.recordTokens,
				Timestamp: now,
				SessionID: p.TransactionKey,
				PriceID:   p.Purchase.PriceID,
			},
			docstore.JoinPath("purchases", p.TransactionKey): domain.PurchaseRecord{
				Tokens:        plan.recordTokens,
				Amount:        domain.NewAmount(p.Purchase.Amount),
				Date:          now,
				Status:        p.Purchase.Status,
				PriceID:       p.Purchase.PriceID,
				CustomerEmail: p.Purchase.CustomerEmail,
				Currency:      p.Purchase.Currency,
				Type:          p.Purchase.Type,
			},
		}
		if err := docstore.ApplyPatch(doc, patch); err != nil {
			return nil, fmt.Errorf("apply patch: %w", err)
		}

		result = &domain.CreditResult{
			PreviousBalance: balance,
			NewBalance:      newBalance,
			TokensAdded:     plan.credit,
			Status:          p.Purchase.Status,
		}
		return doc, nil
	})

	switch {
	case errors.Is(err, errSettled):
		log.Info("ledger credit skipped, transaction already recorded", "status", result.Status)
		return result, nil
	case err != nil:
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		log.Error("ledger write failed", "error", err)
		return nil, domain.ErrUpstream("ledger write failed", err)
	}

	actual, err := e.Balance(ctx, p.UserID)
	if err != nil {
		log.Error("ledger read-back failed", "error", err)
		return nil, domain.ErrUpstream("ledger read-back failed", err)
	}
	if actual != result.NewBalance {
		log.Error("ledger verification mismatch", "expected", result.NewBalance, "actual", actual)
		return nil, domain.ErrVerificationMismatch(result.NewBalance, actual)
	}

	log.Info("ledger credit applied",
		"tokens_added", result.TokensAdded,
		"previous_balance", result.PreviousBalance,
		"new_balance", result.NewBalance,
		"status", result.Status,
	)
	e.publish(ctx, domain.NewCreditAppliedEvent(p, result, now))
	return result, nil
}

// EnsureAccount creates an empty ledger record for userID. An existing
// record is left untouched; created reports whether one was written.
func (e *Engine) EnsureAccount(ctx context.Context, userID string) (bool, error) {
	if err := domain.ValidateDocumentKey("user id", userID); err != nil {
		return false, domain.ErrValidation(err.Error())
	}
	now := e.now().UTC()
	err := e.store.Transact(ctx, UserPath(userID), func(cur docstore.Node) (any, error) {
		var doc map[string]any
		if err := cur.Unmarshal(&doc); err != nil {
			return nil, fmt.Errorf("decode user document: %w", err)
		}
		if doc != nil {
			return nil, errAccountExists
		}
		return domain.UserRecord{Tokens: 0, UpdatedAt: now}, nil
	})
	switch {
	case errors.Is(err, errAccountExists):
		return false, nil
	case err != nil:
		e.logger.Error("ledger account setup failed", "user_id", userID, "error", err)
		return false, domain.ErrUpstream("ledger account setup failed", err)
	}
	e.logger.Info("ledger account created", "user_id", userID)
	return true, nil
}

// Balance returns the user's current token balance. A user without a
// balance field has zero.
func (e *Engine) Balance(ctx context.Context, userID string) (int64, error) {
	var tokens json.Number
	found, err := e.store.Get(ctx, docstore.JoinPath(UserPath(userID), "tokens"), &tokens)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return toInt(tokens), nil
}

func (e *Engine) publish(ctx context.Context, event domain.Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("publish ledger event failed",
			"event_type", event.EventType,
			"partition_key", event.PartitionKey,
			"error", err,
		)
	}
}

type creditPlan struct {
	skip           bool
	existingStatus domain.PurchaseStatus
	credit         int64
	recordTokens   int64
}

func planCredit(view ledgerView, p domain.CreditParams) (creditPlan, error) {
	raw, has := view.Purchases[p.TransactionKey]
	if !has || string(raw) == "null" {
		return creditPlan{credit: p.Tokens, recordTokens: p.Tokens}, nil
	}

	var existing purchaseView
	if err := json.Unmarshal(raw, &existing); err != nil {
		return creditPlan{}, fmt.Errorf("decode purchase %s: %w", p.TransactionKey, err)
	}
	granted := toInt(existing.Tokens)

	if existing.Status.Terminal() || !p.Purchase.Status.Terminal() {
		return creditPlan{skip: true, existingStatus: existing.Status}, nil
	}

	// Promotion of an eager credit: top up only the difference.
	credit := p.Tokens - granted
	if credit < 0 {
		credit = 0
	}
	return creditPlan{credit: credit, recordTokens: max(p.Tokens, granted)}, nil
}

func decodeView(doc map[string]any) (ledgerView, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return ledgerView{}, fmt.Errorf("encode user document: %w", err)
	}
	var view ledgerView
	if err := json.Unmarshal(raw, &view); err != nil {
		return ledgerView{}, fmt.Errorf("decode user document: %w", err)
	}
	return view, nil
}

// toInt accepts integer or float encodings; anything else counts as zero.
func toInt(n json.Number) int64 {
	if n == "" {
		return 0
	}
	if v, err := n.Int64(); err == nil {
		return v
	}
	if f, err := n.Float64(); err == nil {
		return int64(f)
	}
	return 0
}
