// Package credits tracks the managed-mode credit balance. Each managed
// extraction or query costs one credit; BYOK calls are free. The balance
// lives in the settings table so it survives restarts.
package credits

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/scrypster/contactcard/internal/events"
	"github.com/scrypster/contactcard/internal/storage"
)

// ErrInsufficient is returned when a managed call is attempted with no credits.
var ErrInsufficient = errors.New("credits: balance is zero")

// LowThreshold is the balance at or below which IsLow reports true.
const LowThreshold = 5

const (
	keyBalance     = "credits_balance"
	keyFreeGranted = "credits_free_granted"
	keyTxPrefix    = "credits_tx:"
)

// TxStore is the storage the ledger needs.
type TxStore interface {
	storage.SettingsStore
	WithTx(ctx context.Context, fn func(tx storage.Tx) error) error
}

// Transaction is a purchase reported by the billing collaborator.
type Transaction struct {
	ID        string `json:"id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
	Verified  bool   `json:"verified"`
}

// Ledger is the credit balance. Methods are safe for concurrent use.
type Ledger struct {
	store     TxStore
	freeGrant int
	pub       events.Publisher
	log       zerolog.Logger
	mu        sync.Mutex
}

// NewLedger creates a ledger that grants freeGrant credits on first use.
func NewLedger(store TxStore, freeGrant int, pub events.Publisher, log zerolog.Logger) *Ledger {
	return &Ledger{
		store:     store,
		freeGrant: freeGrant,
		pub:       events.OrDiscard(pub),
		log:       log,
	}
}

// Balance returns the current balance.
func (l *Ledger) Balance(ctx context.Context) (int, error) {
	return readInt(ctx, l.store, keyBalance)
}

// HasCredits reports whether the balance is positive.
func (l *Ledger) HasCredits(ctx context.Context) (bool, error) {
	n, err := l.Balance(ctx)
	return n > 0, err
}

// IsLow reports whether the balance is positive but at most LowThreshold.
func (l *Ledger) IsLow(ctx context.Context) (bool, error) {
	n, err := l.Balance(ctx)
	return n > 0 && n <= LowThreshold, err
}

// Consume takes one credit. It returns false, and changes nothing, when the
// balance is zero.
func (l *Ledger) Consume(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		ok      bool
		balance int
	)
	err := l.store.WithTx(ctx, func(tx storage.Tx) error {
		n, err := readInt(ctx, tx, keyBalance)
		if err != nil {
			return err
		}
		if n <= 0 {
			return nil
		}
		ok, balance = true, n-1
		return writeInt(ctx, tx, keyBalance, balance)
	})
	if err != nil {
		return false, err
	}
	if ok {
		l.changed(balance)
	}
	return ok, nil
}

// Add credits the balance by n.
func (l *Ledger) Add(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("credits: amount must be positive, got %d", n)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var balance int
	err := l.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		balance, err = add(ctx, tx, n)
		return err
	})
	if err != nil {
		return err
	}
	l.changed(balance)
	return nil
}

// GrantFreeCreditsIfNeeded adds the free grant exactly once per store.
func (l *Ledger) GrantFreeCreditsIfNeeded(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		granted bool
		balance int
	)
	err := l.store.WithTx(ctx, func(tx storage.Tx) error {
		done, err := tx.GetSetting(ctx, keyFreeGranted)
		if err != nil {
			return err
		}
		if done == "true" {
			return nil
		}
		if err := tx.SetSetting(ctx, keyFreeGranted, "true"); err != nil {
			return err
		}
		granted = true
		balance, err = add(ctx, tx, l.freeGrant)
		return err
	})
	if err != nil {
		return false, err
	}
	if granted {
		l.log.Info().Int("credits", l.freeGrant).Msg("credits: granted free credits")
		l.changed(balance)
	}
	return granted, nil
}

// Restore credits verified purchases that have not been applied yet.
// Unverified transactions are skipped without error; a transaction id is
// never credited twice. It returns the number of credits added.
func (l *Ledger) Restore(ctx context.Context, txs []Transaction) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		added   int
		balance int
	)
	err := l.store.WithTx(ctx, func(tx storage.Tx) error {
		for _, t := range txs {
			if !t.Verified {
				continue
			}
			amount := CreditsForProduct(t.ProductID)
			if amount <= 0 || t.ID == "" {
				continue
			}
			key := keyTxPrefix + t.ID
			seen, err := tx.GetSetting(ctx, key)
			if err != nil {
				return err
			}
			if seen != "" {
				continue
			}
			if err := tx.SetSetting(ctx, key, t.ProductID); err != nil {
				return err
			}
			if balance, err = add(ctx, tx, amount); err != nil {
				return err
			}
			added += amount
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if added > 0 {
		l.log.Info().Int("credits", added).Msg("credits: restored purchases")
		l.changed(balance)
	}
	return added, nil
}

// CreditsForProduct returns the credit amount encoded as the last dotted
// segment of a product id, e.g. "com.example.credits.4000" is 4000. Unknown
// shapes are worth zero.
func CreditsForProduct(productID string) int {
	i := strings.LastIndex(productID, ".")
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(productID[i+1:])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (l *Ledger) changed(balance int) {
	l.pub.Publish(events.Event{Type: events.CreditsChanged, Data: balance})
}

func add(ctx context.Context, s storage.SettingsStore, n int) (int, error) {
	cur, err := readInt(ctx, s, keyBalance)
	if err != nil {
		return 0, err
	}
	cur += n
	return cur, writeInt(ctx, s, keyBalance, cur)
}

func readInt(ctx context.Context, s storage.SettingsStore, key string) (int, error) {
	v, err := s.GetSetting(ctx, key)
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("credits: corrupt %s value %q: %w", key, v, err)
	}
	return n, nil
}

func writeInt(ctx context.Context, s storage.SettingsStore, key string, n int) error {
	return s.SetSetting(ctx, key, strconv.Itoa(n))
}
