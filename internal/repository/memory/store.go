// Package memory is an in-process implementation of the ledger store and the
// service repositories. Transactions are serialized by one mutex and applied
// to a private copy of the state that replaces the live state on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/digkill/TGFittingBot/internal/ledger"
	"github.com/digkill/TGFittingBot/internal/models"
)

type redemptionKey struct {
	userID  int64
	promoID int64
}

type state struct {
	seq         int64
	users       map[int64]models.User
	payments    map[int64]models.Payment
	entries     []models.LedgerEntry
	referrals   map[int64]models.Referral
	generations map[int64]models.Generation
	tariffs     map[int64]models.Tariff
	promos      map[int64]models.PromoCode
	redemptions map[redemptionKey]time.Time
}

func newState() *state {
	return &state{
		users:       make(map[int64]models.User),
		payments:    make(map[int64]models.Payment),
		referrals:   make(map[int64]models.Referral),
		generations: make(map[int64]models.Generation),
		tariffs:     make(map[int64]models.Tariff),
		promos:      make(map[int64]models.PromoCode),
		redemptions: make(map[redemptionKey]time.Time),
	}
}

func (s *state) clone() *state {
	c := &state{
		seq:         s.seq,
		users:       make(map[int64]models.User, len(s.users)),
		payments:    make(map[int64]models.Payment, len(s.payments)),
		entries:     append([]models.LedgerEntry(nil), s.entries...),
		referrals:   make(map[int64]models.Referral, len(s.referrals)),
		generations: make(map[int64]models.Generation, len(s.generations)),
		tariffs:     make(map[int64]models.Tariff, len(s.tariffs)),
		promos:      make(map[int64]models.PromoCode, len(s.promos)),
		redemptions: make(map[redemptionKey]time.Time, len(s.redemptions)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.referrals {
		c.referrals[k] = v
	}
	for k, v := range s.generations {
		c.generations[k] = v
	}
	for k, v := range s.tariffs {
		c.tariffs[k] = v
	}
	for k, v := range s.promos {
		c.promos[k] = v
	}
	for k, v := range s.redemptions {
		c.redemptions[k] = v
	}
	return c
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func New() *Store {
	return &Store{st: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// InTx runs fn against a copy of the state. The copy becomes the live state
// only when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) ResetStaleFreemium(_ context.Context, cutoff, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, u := range s.st.users {
		if u.FreemiumResetAt == nil || !u.FreemiumResetAt.After(cutoff) {
			at := now
			u.FreemiumActionsUsed = 0
			u.FreemiumResetAt = &at
			s.st.users[id] = u
			n++
		}
	}
	return n, nil
}

// Entries returns the journal rows of a user in insertion order.
func (s *Store) Entries(userID int64) []models.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.LedgerEntry
	for _, e := range s.st.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// ListByUser returns the newest journal rows of a user first.
func (s *Store) ListByUser(_ context.Context, userID int64, limit int) ([]models.LedgerEntry, error) {
	entries := s.Entries(userID)
	out := make([]models.LedgerEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (s *Store) Users() *Users             { return &Users{s: s} }
func (s *Store) Payments() *Payments       { return &Payments{s: s} }
func (s *Store) Referrals() *Referrals     { return &Referrals{s: s} }
func (s *Store) Generations() *Generations { return &Generations{s: s} }
func (s *Store) Tariffs() *Tariffs         { return &Tariffs{s: s} }
func (s *Store) Promos() *Promos           { return &Promos{s: s} }

type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) LockUser(_ context.Context, userID int64) (*models.User, error) {
	u, ok := t.st.users[userID]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}
	return &u, nil
}

func (t *tx) SaveUserEntitlement(_ context.Context, u *models.User) error {
	cur, ok := t.st.users[u.ID]
	if !ok {
		return ledger.ErrUserNotFound
	}
	cur.BalanceCredits = u.BalanceCredits
	cur.SubscriptionTier = u.SubscriptionTier
	cur.SubscriptionExpiresAt = u.SubscriptionExpiresAt
	cur.FreemiumActionsUsed = u.FreemiumActionsUsed
	cur.FreemiumResetAt = u.FreemiumResetAt
	cur.UpdatedAt = t.now()
	t.st.users[u.ID] = cur
	return nil
}

func (t *tx) PaymentByIdempotencyKey(_ context.Context, key string) (*models.Payment, error) {
	for _, p := range t.st.payments {
		if p.IdempotencyKey == key {
			return &p, nil
		}
	}
	return nil, nil
}

func (t *tx) LockPayment(_ context.Context, providerPaymentID, idempotencyKey string) (*models.Payment, error) {
	if providerPaymentID != "" {
		for _, p := range t.st.payments {
			if p.ProviderPaymentID == providerPaymentID {
				return &p, nil
			}
		}
	}
	if idempotencyKey != "" {
		for _, p := range t.st.payments {
			if p.IdempotencyKey == idempotencyKey {
				return &p, nil
			}
		}
	}
	return nil, nil
}

func (t *tx) SavePaymentStatus(_ context.Context, p *models.Payment) error {
	cur, ok := t.st.payments[p.ID]
	if !ok || cur.Status != models.PaymentPending {
		return fmt.Errorf("payment %d is no longer pending", p.ID)
	}
	cur.Status = p.Status
	cur.PaidAt = p.PaidAt
	cur.ProviderPaymentID = p.ProviderPaymentID
	cur.RawPayload = p.RawPayload
	cur.UpdatedAt = t.now()
	t.st.payments[p.ID] = cur
	return nil
}

func (t *tx) EntryExists(_ context.Context, key string) (bool, error) {
	for _, e := range t.st.entries {
		if e.IdempotencyKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertEntry(ctx context.Context, e *models.LedgerEntry) error {
	if e.IdempotencyKey != "" {
		if exists, _ := t.EntryExists(ctx, e.IdempotencyKey); exists {
			return ledger.ErrDuplicate
		}
	}
	e.ID = t.st.nextID()
	t.st.entries = append(t.st.entries, *e)
	return nil
}

func (t *tx) LockPendingReferral(_ context.Context, referredID int64) (*models.Referral, error) {
	for _, r := range t.st.referrals {
		if r.ReferredID == referredID && !r.IsAwarded {
			return &r, nil
		}
	}
	return nil, nil
}

func (t *tx) SaveReferral(_ context.Context, r *models.Referral) error {
	t.st.referrals[r.ID] = *r
	return nil
}

func (t *tx) LockGeneration(_ context.Context, generationID int64) (*models.Generation, error) {
	g, ok := t.st.generations[generationID]
	if !ok {
		return nil, ledger.ErrGenerationNotFound
	}
	return &g, nil
}

func (t *tx) SaveGeneration(_ context.Context, g *models.Generation) error {
	if _, ok := t.st.generations[g.ID]; !ok {
		return ledger.ErrGenerationNotFound
	}
	t.st.generations[g.ID] = *g
	return nil
}

func (t *tx) LockPromoByCode(_ context.Context, code string) (*models.PromoCode, error) {
	for _, p := range t.st.promos {
		if strings.EqualFold(p.Code, code) {
			return &p, nil
		}
	}
	return nil, nil
}

func (t *tx) InsertRedemption(_ context.Context, userID, promoID int64) error {
	key := redemptionKey{userID: userID, promoID: promoID}
	if _, ok := t.st.redemptions[key]; ok {
		return ledger.ErrDuplicate
	}
	t.st.redemptions[key] = t.now()
	return nil
}

func (t *tx) SavePromoUses(_ context.Context, p *models.PromoCode) error {
	cur, ok := t.st.promos[p.ID]
	if !ok {
		return nil
	}
	cur.Uses = p.Uses
	t.st.promos[p.ID] = cur
	return nil
}

func sortedByID[T any](m map[int64]T) []T {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}
