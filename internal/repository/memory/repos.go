package memory

import (
	"context"
	"strings"

	"github.com/digkill/TGFittingBot/internal/ledger"
	"github.com/digkill/TGFittingBot/internal/models"
)

type Users struct{ s *Store }

func (r *Users) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.st.users {
		if existing.TelegramID == u.TelegramID && u.TelegramID != 0 {
			return nil, ledger.ErrDuplicate
		}
		if u.ReferralCode != "" && existing.ReferralCode == u.ReferralCode {
			return nil, ledger.ErrDuplicate
		}
	}
	now := r.s.now()
	u.ID = r.s.st.nextID()
	u.CreatedAt, u.UpdatedAt = now, now
	r.s.st.users[u.ID] = *u
	return u, nil
}

func (r *Users) FindByID(_ context.Context, id int64) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.st.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *Users) FindByTelegramID(_ context.Context, telegramID int64) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.st.users {
		if u.TelegramID == telegramID {
			return &u, nil
		}
	}
	return nil, nil
}

func (r *Users) FindByReferralCode(_ context.Context, code string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.st.users {
		if u.ReferralCode == code {
			return &u, nil
		}
	}
	return nil, nil
}

func (r *Users) UpdateProfile(_ context.Context, userID int64, username, firstName, lastName string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.st.users[userID]
	if !ok {
		return ledger.ErrUserNotFound
	}
	u.Username, u.FirstName, u.LastName = username, firstName, lastName
	u.UpdatedAt = r.s.now()
	r.s.st.users[userID] = u
	return nil
}

type Payments struct{ s *Store }

func (r *Payments) Create(_ context.Context, p *models.Payment) (*models.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.st.payments {
		if existing.IdempotencyKey == p.IdempotencyKey {
			return nil, ledger.ErrDuplicate
		}
		if p.ProviderPaymentID != "" && existing.ProviderPaymentID == p.ProviderPaymentID {
			return nil, ledger.ErrDuplicate
		}
	}
	now := r.s.now()
	p.ID = r.s.st.nextID()
	p.CreatedAt, p.UpdatedAt = now, now
	r.s.st.payments[p.ID] = *p
	return p, nil
}

// AttachProvider records the provider-side id and confirmation URL of a
// payment that was created locally first.
func (r *Payments) AttachProvider(_ context.Context, paymentID int64, providerPaymentID, confirmationURL string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.st.payments[paymentID]
	if !ok {
		return nil
	}
	p.ProviderPaymentID = providerPaymentID
	p.ConfirmationURL = confirmationURL
	p.UpdatedAt = r.s.now()
	r.s.st.payments[paymentID] = p
	return nil
}

func (r *Payments) FindByIdempotencyKey(_ context.Context, key string) (*models.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, p := range r.s.st.payments {
		if p.IdempotencyKey == key {
			return &p, nil
		}
	}
	return nil, nil
}

func (r *Payments) ListForExport(_ context.Context, f models.PaymentFilter) ([]models.PaymentWithUser, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []models.PaymentWithUser
	for _, p := range sortedByID(r.s.st.payments) {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.From != nil && p.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && p.CreatedAt.After(*f.To) {
			continue
		}
		u := r.s.st.users[p.UserID]
		out = append(out, models.PaymentWithUser{Payment: p, TelegramID: u.TelegramID, Username: u.Username})
	}
	return out, nil
}

type Referrals struct{ s *Store }

func (r *Referrals) Create(_ context.Context, ref *models.Referral) (*models.Referral, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.st.referrals {
		if existing.ReferredID == ref.ReferredID {
			return nil, ledger.ErrDuplicate
		}
	}
	ref.ID = r.s.st.nextID()
	ref.CreatedAt = r.s.now()
	r.s.st.referrals[ref.ID] = *ref
	return ref, nil
}

func (r *Referrals) ListByReferrer(_ context.Context, referrerID int64) ([]models.Referral, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []models.Referral
	for _, ref := range sortedByID(r.s.st.referrals) {
		if ref.ReferrerID == referrerID {
			out = append(out, ref)
		}
	}
	return out, nil
}

type Generations struct{ s *Store }

func (r *Generations) Create(_ context.Context, g *models.Generation) (*models.Generation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	g.ID = r.s.st.nextID()
	g.CreatedAt, g.UpdatedAt = now, now
	r.s.st.generations[g.ID] = *g
	return g, nil
}

func (r *Generations) FindByID(_ context.Context, id int64) (*models.Generation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	g, ok := r.s.st.generations[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

type Tariffs struct{ s *Store }

func (r *Tariffs) List(_ context.Context) ([]models.Tariff, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return sortedByID(r.s.st.tariffs), nil
}

func (r *Tariffs) ListActive(ctx context.Context) ([]models.Tariff, error) {
	all, _ := r.List(ctx)
	var out []models.Tariff
	for _, t := range all {
		if t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *Tariffs) GetByID(_ context.Context, id int64) (*models.Tariff, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.st.tariffs[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *Tariffs) GetByCode(_ context.Context, code string) (*models.Tariff, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, t := range r.s.st.tariffs {
		if t.Code == code {
			return &t, nil
		}
	}
	return nil, nil
}

func (r *Tariffs) Create(_ context.Context, t *models.Tariff) (*models.Tariff, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.st.tariffs {
		if existing.Code == t.Code {
			return nil, ledger.ErrDuplicate
		}
	}
	now := r.s.now()
	t.ID = r.s.st.nextID()
	t.CreatedAt, t.UpdatedAt = now, now
	r.s.st.tariffs[t.ID] = *t
	return t, nil
}

func (r *Tariffs) Update(_ context.Context, t *models.Tariff) (*models.Tariff, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.st.tariffs[t.ID]
	if !ok {
		return nil, nil
	}
	t.CreatedAt = cur.CreatedAt
	t.UpdatedAt = r.s.now()
	r.s.st.tariffs[t.ID] = *t
	return t, nil
}

func (r *Tariffs) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.st.tariffs, id)
	return nil
}

type Promos struct{ s *Store }

func (r *Promos) List(_ context.Context) ([]models.PromoCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return sortedByID(r.s.st.promos), nil
}

func (r *Promos) GetByID(_ context.Context, id int64) (*models.PromoCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.st.promos[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *Promos) Create(_ context.Context, p *models.PromoCode) (*models.PromoCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.st.promos {
		if strings.EqualFold(existing.Code, p.Code) {
			return nil, ledger.ErrDuplicate
		}
	}
	p.ID = r.s.st.nextID()
	p.CreatedAt = r.s.now()
	r.s.st.promos[p.ID] = *p
	return p, nil
}

func (r *Promos) Update(_ context.Context, p *models.PromoCode) (*models.PromoCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.st.promos[p.ID]
	if !ok {
		return nil, nil
	}
	p.CreatedAt = cur.CreatedAt
	r.s.st.promos[p.ID] = *p
	return p, nil
}

func (r *Promos) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.st.promos, id)
	return nil
}
