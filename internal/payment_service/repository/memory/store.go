// Package memory is a process-local store for local development and tests.
// A single mutex emulates the conditional-update semantics of the Postgres store;
// it must not be used when more than one instance serves traffic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

type Store struct {
	mu       sync.Mutex
	sessions map[string]domain.PaymentSession
	entries  map[string]domain.CreditLedgerEntry // by session id
	balances map[string]domain.UserCreditBalance
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]domain.PaymentSession),
		entries:  make(map[string]domain.CreditLedgerEntry),
		balances: make(map[string]domain.UserCreditBalance),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// cloneSession deep-copies pointer fields so callers cannot mutate stored state.
func cloneSession(s domain.PaymentSession) *domain.PaymentSession {
	if s.GatewayOrderRef != nil {
		v := *s.GatewayOrderRef
		s.GatewayOrderRef = &v
	}
	if s.DeclineReason != nil {
		v := *s.DeclineReason
		s.DeclineReason = &v
	}
	if s.ResolvedAt != nil {
		v := *s.ResolvedAt
		s.ResolvedAt = &v
	}
	return &s
}

func (m *Store) Create(_ context.Context, s *domain.PaymentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return domain.ErrDuplicateSession
	}
	m.sessions[s.ID] = *cloneSession(*s)
	return nil
}

func (m *Store) GetByID(_ context.Context, id string) (*domain.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(s), nil
}

func (m *Store) AttachGatewayOrder(_ context.Context, id, orderRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if s.Status != domain.SessionStatusPending {
		return domain.ErrInvalidTransition
	}
	s.GatewayOrderRef = &orderRef
	s.UpdatedAt = m.now()
	m.sessions[id] = s
	return nil
}

func (m *Store) TransitionTerminal(_ context.Context, id string, to domain.SessionStatus, reason string) (*domain.PaymentSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(id, to, reason)
}

func (m *Store) transitionLocked(id string, to domain.SessionStatus, reason string) (*domain.PaymentSession, bool, error) {
	if !to.IsTerminal() {
		return nil, false, domain.ErrInvalidTransition
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, false, domain.ErrSessionNotFound
	}
	if s.Status != domain.SessionStatusPending {
		return cloneSession(s), false, nil
	}
	now := m.now()
	s.Status = to
	if reason != "" {
		s.DeclineReason = &reason
	}
	s.ResolvedAt = &now
	s.UpdatedAt = now
	m.sessions[id] = s
	return cloneSession(s), true, nil
}

func (m *Store) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]*domain.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.filterLocked(0, func(s domain.PaymentSession) bool {
		return s.Status == domain.SessionStatusPending && s.CreatedAt.Before(cutoff)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) TouchPending(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if s.Status == domain.SessionStatusPending {
		s.UpdatedAt = m.now()
		m.sessions[id] = s
	}
	return nil
}

func (m *Store) ListUncredited(_ context.Context, limit int) ([]*domain.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterLocked(limit, func(s domain.PaymentSession) bool {
		_, credited := m.entries[s.ID]
		return s.Status == domain.SessionStatusSucceeded && !credited
	}), nil
}

func (m *Store) PurgeResolvedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if !s.Status.IsTerminal() || s.Status == domain.SessionStatusSucceeded {
			continue
		}
		if _, credited := m.entries[id]; credited {
			continue
		}
		if s.ResolvedAt != nil && s.ResolvedAt.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *Store) filterLocked(limit int, keep func(domain.PaymentSession) bool) []*domain.PaymentSession {
	var out []*domain.PaymentSession
	for _, s := range m.sessions {
		if keep(s) {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Store) Grant(_ context.Context, g domain.CreditGrant) (*domain.CreditLedgerEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grantLocked(g)
}

func (m *Store) grantLocked(g domain.CreditGrant) (*domain.CreditLedgerEntry, bool, error) {
	if existing, ok := m.entries[g.SessionID]; ok {
		return &existing, false, nil
	}
	now := m.now()
	bal := m.balances[g.UserID]
	bal.UserID = g.UserID
	if g.Category == domain.CategorySpareParts {
		bal.SparePartsCredits += g.Credits
	} else {
		bal.AutomotiveCredits += g.Credits
	}
	bal.UpdatedAt = now
	m.balances[g.UserID] = bal

	entry := domain.CreditLedgerEntry{
		ID:                     uuid.NewString(),
		UserID:                 g.UserID,
		SessionID:              g.SessionID,
		Category:               g.Category,
		CreditsGranted:         g.Credits,
		AmountPaid:             g.AmountPaid,
		Currency:               g.Currency,
		SparePartsBalanceAfter: bal.SparePartsCredits,
		AutomotiveBalanceAfter: bal.AutomotiveCredits,
		CreatedAt:              now,
	}
	m.entries[g.SessionID] = entry
	return &entry, true, nil
}

func (m *Store) EntryForSession(_ context.Context, sessionID string) (*domain.CreditLedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return nil, domain.ErrLedgerEntryNotFound
	}
	return &e, nil
}

func (m *Store) Balance(_ context.Context, userID string) (*domain.UserCreditBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.balances[userID]
	b.UserID = userID
	return &b, nil
}

func (m *Store) ListEntries(_ context.Context, userID string, limit, offset int) ([]domain.CreditLedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.CreditLedgerEntry{}
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []domain.CreditLedgerEntry{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) CompleteSuccess(_ context.Context, sessionID string, grant domain.CreditGrant) (*domain.PaymentSession, *domain.CreditLedgerEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, won, err := m.transitionLocked(sessionID, domain.SessionStatusSucceeded, "")
	if err != nil || !won {
		return s, nil, false, err
	}
	entry, _, err := m.grantLocked(grant)
	if err != nil {
		return nil, nil, false, err
	}
	return s, entry, true, nil
}

// SetClock replaces the time source.
func (m *Store) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
