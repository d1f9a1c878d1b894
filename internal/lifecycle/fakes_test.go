package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"feedbackgate/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ============================================================
// Fake: Store
// ============================================================

type recordedEvent struct {
	AccountID string
	Type      string
	Payload   map[string]any
}

type pageState struct {
	accountID string
	active    bool
}

// memStore is an in-memory Store with the same compare-and-swap semantics as
// the Postgres repositories.
type memStore struct {
	mu sync.Mutex

	accounts  map[string]types.Account
	instances map[string]types.MessagingInstance
	pages     map[string]*pageState
	events    []recordedEvent

	listErr           error
	updateStatusErr   error
	markErr           error
	instanceUpdateErr map[string]error
	pagesErr          error
	appendErr         error
}

func newMemStore() *memStore {
	return &memStore{
		accounts:          map[string]types.Account{},
		instances:         map[string]types.MessagingInstance{},
		pages:             map[string]*pageState{},
		instanceUpdateErr: map[string]error{},
	}
}

func (s *memStore) addAccount(a types.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *memStore) addInstance(i types.MessagingInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[i.ID] = i
}

func (s *memStore) addPage(id, accountID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[id] = &pageState{accountID: accountID, active: active}
}

func (s *memStore) account(id string) types.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

func (s *memStore) instance(id string) types.MessagingInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instances[id]
}

func (s *memStore) pageActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages[id].active
}

func (s *memStore) eventsOfType(eventType string) []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recordedEvent
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) sortedAccounts(keep func(types.Account) bool) []types.Account {
	var out []types.Account
	for _, a := range s.accounts {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *memStore) ListTrialingAccountsExpiringIn(_ context.Context, now time.Time, days int) ([]types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	lo := dayStart(now).AddDate(0, 0, days)
	hi := lo.AddDate(0, 0, 1)
	return s.sortedAccounts(func(a types.Account) bool {
		return a.Status == types.AccountStatusTrialing && a.TrialEndsAt != nil &&
			!a.TrialEndsAt.Before(lo) && a.TrialEndsAt.Before(hi)
	}), nil
}

func (s *memStore) ListExpiredTrialAccounts(_ context.Context, now time.Time) ([]types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.sortedAccounts(func(a types.Account) bool {
		return a.Status == types.AccountStatusTrialing && a.TrialEndsAt != nil && a.TrialEndsAt.Before(now)
	}), nil
}

func (s *memStore) ListAccountsWithExternalRef(_ context.Context) ([]types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.sortedAccounts(types.Account.HasExternalSubscription), nil
}

// ListAccountsPendingDeactivation mirrors the ledger query: the latest
// transition event must match reason and no complete deactivation event for
// reason may follow it.
func (s *memStore) ListAccountsPendingDeactivation(_ context.Context, reason types.DeactivationReason) ([]types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	status, transition := types.AccountStatusExpired, types.EventBillingStatusChanged
	switch reason {
	case types.ReasonTrialExpired:
		transition = types.EventTrialExpired
	case types.ReasonSubscriptionCanceled:
		status = types.AccountStatusCanceled
	}
	done := types.DeactivatedEventType(reason)

	return s.sortedAccounts(func(a types.Account) bool {
		if a.Status != status {
			return false
		}
		last := -1
		for i, e := range s.events {
			if e.AccountID == a.ID && (e.Type == types.EventTrialExpired || e.Type == types.EventBillingStatusChanged) {
				last = i
			}
		}
		if last < 0 || s.events[last].Type != transition {
			return false
		}
		for _, e := range s.events[last+1:] {
			if e.AccountID == a.ID && e.Type == done && e.Payload["complete"] != false {
				return false
			}
		}
		return true
	}), nil
}

func (s *memStore) GetAccount(_ context.Context, id string) (types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return types.Account{}, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	return a, nil
}

func (s *memStore) UpdateSubscriptionStatus(_ context.Context, id string, from, to types.AccountStatus, periodEnd *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateStatusErr != nil {
		return false, s.updateStatusErr
	}
	a, ok := s.accounts[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	if periodEnd != nil {
		pe := *periodEnd
		a.TrialEndsAt = &pe
	}
	s.accounts[id] = a
	return true, nil
}

func (s *memStore) MarkReminderSent(_ context.Context, id string, level int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return false, s.markErr
	}
	a, ok := s.accounts[id]
	if !ok || a.Status != types.AccountStatusTrialing || a.TrialReminderLevel >= level {
		return false, nil
	}
	a.TrialReminderLevel = level
	s.accounts[id] = a
	return true, nil
}

func (s *memStore) ListInstancesByAccount(_ context.Context, accountID string) ([]types.MessagingInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.MessagingInstance
	for _, i := range s.instances {
		if i.AccountID == accountID {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *memStore) UpdateInstanceStatus(_ context.Context, instanceID, accountID string, status types.InstanceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.instanceUpdateErr[instanceID]; err != nil {
		return err
	}
	i, ok := s.instances[instanceID]
	if !ok || i.AccountID != accountID {
		return fmt.Errorf("instance %s not found", instanceID)
	}
	i.Status = status
	s.instances[instanceID] = i
	return nil
}

func (s *memStore) SetPagesActiveByAccount(_ context.Context, accountID string, active bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pagesErr != nil {
		return 0, s.pagesErr
	}
	var n int64
	for _, p := range s.pages {
		if p.accountID == accountID && p.active != active {
			p.active = active
			n++
		}
	}
	return n, nil
}

func (s *memStore) AppendEvent(_ context.Context, accountID, eventType string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.events = append(s.events, recordedEvent{AccountID: accountID, Type: eventType, Payload: payload})
	return nil
}

// ============================================================
// Fake: MessagingGateway
// ============================================================

type fakeGateway struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (g *fakeGateway) Disconnect(_ context.Context, name string, _ types.SecretString) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, name)
	if err := g.fail[name]; err != nil {
		return err
	}
	return nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// ============================================================
// Fake: Notifier
// ============================================================

type sentReminder struct {
	Email string
	Days  int
}

type sentNotice struct {
	Email  string
	Reason types.DeactivationReason
}

type fakeNotifier struct {
	mu          sync.Mutex
	reminders   []sentReminder
	notices     []sentNotice
	reminderErr error
	noticeErr   error
}

func (n *fakeNotifier) SendTrialReminder(_ context.Context, email, _ string, days int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.reminderErr != nil {
		return n.reminderErr
	}
	n.reminders = append(n.reminders, sentReminder{Email: email, Days: days})
	return nil
}

func (n *fakeNotifier) SendServicesDeactivated(_ context.Context, email, _ string, reason types.DeactivationReason) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.noticeErr != nil {
		return n.noticeErr
	}
	n.notices = append(n.notices, sentNotice{Email: email, Reason: reason})
	return nil
}

// ============================================================
// Fake: BillingProvider
// ============================================================

type fakeBilling struct {
	mu    sync.Mutex
	subs  map[string]types.ProviderSubscription
	errs  map[string]error
	calls int
}

func (b *fakeBilling) GetSubscription(_ context.Context, ref string) (types.ProviderSubscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if err := b.errs[ref]; err != nil {
		return types.ProviderSubscription{}, err
	}
	sub, ok := b.subs[ref]
	if !ok {
		return types.ProviderSubscription{}, errors.New("no such subscription")
	}
	return sub, nil
}

// ============================================================
// Fake: Metrics
// ============================================================

type countingMetrics struct {
	mu            sync.Mutex
	disconnects   map[types.Outcome]int
	notifications map[string]int
	transitions   []string
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		disconnects:   map[types.Outcome]int{},
		notifications: map[string]int{},
	}
}

func (m *countingMetrics) RecordInstanceDisconnect(_ context.Context, outcome types.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects[outcome]++
}

func (m *countingMetrics) RecordNotification(_ context.Context, kind string, outcome types.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[kind+"/"+string(outcome)]++
}

func (m *countingMetrics) RecordStatusTransition(_ context.Context, from, to types.AccountStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, string(from)+"->"+string(to))
}

// ============================================================
// Spies: Deactivation / Reactivation
// ============================================================

type deactivateCall struct {
	AccountID string
	Reason    types.DeactivationReason
}

type spyDeactivator struct {
	mu    sync.Mutex
	calls []deactivateCall
	err   error
}

func (d *spyDeactivator) Deactivate(_ context.Context, id string, reason types.DeactivationReason) (types.DeactivationResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, deactivateCall{AccountID: id, Reason: reason})
	return types.DeactivationResult{}, d.err
}

type spyReactivator struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *spyReactivator) Reactivate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
	return r.err
}

func timePtr(t time.Time) *time.Time { return &t }
