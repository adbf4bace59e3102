package engine

import (
	"context"
	"testing"
	"time"

	"offramp-engine/internal/domain"
	"offramp-engine/internal/locker"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSessions struct {
	m map[string]*domain.Session
}

func (f *fakeSessions) Get(_ context.Context, phone string) (*domain.Session, error) {
	if s, ok := f.m[phone]; ok {
		cp := *s
		return &cp, nil
	}
	return &domain.Session{Phone: phone, State: domain.SessionStateIdle}, nil
}

func (f *fakeSessions) Put(_ context.Context, sess *domain.Session) error {
	cp := *sess
	f.m[sess.Phone] = &cp
	return nil
}

type fakeUsers struct {
	byPhone map[string]*domain.User
	wallets map[int64]*domain.Wallet
	nextID  int64
}

func (f *fakeUsers) Create(_ context.Context, user *domain.User) error {
	if existing, ok := f.byPhone[user.Phone]; ok {
		user.ID = existing.ID
		return nil
	}
	f.nextID++
	user.ID = f.nextID
	cp := *user
	f.byPhone[user.Phone] = &cp
	return nil
}

func (f *fakeUsers) GetByPhone(_ context.Context, phone string) (*domain.User, error) {
	u, ok := f.byPhone[phone]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) AttachWallet(_ context.Context, userID int64, address string) (*domain.Wallet, error) {
	w := &domain.Wallet{UserID: userID, Address: address}
	f.wallets[userID] = w
	return w, nil
}

func (f *fakeUsers) GetWallet(_ context.Context, userID int64) (*domain.Wallet, error) {
	w, ok := f.wallets[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return w, nil
}

type fakeCustody struct {
	address string
	err     error
	calls   int
}

func (f *fakeCustody) CreateWallet(_ context.Context, _, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.address, nil
}

type fakeBalances struct {
	balances []*domain.Balance
}

func (f *fakeBalances) ListBalances(_ context.Context, _ int64) ([]*domain.Balance, error) {
	return f.balances, nil
}

type recordedCall struct {
	method string
	text   string
}

type fakeWithdrawals struct {
	calls []recordedCall
	reply string
}

func (f *fakeWithdrawals) record(method, text string) (string, error) {
	f.calls = append(f.calls, recordedCall{method: method, text: text})
	return f.reply, nil
}

func (f *fakeWithdrawals) Quote(_ context.Context, _ *domain.User, amount decimal.Decimal, asset, _ string) (string, error) {
	return f.record("quote", amount.String()+" "+asset)
}
func (f *fakeWithdrawals) Confirm(_ context.Context, _ *domain.User) (string, error) {
	return f.record("confirm", "")
}
func (f *fakeWithdrawals) UseSavedBank(_ context.Context, _ *domain.User, accept bool) (string, error) {
	if accept {
		return f.record("saved_bank", "yes")
	}
	return f.record("saved_bank", "no")
}
func (f *fakeWithdrawals) EnterBankDetails(_ context.Context, _ *domain.User, text string) (string, error) {
	return f.record("bank_details", text)
}
func (f *fakeWithdrawals) ConfirmBank(_ context.Context, _ *domain.User, accept bool) (string, error) {
	if accept {
		return f.record("confirm_bank", "yes")
	}
	return f.record("confirm_bank", "no")
}
func (f *fakeWithdrawals) Cancel(_ context.Context, _ *domain.User) (string, error) {
	return f.record("cancel", "")
}
func (f *fakeWithdrawals) Status(_ context.Context, _ *domain.User) (string, error) {
	return f.record("status", "")
}

type memReplyCache struct {
	m map[string]string
}

func (c *memReplyCache) Get(_ context.Context, id string) (string, bool) {
	r, ok := c.m[id]
	return r, ok
}

func (c *memReplyCache) Set(_ context.Context, id, reply string) {
	c.m[id] = reply
}

type fixture struct {
	eng         *Engine
	sessions    *fakeSessions
	users       *fakeUsers
	custody     *fakeCustody
	balances    *fakeBalances
	withdrawals *fakeWithdrawals
	cache       *memReplyCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sessions:    &fakeSessions{m: make(map[string]*domain.Session)},
		users:       &fakeUsers{byPhone: make(map[string]*domain.User), wallets: make(map[int64]*domain.Wallet)},
		custody:     &fakeCustody{address: "0xabc"},
		balances:    &fakeBalances{},
		withdrawals: &fakeWithdrawals{reply: "ok"},
		cache:       &memReplyCache{m: make(map[string]string)},
	}
	f.eng = New(locker.New(), f.sessions, f.users, f.custody, f.balances,
		f.withdrawals, f.cache, zap.NewNop())
	return f
}

func (f *fixture) activeUser(t *testing.T) *domain.User {
	t.Helper()
	user := &domain.User{Phone: "+2348001112222", Username: "john"}
	require.NoError(t, f.users.Create(context.Background(), user))
	f.sessions.m[user.Phone] = &domain.Session{
		UserID: user.ID, Phone: user.Phone, State: domain.SessionStateActive,
	}
	return user
}

func handle(t *testing.T, f *fixture, phone, text, msgID string) string {
	t.Helper()
	reply, err := f.eng.Handle(context.Background(), domain.InboundMessage{
		Phone: phone, Text: text, MessageID: msgID,
	})
	require.NoError(t, err)
	return reply
}

func TestGreetingForNewUser(t *testing.T) {
	f := newFixture(t)
	reply := handle(t, f, "+2348001112222", "hi", "m1")
	assert.Contains(t, reply, "Welcome")
	assert.Contains(t, reply, "create")
}

func TestCreateAccountProvisionsWallet(t *testing.T) {
	f := newFixture(t)
	reply := handle(t, f, "+2348001112222", "create", "m1")
	assert.Contains(t, reply, "0xabc")
	assert.Equal(t, 1, f.custody.calls)

	sess := f.sessions.m["+2348001112222"]
	require.NotNil(t, sess)
	assert.Equal(t, domain.SessionStateActive, sess.State)

	user, err := f.users.GetByPhone(context.Background(), "+2348001112222")
	require.NoError(t, err)
	_, err = f.users.GetWallet(context.Background(), user.ID)
	assert.NoError(t, err)
}

func TestCreateFailureReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	f.custody.err = domain.ErrCollaboratorUnavailable

	reply := handle(t, f, "+2348001112222", "create", "m1")
	assert.Contains(t, reply, "failed")
	assert.Equal(t, domain.SessionStateIdle, f.sessions.m["+2348001112222"].State)
}

func TestProvisioningInFlightBlocksSecondCreate(t *testing.T) {
	f := newFixture(t)
	deadline := time.Now().UTC().Add(provisioningTTL)
	f.sessions.m["+2348001112222"] = &domain.Session{
		Phone:    "+2348001112222",
		State:    domain.SessionStateAccountPending,
		Deadline: &deadline,
	}

	handle(t, f, "+2348001112222", "create", "m1")
	assert.Equal(t, 0, f.custody.calls, "in-flight provisioning must not start a second wallet")
	assert.Equal(t, domain.SessionStateAccountPending, f.sessions.m["+2348001112222"].State)
}

func TestStaleProvisioningAllowsCreateRetry(t *testing.T) {
	f := newFixture(t)
	// A crash mid-provisioning leaves account_pending behind; once the
	// deadline lapses the session must not stay wedged.
	deadline := time.Now().UTC().Add(-time.Minute)
	f.sessions.m["+2348001112222"] = &domain.Session{
		Phone:    "+2348001112222",
		State:    domain.SessionStateAccountPending,
		Deadline: &deadline,
	}

	reply := handle(t, f, "+2348001112222", "create", "m1")
	assert.Contains(t, reply, "0xabc")
	assert.Equal(t, 1, f.custody.calls)
	assert.Equal(t, domain.SessionStateActive, f.sessions.m["+2348001112222"].State)
}

func TestRedeliveredMessageReplaysReply(t *testing.T) {
	f := newFixture(t)
	f.activeUser(t)

	first := handle(t, f, "+2348001112222", "withdraw 1 USDT", "m1")
	second := handle(t, f, "+2348001112222", "withdraw 1 USDT", "m1")

	assert.Equal(t, first, second)
	assert.Len(t, f.withdrawals.calls, 1, "redelivery must not re-run the command")
}

func TestWithdrawDispatchesToOrchestrator(t *testing.T) {
	f := newFixture(t)
	f.activeUser(t)

	handle(t, f, "+2348001112222", "withdraw 2.5 usdt", "m1")
	require.Len(t, f.withdrawals.calls, 1)
	assert.Equal(t, "quote", f.withdrawals.calls[0].method)
	assert.Equal(t, "2.5 USDT", f.withdrawals.calls[0].text)
}

func TestMalformedWithdrawGetsUsageReply(t *testing.T) {
	f := newFixture(t)
	f.activeUser(t)

	for _, text := range []string{"withdraw", "withdraw abc USDT", "withdraw -1 USDT", "withdraw 1"} {
		reply := handle(t, f, "+2348001112222", text, "m-"+text)
		assert.Contains(t, reply, "Invalid format", text)
	}
	assert.Empty(t, f.withdrawals.calls)
}

func TestIntentRejectedOutsideState(t *testing.T) {
	f := newFixture(t)
	f.activeUser(t)

	// confirm is only valid while a quote is pending
	reply := handle(t, f, "+2348001112222", "confirm", "m1")
	assert.Contains(t, reply, "help")
	assert.Empty(t, f.withdrawals.calls)
}

func TestYesRoutesBySessionState(t *testing.T) {
	f := newFixture(t)
	user := f.activeUser(t)

	f.sessions.m[user.Phone].State = domain.SessionStateSavedBankOffered
	handle(t, f, user.Phone, "yes", "m1")
	require.Len(t, f.withdrawals.calls, 1)
	assert.Equal(t, "saved_bank", f.withdrawals.calls[0].method)

	f.sessions.m[user.Phone].State = domain.SessionStateBankVerified
	handle(t, f, user.Phone, "no", "m2")
	require.Len(t, f.withdrawals.calls, 2)
	assert.Equal(t, "confirm_bank", f.withdrawals.calls[1].method)
	assert.Equal(t, "no", f.withdrawals.calls[1].text)
}

func TestFreeTextReachesBankEntryOnlyWhenPending(t *testing.T) {
	f := newFixture(t)
	user := f.activeUser(t)

	f.sessions.m[user.Phone].State = domain.SessionStateBankPending
	handle(t, f, user.Phone, "Opay, 0123456789", "m1")
	require.Len(t, f.withdrawals.calls, 1)
	assert.Equal(t, "bank_details", f.withdrawals.calls[0].method)
	assert.Equal(t, "Opay, 0123456789", f.withdrawals.calls[0].text)
}

func TestBalanceSummaryShowsLockedFunds(t *testing.T) {
	f := newFixture(t)
	f.activeUser(t)
	f.balances.balances = []*domain.Balance{
		{Asset: "USDT", Total: decimal.NewFromInt(10), Available: decimal.NewFromInt(7)},
		{Asset: "USDC", Total: decimal.NewFromInt(5), Available: decimal.NewFromInt(5)},
	}

	reply := handle(t, f, "+2348001112222", "balance", "m1")
	assert.Contains(t, reply, "USDT: 7.00 (3.00 locked)")
	assert.Contains(t, reply, "USDC: 5.00")
	assert.NotContains(t, reply, "USDC: 5.00 (")
}

func TestSessionWithoutUserRowResets(t *testing.T) {
	f := newFixture(t)
	f.sessions.m["+2348009998888"] = &domain.Session{
		Phone: "+2348009998888", State: domain.SessionStateActive,
	}

	reply := handle(t, f, "+2348009998888", "balance", "m1")
	assert.Contains(t, reply, "Welcome")
	assert.Equal(t, domain.SessionStateIdle, f.sessions.m["+2348009998888"].State)
}

func TestParseIntent(t *testing.T) {
	cases := []struct {
		text string
		want domain.Intent
	}{
		{"hi", domain.IntentGreet},
		{"Hello there", domain.IntentGreet},
		{"CREATE", domain.IntentCreate},
		{"balance", domain.IntentBalance},
		{"withdraw 1 USDT", domain.IntentWithdraw},
		{"confirm", domain.IntentConfirm},
		{"cancel", domain.IntentCancel},
		{"YES", domain.IntentYes},
		{"n", domain.IntentNo},
		{"help", domain.IntentHelp},
		{"status", domain.IntentStatus},
		{"Opay, 0123456789", domain.IntentFreeText},
		{"", domain.IntentFreeText},
		{"   ", domain.IntentFreeText},
	}
	for _, tc := range cases {
		got, _ := ParseIntent(tc.text)
		assert.Equal(t, tc.want, got, tc.text)
	}
}
