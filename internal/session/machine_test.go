package session

import (
	"testing"

	"offramp-engine/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestAcceptsGatesMoneyMovingIntents(t *testing.T) {
	// Withdrawal can only start from an active session.
	assert.True(t, Accepts(domain.SessionStateActive, domain.IntentWithdraw))
	assert.False(t, Accepts(domain.SessionStateIdle, domain.IntentWithdraw))
	assert.False(t, Accepts(domain.SessionStateAccountPending, domain.IntentWithdraw))
	assert.False(t, Accepts(domain.SessionStateWithdrawQuoted, domain.IntentWithdraw))
	assert.False(t, Accepts(domain.SessionStateSubmitted, domain.IntentWithdraw))

	// Confirm only answers a pending quote.
	assert.True(t, Accepts(domain.SessionStateWithdrawQuoted, domain.IntentConfirm))
	assert.False(t, Accepts(domain.SessionStateActive, domain.IntentConfirm))
	assert.False(t, Accepts(domain.SessionStateBankPending, domain.IntentConfirm))

	// Cancel works at every pre-submission wizard step, but not after handoff.
	for _, state := range []domain.SessionState{
		domain.SessionStateWithdrawQuoted,
		domain.SessionStateSavedBankOffered,
		domain.SessionStateBankPending,
		domain.SessionStateBankVerified,
	} {
		assert.True(t, Accepts(state, domain.IntentCancel), string(state))
	}
	assert.False(t, Accepts(domain.SessionStateSubmitted, domain.IntentCancel))
}

func TestAcceptsFreeTextOnlyForBankEntry(t *testing.T) {
	assert.True(t, Accepts(domain.SessionStateBankPending, domain.IntentFreeText))
	for _, state := range []domain.SessionState{
		domain.SessionStateIdle,
		domain.SessionStateActive,
		domain.SessionStateWithdrawQuoted,
		domain.SessionStateBankVerified,
		domain.SessionStateSubmitted,
	} {
		assert.False(t, Accepts(state, domain.IntentFreeText), string(state))
	}
}

func TestSubmittedIsReadOnly(t *testing.T) {
	assert.True(t, Accepts(domain.SessionStateSubmitted, domain.IntentStatus))
	assert.True(t, Accepts(domain.SessionStateSubmitted, domain.IntentBalance))
	assert.False(t, Accepts(domain.SessionStateSubmitted, domain.IntentYes))
	assert.False(t, Accepts(domain.SessionStateSubmitted, domain.IntentConfirm))
}

func TestReminderMatchesState(t *testing.T) {
	assert.Contains(t, Reminder(domain.SessionStateIdle), "create")
	assert.Contains(t, Reminder(domain.SessionStateWithdrawQuoted), "confirm")
	assert.Contains(t, Reminder(domain.SessionStateBankPending), "Bank Name, Account Number")
	assert.Contains(t, Reminder(domain.SessionStateSubmitted), "status")
}
