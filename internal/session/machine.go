package session

import "offramp-engine/internal/domain"

// Accepts reports whether an intent is valid in the given state. The engine
// rejects everything else with a state-appropriate reminder instead of
// silently dropping it.
func Accepts(state domain.SessionState, intent domain.Intent) bool {
	switch state {
	case domain.SessionStateIdle:
		switch intent {
		case domain.IntentGreet, domain.IntentCreate, domain.IntentHelp:
			return true
		}
	case domain.SessionStateAccountPending:
		// Re-entrant: a duplicate create while provisioning is a no-op reply.
		switch intent {
		case domain.IntentGreet, domain.IntentCreate, domain.IntentHelp, domain.IntentStatus:
			return true
		}
	case domain.SessionStateActive:
		switch intent {
		case domain.IntentGreet, domain.IntentAddress, domain.IntentBalance,
			domain.IntentWithdraw, domain.IntentHelp, domain.IntentStatus:
			return true
		}
	case domain.SessionStateWithdrawQuoted:
		switch intent {
		case domain.IntentConfirm, domain.IntentCancel:
			return true
		}
	case domain.SessionStateSavedBankOffered:
		switch intent {
		case domain.IntentYes, domain.IntentNo, domain.IntentCancel:
			return true
		}
	case domain.SessionStateBankPending:
		switch intent {
		case domain.IntentFreeText, domain.IntentCancel:
			return true
		}
	case domain.SessionStateBankVerified:
		switch intent {
		case domain.IntentYes, domain.IntentNo, domain.IntentCancel:
			return true
		}
	case domain.SessionStateSubmitted:
		// Hands off: only status queries until reconciliation resolves.
		switch intent {
		case domain.IntentStatus, domain.IntentHelp, domain.IntentBalance:
			return true
		}
	}
	return false
}

// Reminder is the reply sent when input is rejected by the gate.
func Reminder(state domain.SessionState) string {
	switch state {
	case domain.SessionStateIdle:
		return "❓ No account yet. Type `create` to open one, or `help` for commands."
	case domain.SessionStateAccountPending:
		return "🔄 Your account is still being set up. Hang tight, this takes a few seconds."
	case domain.SessionStateWithdrawQuoted:
		return "❓ Please type `confirm` to proceed or `cancel` to abort."
	case domain.SessionStateSavedBankOffered:
		return "❓ Please type `yes` to use this account, `no` to enter another, or `cancel` to abort."
	case domain.SessionStateBankPending:
		return "🏦 Please send your bank details as `Bank Name, Account Number`\n\n*Example:* `Opay, 0123456789`\n\nOr type `cancel` to abort."
	case domain.SessionStateBankVerified:
		return "❓ Please type `yes` to confirm or `no` to re-enter your bank details."
	case domain.SessionStateSubmitted:
		return "⏳ Your withdrawal is processing. Type `status` to check it. You'll get a message once it completes."
	default:
		return "❓ I didn't understand that. Type `help` for available commands."
	}
}
