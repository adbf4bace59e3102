package engine

import (
	"strings"

	"offramp-engine/internal/domain"

	"github.com/shopspring/decimal"
)

// ParseIntent maps free-form chat text onto an intent plus trailing args.
// Matching is case-insensitive on the first word; anything unrecognized is
// free text so the bank-detail step can consume it.
func ParseIntent(text string) (domain.Intent, []string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return domain.IntentFreeText, nil
	}
	head := strings.ToLower(fields[0])
	args := fields[1:]

	switch head {
	case "hi", "hello", "hey", "start":
		return domain.IntentGreet, args
	case "create", "register", "signup":
		return domain.IntentCreate, args
	case "address", "wallet", "deposit":
		return domain.IntentAddress, args
	case "balance", "bal":
		return domain.IntentBalance, args
	case "withdraw", "cashout":
		return domain.IntentWithdraw, args
	case "confirm":
		return domain.IntentConfirm, args
	case "cancel", "abort", "stop":
		return domain.IntentCancel, args
	case "yes", "y":
		return domain.IntentYes, args
	case "no", "n":
		return domain.IntentNo, args
	case "help", "menu", "commands":
		return domain.IntentHelp, args
	case "status":
		return domain.IntentStatus, args
	}
	return domain.IntentFreeText, nil
}

// parseWithdrawArgs validates `withdraw <amount> <asset>`. Returns a
// user-facing correction message when the input is malformed.
func parseWithdrawArgs(args []string) (decimal.Decimal, string, string) {
	const usage = "❌ Invalid format. Use: `withdraw [amount] [crypto]`\n\n*Example:* `withdraw 1 USDT`"
	if len(args) != 2 {
		return decimal.Zero, "", usage
	}
	amount, err := decimal.NewFromString(args[0])
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, "", usage
	}
	asset := strings.ToUpper(args[1])
	return amount, asset, ""
}
