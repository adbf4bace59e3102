package domain

// Intent is a parsed inbound chat command.
type Intent string

const (
	IntentGreet    Intent = "greet"
	IntentCreate   Intent = "create"
	IntentAddress  Intent = "address"
	IntentBalance  Intent = "balance"
	IntentWithdraw Intent = "withdraw"
	IntentConfirm  Intent = "confirm"
	IntentCancel   Intent = "cancel"
	IntentYes      Intent = "yes"
	IntentNo       Intent = "no"
	IntentHelp     Intent = "help"
	IntentStatus   Intent = "status"
	IntentFreeText Intent = "free_text" // bank-detail entry and anything unparsed
)

// InboundMessage is what the chat transport delivers. MessageID is the
// transport-level dedup key: redelivery of the same id must replay the
// original response instead of re-running the command.
type InboundMessage struct {
	Phone     string
	Text      string
	MessageID string
}
