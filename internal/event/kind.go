package event

// Kind discriminates the top-level JSON-RPC shape of a document.
type Kind int

const (
	KindUnknown Kind = iota
	KindSent
	KindReceived
	KindResult
	KindError
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindSent:
		return "sent"
	case KindReceived:
		return "received"
	case KindResult:
		return "result"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Subkind discriminates the payload carried by a send/receive envelope.
// It is only meaningful when Kind is KindSent or KindReceived.
type Subkind int

const (
	SubkindUnknown Subkind = iota
	SubkindMessage
	SubkindReceipt
	SubkindTyping
	SubkindSync
)

func (s Subkind) String() string {
	switch s {
	case SubkindMessage:
		return "message"
	case SubkindReceipt:
		return "receipt"
	case SubkindTyping:
		return "typing"
	case SubkindSync:
		return "sync"
	default:
		return "unknown"
	}
}

// ReceiptKind describes what a receipt acknowledges.
type ReceiptKind int

const (
	ReceiptUnknown ReceiptKind = iota
	ReceiptDelivery
	ReceiptRead
	ReceiptViewed
)

func (r ReceiptKind) String() string {
	switch r {
	case ReceiptDelivery:
		return "delivery"
	case ReceiptRead:
		return "read"
	case ReceiptViewed:
		return "viewed"
	default:
		return "unknown"
	}
}

// EnvelopeKey pairs an envelope payload key with the subkind it selects.
type EnvelopeKey struct {
	Key     string
	Subkind Subkind
}

// EnvelopePriority is the order in which envelope payload keys are matched.
// The first key present wins, so an envelope carrying both a typing and a data
// payload classifies as typing.
var EnvelopePriority = [...]EnvelopeKey{
	{Key: "typingMessage", Subkind: SubkindTyping},
	{Key: "receiptMessage", Subkind: SubkindReceipt},
	{Key: "syncMessage", Subkind: SubkindSync},
	{Key: "dataMessage", Subkind: SubkindMessage},
}
