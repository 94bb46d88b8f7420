// Package event turns raw JSON-RPC documents exchanged with the companion
// daemon into classified events, and builds the outbound documents the
// gateway writes back.
//
// Classification is a single pass over the decoded object:
//
//	"result" present            -> KindResult
//	else "error" present        -> KindError
//	else method == "send"       -> KindSent
//	else method == "receive"    -> KindReceived
//	else                        -> KindUnknown
//
// Sent and received documents carrying params.account and
// params.envelope.source are further classified by EnvelopePriority.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoTransmitter is returned by Reply and AcknowledgeReceipt on events that
// were parsed without a way to write back to the daemon.
var ErrNoTransmitter = errors.New("event has no transmitter")

// Transmitter writes wire-ready documents to the daemon and hands out
// correlation ids. The session owns the transport; events only borrow it.
type Transmitter interface {
	Send(ctx context.Context, doc []byte) error
	NextID() int64
}

// Event is one decoded JSON-RPC document. Its classification never changes
// after Parse returns.
type Event struct {
	raw json.RawMessage
	tx  Transmitter

	kind    Kind
	subkind Subkind
	id      int64

	sender     string
	senderName string
	senderID   string
	recipient  string
	timestamp  int64

	body     string
	hasBody  bool
	replyTo  int64
	hasReply bool

	hasAttachments bool
	receipt        json.RawMessage
	results        []json.RawMessage
}

type errorPayload struct {
	Message string `json:"message"`
	Data    *struct {
		Response *struct {
			Results []json.RawMessage `json:"results"`
		} `json:"response"`
	} `json:"data"`
}

type dataMessage struct {
	Message *string `json:"message"`
	Quote   *struct {
		ID int64 `json:"id"`
	} `json:"quote"`
	Reaction *struct {
		Emoji               string `json:"emoji"`
		TargetSentTimestamp int64  `json:"targetSentTimestamp"`
	} `json:"reaction"`
	Attachments []json.RawMessage `json:"attachments"`
}

// Parse classifies one JSON document. It fails only when raw is not a JSON
// object; unrecognized shapes classify as KindUnknown.
func Parse(raw []byte, tx Transmitter) (*Event, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if top == nil {
		return nil, errors.New("decode document: not a JSON object")
	}

	e := &Event{
		raw: json.RawMessage(append([]byte(nil), raw...)),
		tx:  tx,
	}

	if result, ok := top["result"]; ok {
		e.kind = KindResult
		e.id = decodeID(top["id"])
		var r struct {
			Results []json.RawMessage `json:"results"`
		}
		if json.Unmarshal(result, &r) == nil {
			e.results = r.Results
		}
	} else if rpcErr, ok := top["error"]; ok {
		e.kind = KindError
		e.id = decodeID(top["id"])
		var p errorPayload
		_ = json.Unmarshal(rpcErr, &p)
		e.body, e.hasBody = p.Message, true
		if p.Data != nil && p.Data.Response != nil {
			e.results = p.Data.Response.Results
		}
	} else {
		switch decodeString(top["method"]) {
		case "send":
			e.kind = KindSent
		case "receive":
			e.kind = KindReceived
		}
		e.id = decodeID(top["id"])
	}

	if e.kind == KindSent || e.kind == KindReceived {
		e.parseEnvelope(top["params"])
	}
	if e.results == nil {
		e.results = []json.RawMessage{}
	}
	return e, nil
}

func (e *Event) parseEnvelope(rawParams json.RawMessage) {
	var params map[string]json.RawMessage
	if json.Unmarshal(rawParams, &params) != nil {
		return
	}
	account, hasAccount := params["account"]
	var envelope map[string]json.RawMessage
	if !hasAccount || json.Unmarshal(params["envelope"], &envelope) != nil {
		return
	}
	source, hasSource := envelope["source"]
	if !hasSource {
		return
	}

	e.recipient = decodeString(account)
	e.sender = decodeString(source)
	e.senderName = decodeString(envelope["sourceName"])
	e.senderID = decodeString(envelope["sourceUuid"])
	e.timestamp = decodeID(envelope["timestamp"])

	for _, k := range EnvelopePriority {
		payload, ok := envelope[k.Key]
		if !ok {
			continue
		}
		e.subkind = k.Subkind
		switch k.Subkind {
		case SubkindReceipt:
			e.receipt = payload
		case SubkindMessage:
			e.parseDataMessage(payload)
		}
		return
	}
}

// parseDataMessage applies quote before reaction, so a reaction overwrites
// both the body and the reply timestamp.
func (e *Event) parseDataMessage(payload json.RawMessage) {
	var dm dataMessage
	if json.Unmarshal(payload, &dm) != nil {
		return
	}
	if dm.Message != nil {
		e.body, e.hasBody = *dm.Message, true
	}
	if dm.Quote != nil {
		e.replyTo, e.hasReply = dm.Quote.ID, true
	}
	if dm.Reaction != nil {
		e.body, e.hasBody = dm.Reaction.Emoji, true
		e.replyTo, e.hasReply = dm.Reaction.TargetSentTimestamp, true
	}
	e.hasAttachments = len(dm.Attachments) > 0
}

func decodeID(raw json.RawMessage) int64 {
	var n int64
	if json.Unmarshal(raw, &n) == nil {
		return n
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return int64(f)
	}
	return 0
}

func decodeString(raw json.RawMessage) string {
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}

func (e *Event) Kind() Kind       { return e.kind }
func (e *Event) Subkind() Subkind { return e.subkind }

// ID is the JSON-RPC correlation id, zero when absent.
func (e *Event) ID() int64 { return e.id }

func (e *Event) Sender() string     { return e.sender }
func (e *Event) SenderName() string { return e.senderName }
func (e *Event) SenderID() string   { return e.senderID }

// Recipient is the account the envelope was delivered to.
func (e *Event) Recipient() string { return e.recipient }

// Timestamp is the envelope's logical send time.
func (e *Event) Timestamp() int64 { return e.timestamp }

// Body returns the message text and whether one was present. For reactions
// the body is the reaction emoji; for errors it is the error message.
func (e *Event) Body() (string, bool) { return e.body, e.hasBody }

// ReplyTo returns the timestamp of the quoted or reacted-to message.
func (e *Event) ReplyTo() (int64, bool) { return e.replyTo, e.hasReply }

// HasAttachments reports whether a data message carried attachments.
func (e *Event) HasAttachments() bool { return e.hasAttachments }

// Results returns the per-recipient result records of a result or error
// response. It is never nil.
func (e *Event) Results() []json.RawMessage { return e.results }

// Raw returns the document the event was parsed from.
func (e *Event) Raw() json.RawMessage { return e.raw }

// ReceiptKind is derived on demand from the receipt payload. Delivery wins
// over read, read over viewed.
func (e *Event) ReceiptKind() ReceiptKind {
	if e.subkind != SubkindReceipt {
		return ReceiptUnknown
	}
	var flags struct {
		IsDelivery bool `json:"isDelivery"`
		IsRead     bool `json:"isRead"`
		IsViewed   bool `json:"isViewed"`
	}
	if json.Unmarshal(e.receipt, &flags) != nil {
		return ReceiptUnknown
	}
	switch {
	case flags.IsDelivery:
		return ReceiptDelivery
	case flags.IsRead:
		return ReceiptRead
	case flags.IsViewed:
		return ReceiptViewed
	default:
		return ReceiptUnknown
	}
}

// Reply sends a typing indicator and then a message back to the sender.
// Each call consumes a fresh correlation id.
func (e *Event) Reply(ctx context.Context, text string) error {
	if e.tx == nil {
		return ErrNoTransmitter
	}
	if err := e.tx.Send(ctx, NewTypingIndicator(e.recipient, e.sender, e.tx.NextID())); err != nil {
		return fmt.Errorf("send typing: %w", err)
	}
	if err := e.tx.Send(ctx, NewSendMessage(e.recipient, []string{e.sender}, text, e.tx.NextID())); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// AcknowledgeReceipt sends a delivery receipt for this event's timestamp.
func (e *Event) AcknowledgeReceipt(ctx context.Context) error {
	if e.tx == nil {
		return ErrNoTransmitter
	}
	if err := e.tx.Send(ctx, NewDeliveryReceipt(e.recipient, e.sender, e.timestamp, e.tx.NextID())); err != nil {
		return fmt.Errorf("send receipt: %w", err)
	}
	return nil
}

// String renders the event for logs.
func (e *Event) String() string {
	var b strings.Builder
	b.WriteString("[" + e.kind.String() + "]")
	switch {
	case e.kind == KindResult:
		b.WriteString(` id="` + strconv.FormatInt(e.id, 10) + `" ` + string(e.raw))
	case e.kind == KindError:
		b.WriteString(` id="` + strconv.FormatInt(e.id, 10) + `" msg="` + e.body + `" ` + string(e.raw))
	case e.kind == KindUnknown, e.subkind == SubkindUnknown:
		b.WriteString(" " + string(e.raw))
	default:
		b.WriteString(" [" + e.subkind.String() + "]")
		fmt.Fprintf(&b, ` id="%d" sender="%s" recipient="%s" timestamp="%d"`, e.id, e.sender, e.recipient, e.timestamp)
		if e.hasBody {
			b.WriteString(` msg="` + e.body + `"`)
		}
		if e.hasReply {
			b.WriteString(` reply_ts="` + strconv.FormatInt(e.replyTo, 10) + `"`)
		}
		if e.subkind == SubkindReceipt {
			b.WriteString(` type="` + e.ReceiptKind().String() + `"`)
		}
	}
	return b.String()
}
