package event

import (
	"encoding/json"
	"strings"
)

// Outbound JSON-RPC methods understood by the daemon.
const (
	MethodSend          = "send"
	MethodUpdateProfile = "updateProfile"
	MethodSendTyping    = "sendTyping"
	MethodSendReceipt   = "sendReceipt"
)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type sendParams struct {
	Account     string   `json:"account"`
	Message     string   `json:"message"`
	Attachments []string `json:"attachments,omitempty"`
	Recipients  []string `json:"recipients,omitempty"`
	GroupID     string   `json:"groupId,omitempty"`
}

type profileParams struct {
	Account    string `json:"account"`
	Name       string `json:"name"`
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
}

type typingParams struct {
	Account   string `json:"account"`
	Recipient string `json:"recipient"`
}

type receiptParams struct {
	Account         string `json:"account"`
	Recipient       string `json:"recipient"`
	TargetTimestamp int64  `json:"targetTimestamp"`
}

func encode(method string, params any, id int64) []byte {
	data, _ := json.Marshal(request{JSONRPC: "2.0", Method: method, Params: params, ID: id})
	return data
}

// SendOption configures optional fields of a send request.
type SendOption func(*sendParams, *bool)

// WithAttachments attaches files (paths as seen by the daemon).
func WithAttachments(paths ...string) SendOption {
	return func(p *sendParams, _ *bool) {
		p.Attachments = append(p.Attachments, paths...)
	}
}

// ToGroup addresses the message to a group; the first recipient is taken as
// the group id.
func ToGroup() SendOption {
	return func(_ *sendParams, group *bool) { *group = true }
}

// NormalizeRecipients trims entries, drops empty ones and removes duplicates
// while keeping first-seen order.
func NormalizeRecipients(recipients ...string) []string {
	out := make([]string, 0, len(recipients))
	seen := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// NewSendMessage builds a "send" request from account to recipients.
func NewSendMessage(account string, recipients []string, body string, id int64, opts ...SendOption) []byte {
	p := sendParams{Account: account, Message: body}
	group := false
	for _, opt := range opts {
		opt(&p, &group)
	}
	recipients = NormalizeRecipients(recipients...)
	if group {
		if len(recipients) > 0 {
			p.GroupID = recipients[0]
		}
	} else {
		p.Recipients = recipients
	}
	return encode(MethodSend, p, id)
}

// NewUpdateProfile builds the "updateProfile" request used to register the
// account's display name.
func NewUpdateProfile(account, name, givenName, familyName string, id int64) []byte {
	return encode(MethodUpdateProfile, profileParams{
		Account:    account,
		Name:       name,
		GivenName:  givenName,
		FamilyName: familyName,
	}, id)
}

// NewTypingIndicator builds a "sendTyping" request.
func NewTypingIndicator(account, recipient string, id int64) []byte {
	return encode(MethodSendTyping, typingParams{Account: account, Recipient: recipient}, id)
}

// NewDeliveryReceipt builds a "sendReceipt" request for the message sent at
// targetTimestamp.
func NewDeliveryReceipt(account, recipient string, targetTimestamp, id int64) []byte {
	return encode(MethodSendReceipt, receiptParams{
		Account:         account,
		Recipient:       recipient,
		TargetTimestamp: targetTimestamp,
	}, id)
}
