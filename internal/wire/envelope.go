package wire

import (
	"encoding/json"

	"github.com/pkg/errors"

	"profileserver/internal/protoerr"
)

// ProtocolViolationID is the sentinel message id a generic
// protocol-violation reply is sent with, right before the connection
// is closed.
const ProtocolViolationID uint32 = 0x0BADC0DE

// RequestKind names a request/notification type. Response envelopes
// echo the request's Kind so the dispatcher can validate that a
// pending request and its response agree in type.
type RequestKind string

const (
	KindStartConversation                        RequestKind = "StartConversation"
	KindVerifyIdentity                           RequestKind = "VerifyIdentity"
	KindCheckIn                                  RequestKind = "CheckIn"
	KindListRoles                                RequestKind = "ListRoles"
	KindRegisterHosting                          RequestKind = "RegisterHosting"
	KindUpdateProfile                            RequestKind = "UpdateProfile"
	KindCancelHostingAgreement                   RequestKind = "CancelHostingAgreement"
	KindApplicationServiceAdd                    RequestKind = "ApplicationServiceAdd"
	KindApplicationServiceRemove                 RequestKind = "ApplicationServiceRemove"
	KindAddRelatedIdentity                       RequestKind = "AddRelatedIdentity"
	KindRemoveRelatedIdentity                    RequestKind = "RemoveRelatedIdentity"
	KindGetIdentityRelationshipsInformation      RequestKind = "GetIdentityRelationshipsInformation"
	KindGetIdentityInformation                   RequestKind = "GetIdentityInformation"
	KindCallIdentityApplicationService           RequestKind = "CallIdentityApplicationService"
	KindIncomingCallNotification                 RequestKind = "IncomingCallNotification"
	KindApplicationServiceSendMessage            RequestKind = "ApplicationServiceSendMessage"
	KindApplicationServiceReceiveMessageNotification RequestKind = "ApplicationServiceReceiveMessageNotification"
	KindProfileSearch                            RequestKind = "ProfileSearch"
	KindProfileSearchPart                        RequestKind = "ProfileSearchPart"
	KindStartNeighborhoodInitialization          RequestKind = "StartNeighborhoodInitialization"
	KindNeighborhoodSharedProfileUpdate          RequestKind = "NeighborhoodSharedProfileUpdate"
	KindFinishNeighborhoodInitialization         RequestKind = "FinishNeighborhoodInitialization"
)

// Message is the top-level wire object: exactly one of Request or
// Response is set.
type Message struct {
	ID       uint32    `json:"id"`
	Request  *Request  `json:"request,omitempty"`
	Response *Response `json:"response,omitempty"`
}

// Request is either a single_request or a conversation_request,
// distinguished by Conversation. ID mirrors the enclosing Message's
// id so a handler that must suspend and reply later (a relay call, a
// relay message forward) can address its eventual response without threading
// the Message through the dispatch signature.
type Request struct {
	ID           uint32          `json:"-"`
	Conversation bool            `json:"conversation"`
	Kind         RequestKind     `json:"kind"`
	Body         json.RawMessage `json:"body,omitempty"`
}

// Response mirrors Request and carries the outcome status.
type Response struct {
	ID           uint32          `json:"-"`
	Conversation bool            `json:"conversation"`
	Kind         RequestKind     `json:"kind"`
	Status       protoerr.Status `json:"status"`
	Details      string          `json:"details,omitempty"`
	Body         json.RawMessage `json:"body,omitempty"`
}

// NewRequest marshals body and wraps it in a Message carrying a
// Request envelope.
func NewRequest(id uint32, conversation bool, kind RequestKind, body any) (Message, error) {
	raw, err := marshalBody(body)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID: id,
		Request: &Request{
			ID:           id,
			Conversation: conversation,
			Kind:         kind,
			Body:         raw,
		},
	}, nil
}

// NewResponse marshals body and wraps it in a Message carrying a
// Response envelope.
func NewResponse(id uint32, conversation bool, kind RequestKind, status protoerr.Status, details string, body any) (Message, error) {
	raw, err := marshalBody(body)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID: id,
		Response: &Response{
			ID:           id,
			Conversation: conversation,
			Kind:         kind,
			Status:       status,
			Details:      details,
			Body:         raw,
		},
	}, nil
}

// NewProtocolViolation builds the fixed-id generic violation reply
// sent immediately before the connection is closed.
func NewProtocolViolation(status protoerr.Status, details string) Message {
	return Message{
		ID: ProtocolViolationID,
		Response: &Response{
			Status:  status,
			Details: details,
		},
	}
}

func marshalBody(body any) (json.RawMessage, error) {
	if body == nil {
		return nil, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "wire: marshal body")
	}
	return raw, nil
}

// DecodeBody unmarshals a request body into v.
func (r *Request) DecodeBody(v any) error {
	if r == nil || len(r.Body) == 0 {
		return errors.New("wire: empty request body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.Wrap(err, "wire: decode request body")
	}
	return nil
}

// DecodeBody unmarshals a response body into v.
func (r *Response) DecodeBody(v any) error {
	if r == nil || len(r.Body) == 0 {
		return errors.New("wire: empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.Wrap(err, "wire: decode response body")
	}
	return nil
}

// EncodeMessage serializes a Message to its body form (framing is
// applied separately by WriteFrame).
func EncodeMessage(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "wire: encode message")
	}
	return b, nil
}

// DecodeMessage parses a frame payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, errors.Wrap(err, "wire: decode message")
	}
	if m.Request == nil && m.Response == nil {
		return Message{}, errors.New("wire: message has neither request nor response")
	}
	if m.Request != nil && m.Response != nil {
		return Message{}, errors.New("wire: message has both request and response")
	}
	if m.Request != nil {
		m.Request.ID = m.ID
	}
	if m.Response != nil {
		m.Response.ID = m.ID
	}
	return m, nil
}
