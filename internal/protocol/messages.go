package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeUserText         MessageType = "user_text"
	TypeCommand          MessageType = "command"
	TypeAssistantText    MessageType = "assistant_text"
	TypeExtractionResult MessageType = "extraction_result"
	TypeStatus           MessageType = "status"
	TypeErrorEvent       MessageType = "error_event"
)

// Command actions accepted in a command frame.
const (
	ActionExtract = "extract"
	ActionClear   = "clear"
	ActionStatus  = "status"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type UserText struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
	TSMs int64       `json:"ts_ms,omitempty"`
}

type Command struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

type AssistantText struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Text           string      `json:"text"`
}

type ExtractionResult struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	ThoughtsSaved  int         `json:"thoughts_saved"`
	ThoughtIDs     []string    `json:"thought_ids,omitempty"`
}

type Status struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Active         bool        `json:"active"`
	MessageCount   int         `json:"message_count"`
	Policy         string      `json:"policy"`
}

type ErrorEvent struct {
	Type          MessageType `json:"type"`
	Code          string      `json:"code"`
	Stage         string      `json:"stage,omitempty"`
	ThoughtsSaved int         `json:"thoughts_saved,omitempty"`
	Retryable     bool        `json:"retryable"`
	Detail        string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserText:
		var msg UserText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid user_text")
		}
		return msg, nil
	case TypeCommand:
		var msg Command
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionExtract, ActionClear, ActionStatus:
		default:
			return nil, fmt.Errorf("invalid command action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
