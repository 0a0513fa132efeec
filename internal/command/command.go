package command

import (
	"encoding/json"
	"fmt"
	"strings"

	"pkt.systems/tabrotor/schema"
)

// Kind names a command variant on the wire.
type Kind string

const (
	KindGetState Kind = "getState"
	KindStart    Kind = "start"
	KindStop     Kind = "stop"
	KindSaveURLs Kind = "saveUrls"
	KindForget   Kind = "forget"
)

// Command is one of GetState, Start, Stop, SaveURLs or Forget.
type Command interface {
	Kind() Kind
}

// GetState asks for a tab's rotation state.
type GetState struct {
	TabID schema.TabID
}

// Start begins rotating a tab.
type Start struct {
	TabID   schema.TabID
	URLs    []string
	MinTime int
	MaxTime int
}

// Stop halts rotation for a tab.
type Stop struct {
	TabID schema.TabID
}

// SaveURLs persists the user's URL list.
type SaveURLs struct {
	URLs []string
}

// Forget stops a tab and deletes its rotation state.
type Forget struct {
	TabID schema.TabID
}

func (GetState) Kind() Kind { return KindGetState }
func (Start) Kind() Kind    { return KindStart }
func (Stop) Kind() Kind     { return KindStop }
func (SaveURLs) Kind() Kind { return KindSaveURLs }
func (Forget) Kind() Kind   { return KindForget }

type envelope struct {
	Type    string   `json:"type"`
	TabID   *int64   `json:"tabId"`
	URLs    []string `json:"urls"`
	MinTime int      `json:"minTime"`
	MaxTime int      `json:"maxTime"`
}

// Decode parses a JSON command envelope keyed by "type".
func Decode(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err)
	}
	kind := Kind(strings.TrimSpace(env.Type))
	switch kind {
	case KindGetState:
		tabID, err := requireTab(env)
		if err != nil {
			return nil, err
		}
		return GetState{TabID: tabID}, nil
	case KindStart:
		tabID, err := requireTab(env)
		if err != nil {
			return nil, err
		}
		return Start{TabID: tabID, URLs: env.URLs, MinTime: env.MinTime, MaxTime: env.MaxTime}, nil
	case KindStop:
		tabID, err := requireTab(env)
		if err != nil {
			return nil, err
		}
		return Stop{TabID: tabID}, nil
	case KindSaveURLs:
		return SaveURLs{URLs: env.URLs}, nil
	case KindForget:
		tabID, err := requireTab(env)
		if err != nil {
			return nil, err
		}
		return Forget{TabID: tabID}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", schema.ErrInvalidRequest)
	default:
		return nil, fmt.Errorf("%w: %s", schema.ErrUnknownCommand, kind)
	}
}

func requireTab(env envelope) (schema.TabID, error) {
	if env.TabID == nil {
		return 0, fmt.Errorf("%w: tabId is required", schema.ErrInvalidRequest)
	}
	if *env.TabID < 0 {
		return 0, fmt.Errorf("%w: tabId must not be negative", schema.ErrInvalidRequest)
	}
	return schema.TabID(*env.TabID), nil
}
