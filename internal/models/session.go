// Package models holds the domain types shared by the conversation core,
// the task ledger, storage and the transports.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Scope identifies one conversation: a user inside a tenant instance.
type Scope struct {
	InstanceID string `json:"instance_id"`
	UserID     string `json:"user_id"`
}

func (s Scope) String() string { return s.InstanceID + "/" + s.UserID }

// Key returns a stable map key for the scope.
func (s Scope) Key() string { return s.InstanceID + "\x00" + s.UserID }

// Valid reports whether both halves of the scope are set.
func (s Scope) Valid() bool { return s.InstanceID != "" && s.UserID != "" }

// State is the phase of the conversation state machine for a scope.
type State string

const (
	StateSetup                  State = "SETUP"
	StateInitialCheckIn         State = "INITIAL_CHECK_IN"
	StateDailyCheckIn           State = "DAILY_CHECK_IN"
	StateTaskSelection          State = "TASK_SELECTION"
	StateDailyTaskInput         State = "DAILY_TASK_INPUT"
	StateCheckIn                State = "CHECK_IN"
	StateTaskUpdate             State = "TASK_UPDATE"
	StateMiddayCheckIn          State = "MIDDAY_CHECK_IN"
	StateAwaitingSupportChoice  State = "AWAITING_SUPPORT_CHOICE"
	StateTherapeutic            State = "THERAPEUTIC_CONVERSATION"
	StateSelfCareDay            State = "SELF_CARE_DAY"
	StateSmallTaskInput         State = "SMALL_TASK_INPUT"
	StateWeeklyReflection       State = "WEEKLY_REFLECTION"
	StateWeeklyTaskSelection    State = "WEEKLY_TASK_SELECTION"
	StateWeeklyTaskInput        State = "WEEKLY_TASK_INPUT"
	StateAwaitingPlanningChoice State = "AWAITING_PLANNING_CHOICE"
)

// States lists every state in the closed set.
var States = []State{
	StateSetup, StateInitialCheckIn, StateDailyCheckIn, StateTaskSelection,
	StateDailyTaskInput, StateCheckIn, StateTaskUpdate, StateMiddayCheckIn,
	StateAwaitingSupportChoice, StateTherapeutic, StateSelfCareDay,
	StateSmallTaskInput, StateWeeklyReflection, StateWeeklyTaskSelection,
	StateWeeklyTaskInput, StateAwaitingPlanningChoice,
}

// Valid reports whether s belongs to the closed state set.
func (s State) Valid() bool {
	for _, st := range States {
		if st == s {
			return true
		}
	}
	return false
}

// Channel names the transport a user was last reached on.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSlack    Channel = "slack"
	ChannelAPI      Channel = "api"
)

// Session is the persisted conversation document for one scope.
type Session struct {
	Scope           Scope     `json:"scope"`
	State           State     `json:"state"`
	Context         Context   `json:"context"`
	Channel         Channel   `json:"channel,omitempty"`
	LastStateUpdate time.Time `json:"last_state_update"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewSession returns the initial session for a scope seen for the first time.
func NewSession(scope Scope, now time.Time) *Session {
	return &Session{
		Scope:           scope,
		State:           StateSetup,
		Context:         Context{},
		LastStateUpdate: now,
		CreatedAt:       now,
	}
}

// Clone returns a deep-enough copy: the context map is copied, values are shared.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Context = s.Context.Clone()
	return &cp
}

// Context is the open key/value bag attached to a session. Values survive a
// JSON round trip, so readers must go through the typed accessors.
type Context map[string]any

// Clone copies the map.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge applies patch onto a copy of c. A nil value in patch deletes the key.
func (c Context) Merge(patch Context) Context {
	out := c.Clone()
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// String returns the string stored under key, or "".
func (c Context) String(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return ""
}

// Int returns the integer stored under key and whether one was present.
func (c Context) Int(key string) (int, bool) {
	switch v := c[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case int32:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

// IntOr returns the integer under key, or def when absent.
func (c Context) IntOr(key string, def int) int {
	if n, ok := c.Int(key); ok {
		return n
	}
	return def
}

// Strings returns the string slice stored under key.
func (c Context) Strings(key string) []string {
	switch v := c[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Has reports whether key is present.
func (c Context) Has(key string) bool {
	_, ok := c[key]
	return ok
}
