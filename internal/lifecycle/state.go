package lifecycle

import "fmt"

// State 是 worker 的生命周期阶段。
type State int

const (
	StateInstalling State = iota + 1
	StateInstalled
	StateActivating
	StateActive
	// StateRedundant 表示安装失败或已被新版本取代。
	StateRedundant
)

var stateNames = map[State]string{
	StateInstalling: "installing",
	StateInstalled:  "installed",
	StateActivating: "activating",
	StateActive:     "active",
	StateRedundant:  "redundant",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText 让 State 在 JSON 中以名称输出。
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventType 区分生命周期事件。
type EventType string

const (
	EventUpdateFound      EventType = "updatefound"
	EventStateChange      EventType = "statechange"
	EventControllerChange EventType = "controllerchange"
	EventInstallError     EventType = "installerror"
)

// Event 在 worker 状态变化时广播给订阅者。
type Event struct {
	Type    EventType `json:"type"`
	Version string    `json:"version"`
	State   State     `json:"state"`
	Error   string    `json:"error,omitempty"`
}

// Snapshot 是注册句柄在某一时刻的视图，字段为各阶段 worker 的版本号，空串表示没有。
type Snapshot struct {
	Installing string `json:"installing,omitempty"`
	Waiting    string `json:"waiting,omitempty"`
	Active     string `json:"active,omitempty"`
}

// UpdateReady 表示有新版本在等待，同时旧版本仍在控制页面。
func (s Snapshot) UpdateReady() bool {
	return s.Waiting != "" && s.Active != ""
}

// MessageSkipWaiting 是页面发给等待中 worker 的唯一消息类型。
const MessageSkipWaiting = "SKIP_WAITING"

// Message 是页面与 worker 之间的消息体。
type Message struct {
	Type string `json:"type"`
}

// UnmarshalText 解析 MarshalText 输出的名称。
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown worker state %q", string(text))
}
