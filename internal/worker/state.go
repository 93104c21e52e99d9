package worker

// State 是 worker 生命周期状态。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// KnownStates 返回全部状态名，供 lifecycle_state 指标复位使用。
func KnownStates() []string {
	return []string{
		string(StateParsed),
		string(StateInstalling),
		string(StateInstalled),
		string(StateActivating),
		string(StateActivated),
		string(StateRedundant),
	}
}
