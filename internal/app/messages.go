package app

import "github.com/jwulff/sequent/internal/daemon"

// DaemonConnectedMsg is sent when both daemon connections are established.
type DaemonConnectedMsg struct {
	Client   *daemon.Client // for commands (start, stop, languages, export, clear)
	EvClient *daemon.Client // for event subscription
}

// DaemonConnectErrorMsg is sent when the daemon connection fails.
type DaemonConnectErrorMsg struct {
	Err error
}

// SubscribedMsg is sent once the event connection is subscribed. Events are
// not read until the snapshot has been applied.
type SubscribedMsg struct{}

// SnapshotMsg carries the daemon's timeline and status.
type SnapshotMsg struct {
	Response daemon.Response
}

// DaemonEventMsg wraps a streamed event from the daemon.
type DaemonEventMsg struct {
	Event daemon.Event
}

// DaemonEventErrorMsg is sent when the event stream encounters an error.
type DaemonEventErrorMsg struct {
	Err error
}

// CommandResponseMsg carries the response to a command sent by a key press.
type CommandResponseMsg struct {
	Cmd      string
	Response daemon.Response
}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}

// ClearToastMsg hides the export confirmation.
type ClearToastMsg struct{}

// DisarmClearMsg cancels a pending clear confirmation.
type DisarmClearMsg struct{}

// ReconnectTickMsg triggers a reconnection attempt.
type ReconnectTickMsg struct{}
