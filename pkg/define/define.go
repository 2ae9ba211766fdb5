package define

import "time"

// Defaults for remote connections. The timeout values mirror what operators
// expect from the panel: a short connect window and a generous idle window
// for interactive terminals. Both are overridable through the config file.
const (
	DefaultSSHPort        = 22
	DefaultConnectTimeout = 10 * time.Second
	DefaultIdleTimeout    = 30 * time.Minute
	DefaultKeepalive      = 30 * time.Second

	DefaultExecTimeout = 30 * time.Second
	MaxExecTimeout     = 10 * time.Minute
)

// Terminal defaults applied when the client does not send a resize frame.
const (
	DefaultTermType = "xterm-256color"
	DefaultTermRows = 24
	DefaultTermCols = 80

	// ShellReadChunk bounds a single read from the remote shell so output
	// frames stay small enough for the client to render incrementally.
	ShellReadChunk = 4096

	// IdleCheckInterval is how often the reader duty polls the activity
	// clock while no output is flowing.
	IdleCheckInterval = 500 * time.Millisecond
)

const (
	DefaultListenAddr = "127.0.0.1:8642"
	DefaultConfigPath = "ltpanel.json"

	LockSuffix = ".lock"
)

// CLI flag names shared between commands.
const (
	FlagConfig = "config"
	FlagListen = "listen"
	FlagToken  = "token"

	FlagServer       = "server"
	FlagHostID       = "host-id"
	FlagCredentialID = "credential-id"

	FlagOutput     = "output"
	FlagKeyType    = "type"
	FlagPassphrase = "passphrase"
)
