package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	ContentTypeJSON       = "application/json"
	HeaderSlackSignature  = "X-Slack-Signature"
	HeaderSlackRequestTS  = "X-Slack-Request-Timestamp"
	SlackSignatureVersion = "v0"
)

// API paths
const (
	PathHealthz = "/healthz"
	PathEvents  = "/v1/events"
)

// Defaults and limits
const (
	DefaultQueueCapacity = 128
	DefaultMaxAttempts   = 3
)

// Git related constants
const (
	GitRemoteName = "origin"
)

// Reactions set on the triggering Slack message.
const (
	ReactionWorking = "eyes"
	ReactionSuccess = "white_check_mark"
	ReactionWarning = "warning"
)

// Job status strings
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Subdirectory names
const (
	ReposDirName = "repos"
)
