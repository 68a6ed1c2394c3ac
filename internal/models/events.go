package models

// Client to server events.
const (
	EventJoinRoom                   = "join-room"
	EventServerBroadcast            = "server-broadcast"
	EventServerVolatileBroadcast    = "server-volatile-broadcast"
	EventRequestPresenterViewport   = "request-presenter-viewport"
	EventStartRecording             = "start-recording"
	EventStopRecording              = "stop-recording"
	EventCheckRecordingAvailability = "check-recording-availability"
	EventPresentationStart          = "presentation-start"
	EventPresentationStop           = "presentation-stop"
	EventRefreshToken               = "refresh-token"
	EventFollowUser                 = "follow-user"
	EventUnfollowUser               = "unfollow-user"
	EventTimerStart                 = "timer-start"
	EventTimerPause                 = "timer-pause"
	EventTimerResume                = "timer-resume"
	EventTimerReset                 = "timer-reset"
	EventTimerExtend                = "timer-extend"
	EventVotingStart                = "voting-start"
	EventVotingVote                 = "voting-vote"
	EventVotingEnd                  = "voting-end"
	EventUserSelection              = "user-selection"
)

// Server to client events.
const (
	EventInitRoom               = "init-room"
	EventInvalidToken           = "invalid-token"
	EventConnectError           = "connect_error"
	EventRoomUserChange         = "room-user-change"
	EventUserJoined             = "user-joined"
	EventSyncDesignate          = "sync-designate"
	EventJoinedData             = "joined-data"
	EventClientBroadcast        = "client-broadcast"
	EventTokenExpired           = "token-expired"
	EventTokenRefreshed         = "token-refreshed"
	EventRecordingStarted       = "recording-started"
	EventRecordingStopped       = "recording-stopped"
	EventRecordingError         = "recording-error"
	EventRecordingAvailability  = "recording-availability"
	EventUserStartedRecording   = "user-started-recording"
	EventUserStoppedRecording   = "user-stopped-recording"
	EventPresentationStarted    = "presentation-started"
	EventPresentationStopped    = "presentation-stopped"
	EventPresentationError      = "presentation-error"
	EventUserStartedPresenting  = "user-started-presenting"
	EventUserStoppedPresenting  = "user-stopped-presenting"
	EventTimerState             = "timer-state"
	EventTimerError             = "timer-error"
	EventVotingStarted          = "voting-started"
	EventVotingVoted            = "voting-voted"
	EventVotingEnded            = "voting-ended"
	EventVotingError            = "voting-error"
)

// ErrorMessage is the payload of the *-error and handshake failure events.
type ErrorMessage struct {
	Message string `json:"message"`
}

// UserActivity is the payload of user-started/stopped-recording and -presenting.
type UserActivity struct {
	UserID   string `json:"userId"`
	UserName string `json:"username"`
	SocketID string `json:"socketId,omitempty"`
}
