package domain

const (
	EventNameSessionStarted   = "session.started"
	EventNameRoundResolved    = "session.round_resolved"
	EventNameSessionFinished  = "session.finished"
	EventNameSessionAbandoned = "session.abandoned"
)

type EventSessionStarted struct {
	Session Session
}

func (EventSessionStarted) Name() string { return EventNameSessionStarted }

type EventRoundResolved struct {
	Session Session
	Result  AnswerResult
}

func (EventRoundResolved) Name() string { return EventNameRoundResolved }

type EventSessionFinished struct {
	Session Session
}

func (EventSessionFinished) Name() string { return EventNameSessionFinished }

type EventSessionAbandoned struct {
	Session Session
	Reason  string
}

func (EventSessionAbandoned) Name() string { return EventNameSessionAbandoned }
