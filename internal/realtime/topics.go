package realtime

const (
	TopicSessionState  = "session.state"
	TopicSessionEvents = "session.events"
)

func IsSupportedTopic(topic string) bool {
	switch topic {
	case TopicSessionState, TopicSessionEvents:
		return true
	default:
		return false
	}
}
