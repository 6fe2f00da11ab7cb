package telemetry

import (
	"fmt"
	"regexp"
)

var topicPrefixRegex = regexp.MustCompile(`^\w+(\.\w+)*$`)

// Topic builds the AMQP routing keys events are published under
type Topic struct {
	Prefix string
}

// Key returns the routing key for events of type t
func (t *Topic) Key(et EventType) string {
	return fmt.Sprintf("%s.%s", t.Prefix, et)
}

// NewTopic constructs a new Topic
func NewTopic(prefix string) (*Topic, error) {
	if !topicPrefixRegex.MatchString(prefix) {
		return nil, fmt.Errorf("topic: '%s' is not a valid routing prefix", prefix)
	}

	return &Topic{Prefix: prefix}, nil
}
