package connector

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Resource names are a pure function of the connector identity. The two
// prefixes differ, so a listen name never equals a push name and distinct
// identities never share a name.
const (
	listenPrefix  = "listen_"
	pushPrefix    = "push_"
	routingSuffix = "routing_"

	// MaxIdentityLength keeps the longest derived name under the AMQP
	// 255-byte limit for short strings.
	MaxIdentityLength = 200
)

// Direction identifies one of the two queues a connector owns
type Direction string

const (
	DirectionListen Direction = "listen"
	DirectionPush   Direction = "push"
)

// ValidateIdentity checks that an identity can be embedded in queue names
func ValidateIdentity(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidIdentity)
	case len(id) > MaxIdentityLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidIdentity, MaxIdentityLength)
	case !utf8.ValidString(id):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidIdentity)
	case strings.IndexFunc(id, unicode.IsSpace) >= 0:
		return fmt.Errorf("%w: contains whitespace", ErrInvalidIdentity)
	}
	return nil
}

// ListenQueue is the queue the platform publishes work on for a connector
func ListenQueue(id string) string { return listenPrefix + id }

// PushQueue is the queue a connector publishes results on
func PushQueue(id string) string { return pushPrefix + id }

func ListenRoutingKey(id string) string { return listenPrefix + routingSuffix + id }

func PushRoutingKey(id string) string { return pushPrefix + routingSuffix + id }

// ParseQueueName reverses ListenQueue and PushQueue
func ParseQueueName(name string) (id string, dir Direction, ok bool) {
	switch {
	case strings.HasPrefix(name, listenPrefix):
		id, dir = strings.TrimPrefix(name, listenPrefix), DirectionListen
	case strings.HasPrefix(name, pushPrefix):
		id, dir = strings.TrimPrefix(name, pushPrefix), DirectionPush
	default:
		return "", "", false
	}
	if ValidateIdentity(id) != nil {
		return "", "", false
	}
	return id, dir, true
}
