package mqtt

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/rs/zerolog"
)

type TopicHandler interface {
	Process(ctx context.Context, topic string, payload []byte) error
}

// TopicHandlerFunc adapts a function to TopicHandler.
type TopicHandlerFunc func(ctx context.Context, topic string, payload []byte) error

func (f TopicHandlerFunc) Process(ctx context.Context, topic string, payload []byte) error {
	return f(ctx, topic, payload)
}

type route struct {
	pattern string
	regex   *regexp.Regexp
	handler TopicHandler
}

// RouterImpl dispatches messages to the first registered handler whose
// subscription pattern matches the topic.
type RouterImpl struct {
	logger zerolog.Logger
	routes []route
	mu     sync.RWMutex
}

func NewRouter(logger zerolog.Logger) *RouterImpl {
	return &RouterImpl{
		logger: logger.With().Str("component", "router").Logger(),
	}
}

func (r *RouterImpl) RegisterMultipleTopics(topicPatterns []string, handler TopicHandler) {
	for _, topicPattern := range topicPatterns {
		r.RegisterHandler(topicPattern, handler)
	}
}

func (r *RouterImpl) RegisterHandler(topicPattern string, handler TopicHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regex := regexp.MustCompile(topicToRegex(topicPattern))
	for i := range r.routes {
		if r.routes[i].pattern == topicPattern {
			r.routes[i].handler = handler
			return
		}
	}
	r.routes = append(r.routes, route{pattern: topicPattern, regex: regex, handler: handler})

	r.logger.Info().
		Str("topic_pattern", topicPattern).
		Msg("Handler registered")
}

func (r *RouterImpl) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	patterns := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		patterns = append(patterns, rt.pattern)
	}
	return patterns
}

func (r *RouterImpl) Route(ctx context.Context, topic string, payload []byte) error {
	r.mu.RLock()
	var handler TopicHandler
	for _, rt := range r.routes {
		if rt.regex.MatchString(topic) {
			handler = rt.handler
			break
		}
	}
	r.mu.RUnlock()

	if handler == nil {
		return fmt.Errorf("no handler found for topic '%s'", topic)
	}
	return handler.Process(ctx, topic, payload)
}

func topicToRegex(topic string) string {
	pattern := regexp.QuoteMeta(topic)
	pattern = "^" + pattern + "$"
	pattern = regexp.MustCompile(`\\\+`).ReplaceAllString(pattern, `[^/]+`)
	pattern = regexp.MustCompile(`/#\$$`).ReplaceAllString(pattern, `(/.*)?$$`)
	pattern = regexp.MustCompile(`#`).ReplaceAllString(pattern, `.*`)

	return pattern
}
