package mqtt

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

const (
	SensorUpdatePattern   = "%s/sensors/%s/update"
	SensorUpdateSubTopic  = "%s/sensors/+/update"
	DefaultUplinkTopic    = "application/+/device/+/event/up"
	uplinkDeviceSegment   = "device"
	sensorUpdateSensorIdx = 2
)

// TopicManagerImpl builds the topics tidewatch publishes on and reads
// identifiers back out of subscribed ones.
type TopicManagerImpl struct {
	baseTopic   string
	uplinkTopic string
	patterns    map[string]*regexp.Regexp
	mu          sync.RWMutex
}

func NewTopicManager(baseTopic, uplinkTopic string) *TopicManagerImpl {
	if uplinkTopic == "" {
		uplinkTopic = DefaultUplinkTopic
	}
	return &TopicManagerImpl{
		baseTopic:   strings.TrimSuffix(baseTopic, "/"),
		uplinkTopic: uplinkTopic,
		patterns:    make(map[string]*regexp.Regexp),
	}
}

func (tm *TopicManagerImpl) UplinkTopic() string {
	return tm.uplinkTopic
}

func (tm *TopicManagerImpl) SensorUpdateTopic(sensor string) string {
	return fmt.Sprintf(SensorUpdatePattern, tm.baseTopic, sanitizeSegment(sensor))
}

func (tm *TopicManagerImpl) SensorUpdateSubTopic() string {
	return fmt.Sprintf(SensorUpdateSubTopic, tm.baseTopic)
}

// ExtractSensor returns the sensor segment of an update topic.
func (tm *TopicManagerImpl) ExtractSensor(topic string) (string, error) {
	prefix := tm.baseTopic + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", fmt.Errorf("topic %q is outside %q", topic, tm.baseTopic)
	}
	parts := strings.Split(strings.TrimPrefix(topic, tm.baseTopic), "/")
	if len(parts) != 4 || parts[1] != "sensors" || parts[3] != "update" || parts[sensorUpdateSensorIdx] == "" {
		return "", fmt.Errorf("topic %q is not a sensor update topic", topic)
	}
	return parts[sensorUpdateSensorIdx], nil
}

// ExtractDevice returns the segment following "device" in a network server
// uplink topic, usually the DevEUI.
func (tm *TopicManagerImpl) ExtractDevice(topic string) (string, error) {
	regex := tm.getOrCreateRegex(uplinkDeviceSegment + `/([^/]+)`)
	matches := regex.FindStringSubmatch(topic)
	if len(matches) < 2 {
		return "", fmt.Errorf("no device segment in topic %q", topic)
	}
	return matches[1], nil
}

func (tm *TopicManagerImpl) getOrCreateRegex(pattern string) *regexp.Regexp {
	tm.mu.RLock()
	regex, ok := tm.patterns[pattern]
	tm.mu.RUnlock()
	if ok {
		return regex
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	if regex, ok := tm.patterns[pattern]; ok {
		return regex
	}
	regex = regexp.MustCompile(`(?:^|/)` + pattern)
	tm.patterns[pattern] = regex
	return regex
}

// sanitizeSegment keeps MQTT wildcards and separators out of a topic level.
func sanitizeSegment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
