package mqtt

import "strings"

// Topics builds the topics exchanged with the ioBroker MQTT relay.
//
// Every topic lives under a configurable prefix (mqtt.topic_prefix,
// "iobroker" by default):
//
//	{prefix}/state/{entityId}         state changes relayed from ioBroker
//	{prefix}/request/get              point lookup requests
//	{prefix}/response/{requestId}     point lookup responses
//	{prefix}/system/status            this service's online/offline status
type Topics struct {
	Prefix string
}

// NewTopics returns a builder for prefix, trimming surrounding slashes.
func NewTopics(prefix string) Topics {
	return Topics{Prefix: strings.Trim(prefix, "/")}
}

// State returns the topic for state changes of one entity.
//
// Example: iobroker/state/hm-rpc.0.ABC123.1.TEMPERATURE
func (t Topics) State(entityID string) string {
	return t.Prefix + "/state/" + entityID
}

// AllStates returns a pattern matching every state topic.
//
// Pattern: iobroker/state/#
func (t Topics) AllStates() string {
	return t.Prefix + "/state/#"
}

// EntityFromState extracts the entity ID from a state topic.
func (t Topics) EntityFromState(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, t.Prefix+"/state/")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// LookupRequest returns the topic point lookups are published to.
//
// Example: iobroker/request/get
func (t Topics) LookupRequest() string {
	return t.Prefix + "/request/get"
}

// LookupResponse returns the topic the relay answers a lookup on.
//
// Example: iobroker/response/2b1f...
func (t Topics) LookupResponse(requestID string) string {
	return t.Prefix + "/response/" + requestID
}

// AllLookupResponses returns a pattern matching every lookup response.
//
// Pattern: iobroker/response/+
func (t Topics) AllLookupResponses() string {
	return t.Prefix + "/response/+"
}

// SystemStatus returns the retained status topic of this service.
//
// Example: iobroker/system/status
func (t Topics) SystemStatus() string {
	return t.Prefix + "/system/status"
}
