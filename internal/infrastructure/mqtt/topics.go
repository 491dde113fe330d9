package mqtt

import "fmt"

// TopicPrefix is the root of every Gray Logic topic.
//
// Bridge topics use the flat scheme graylogic/{category}/{protocol}/{id}.
const TopicPrefix = "graylogic"

// ProtocolAV is the protocol segment used by the AV bridge.
const ProtocolAV = "av"

// Topics provides builders for Gray Logic MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState(mqtt.ProtocolAV, "lobby-display")
//	// Returns: "graylogic/state/av/lobby-display"
type Topics struct{}

// BridgeState returns the topic for retained device state.
//
// Example: graylogic/state/av/lobby-display
func (Topics) BridgeState(protocol, id string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, id)
}

// BridgeCommand returns the topic for commands to a device.
//
// Example: graylogic/command/av/lobby-display
func (Topics) BridgeCommand(protocol, id string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, id)
}

// BridgeAck returns the topic for command acknowledgements.
//
// Example: graylogic/ack/av/lobby-display
func (Topics) BridgeAck(protocol, id string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocol, id)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: graylogic/health/av
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, protocol)
}

// BridgeDiscovery returns the topic for device discovery announcements.
//
// Example: graylogic/discovery/av
func (Topics) BridgeDiscovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, protocol)
}

// BridgeCommands returns a pattern matching every device command for a protocol.
//
// Pattern: graylogic/command/av/+
func (Topics) BridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, protocol)
}

// BridgeStates returns a pattern matching every device state for a protocol.
//
// Pattern: graylogic/state/av/+
func (Topics) BridgeStates(protocol string) string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefix, protocol)
}

// AllTopics returns a pattern matching all Gray Logic topics.
// Use with caution - this receives ALL traffic.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
