package mqtt

// Topic roots.
const (
	// TopicPrefixTelemetry is where the WinCC gateway publishes tag values.
	TopicPrefixTelemetry = "WinCC"

	// TelemetryStation is the gateway station segment used by the simulator.
	TelemetryStation = "AEM_SYS"

	// TopicPrefixSystem carries this service's own status.
	TopicPrefixSystem = "electrolyser/system"
)

// Topics builds the topics the service publishes and subscribes to.
type Topics struct{}

// AllTelemetry is the subscription filter covering every device tag.
//
// Example: WinCC/#
func (Topics) AllTelemetry() string {
	return TopicPrefixTelemetry + "/#"
}

// Telemetry returns the topic a tag value is published on.
//
// Example: WinCC/AEM_SYS/CELL3_2
func (Topics) Telemetry(tag string) string {
	return TopicPrefixTelemetry + "/" + TelemetryStation + "/" + tag
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: electrolyser/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
