package types

// Telemetry metric names shared by the Prometheus and CloudWatch recorders.
// All components MUST use these constants.
const (
	// Metric Names
	MetricJobRun               = "JobRun"
	MetricJobAccounts          = "JobAccounts"
	MetricJobDuration          = "JobDuration"
	MetricInstanceDisconnect   = "InstanceDisconnect"
	MetricNotificationDelivery = "NotificationDelivery"
	MetricStatusTransition     = "StatusTransition"

	// Dimension Keys
	DimJob    = "Job"
	DimResult = "Result"
	DimKind   = "Kind"
	DimFrom   = "From"
	DimTo     = "To"

	// Metric Namespace
	MetricNamespace = "FeedbackGate"
)
