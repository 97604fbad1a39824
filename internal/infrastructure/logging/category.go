package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General         Category = "General"
	Internal        Category = "Internal"
	Transport       Category = "Transport"
	Room            Category = "Room"
	Session         Category = "Session"
	Validation      Category = "Validation"
	RequestResponse Category = "RequestResponse"
	Prometheus      Category = "Prometheus"
)

const (
	// General
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	RateLimiting    SubCategory = "RateLimiting"
	ExternalService SubCategory = "ExternalService"

	// Transport
	Dial      SubCategory = "Dial"
	Reconnect SubCategory = "Reconnect"
	Frame     SubCategory = "Frame"

	// Room
	Join     SubCategory = "Join"
	Leave    SubCategory = "Leave"
	Delivery SubCategory = "Delivery"
	Typing   SubCategory = "Typing"
	Eviction SubCategory = "Eviction"
)

const (
	AppName       ExtraKey = "AppName"
	LoggerName    ExtraKey = "Logger"
	ClientIp      ExtraKey = "ClientIp"
	Method        ExtraKey = "Method"
	StatusCode    ExtraKey = "StatusCode"
	Path          ExtraKey = "Path"
	Latency       ExtraKey = "Latency"
	ErrorMessage  ExtraKey = "ErrorMessage"
	RoomCode      ExtraKey = "RoomCode"
	Username      ExtraKey = "Username"
	ParticipantID ExtraKey = "ParticipantId"
	RequestID     ExtraKey = "RequestId"
	Attempt       ExtraKey = "Attempt"
	Epoch         ExtraKey = "Epoch"
	TransportName ExtraKey = "Transport"
	Reason        ExtraKey = "Reason"
)
