package config

type WorkerKeyStruct struct {
	AnalyticsQueue string
	IntegrityQueue string
}

var WorkerKey = &WorkerKeyStruct{
	AnalyticsQueue: "analytics_events_queue",
	IntegrityQueue: "persist_integrity_queue",
}
