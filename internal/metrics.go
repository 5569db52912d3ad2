package internal

import "expvar"

var (
	eventsTotal    = expvar.NewMap("buildhook_events_total")
	parseErrors    = expvar.NewMap("buildhook_parse_errors_total")
	buildsTotal    = expvar.NewMap("buildhook_builds_scheduled_total")
	jobsCreated    = expvar.NewInt("buildhook_jobs_created_total")
	jobsDeleted    = expvar.NewInt("buildhook_jobs_deleted_total")
	notifyFailures = expvar.NewMap("buildhook_notify_failures_total")
)

func IncEvent(kind string) {
	eventsTotal.Add(kind, 1)
}

func IncParseError(kind string) {
	parseErrors.Add(kind, 1)
}

func IncBuildScheduled(job string) {
	buildsTotal.Add(job, 1)
}

func IncJobCreated() {
	jobsCreated.Add(1)
}

func IncJobDeleted() {
	jobsDeleted.Add(1)
}

func IncNotifyFailure(driver string) {
	notifyFailures.Add(driver, 1)
}
