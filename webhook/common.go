package webhook

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"buildhook/internal"
	"buildhook/internal/event"
	"buildhook/internal/notify"
)

func rawObjectAndFlatten(raw []byte) (map[string]interface{}, map[string]interface{}) {
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, map[string]interface{}{}
	}
	return out, internal.Flatten(out)
}

// writeLines renders the per-job status report: plain text, one line per
// processed job.
func writeLines(w http.ResponseWriter, lines []string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, line := range lines {
		_, _ = w.Write([]byte(line + "\n"))
	}
}

// writeFault maps a fault to its HTTP status and writes its message.
func writeFault(w http.ResponseWriter, logger *log.Logger, err error) {
	if internal.KindOf(err) == internal.KindUnexpected {
		logger.Printf("unexpected failure: %v", err)
	}
	status := internal.HTTPStatus(err)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(err.Error() + "\n"))
}

// publishOutcomes emits one notification per status line, choosing the
// topic from what the line reports. Notifier failures are logged only.
func publishOutcomes(ctx context.Context, notifier notify.Notifier, logger *log.Logger, details event.Details, lines []string) {
	if notifier == nil {
		return
	}
	raw, _ := json.Marshal(details.Payload())
	for _, line := range lines {
		n := notify.Notification{
			Kind:       details.Kind(),
			Repository: details.RepositoryURL(),
			Branch:     details.Branch(),
			Job:        jobOfLine(line),
			Detail:     line,
			At:         time.Now().UTC(),
			Raw:        raw,
		}
		if err := notifier.Publish(ctx, topicOfLine(line), n); err != nil {
			logger.Printf("notify: %v", err)
		}
	}
}

// publishFailure emits a single failure notification for a fault.
func publishFailure(ctx context.Context, notifier notify.Notifier, logger *log.Logger, details event.Details, err error) {
	if notifier == nil {
		return
	}
	n := notify.Notification{
		Detail: err.Error(),
		At:     time.Now().UTC(),
	}
	if details != nil {
		n.Kind = details.Kind()
		n.Repository = details.RepositoryURL()
		n.Branch = details.Branch()
	}
	if publishErr := notifier.Publish(ctx, notify.TopicEventFailed, n); publishErr != nil {
		logger.Printf("notify: %v", publishErr)
	}
}

func topicOfLine(line string) string {
	switch {
	case strings.Contains(line, "created"):
		return notify.TopicJobCreated
	case strings.Contains(line, "deleted"):
		return notify.TopicJobDeleted
	case strings.Contains(line, "failed"):
		return notify.TopicEventFailed
	case strings.Contains(line, "scheduled for"):
		return notify.TopicBuildScheduled
	default:
		return notify.TopicEventSkipped
	}
}

// jobOfLine extracts the job name from a "job <name> ..." status line.
func jobOfLine(line string) string {
	rest, ok := strings.CutPrefix(line, "job ")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, " ")
	return name
}
