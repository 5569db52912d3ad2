package webhook

import (
	"log"
	"net/http"

	"buildhook/internal"
	"buildhook/internal/dispatch"
	"buildhook/internal/event"
	"buildhook/internal/jobs"
	"buildhook/internal/lifecycle"
	"buildhook/internal/notify"
)

// TriggerHandler serves the parameter-style endpoints: notify-commit
// (polling) and build-now triggers driven by query or form parameters
// instead of a webhook payload.
type TriggerHandler struct {
	registry   *jobs.Registry
	dispatcher *dispatch.Dispatcher
	lifecycle  *lifecycle.Lifecycle
	notifier   notify.Notifier
	logger     *log.Logger
}

func NewTriggerHandler(registry *jobs.Registry, dispatcher *dispatch.Dispatcher, lc *lifecycle.Lifecycle, notifier notify.Notifier, logger *log.Logger) *TriggerHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &TriggerHandler{
		registry:   registry,
		dispatcher: dispatcher,
		lifecycle:  lc,
		notifier:   notifier,
		logger:     logger,
	}
}

// NotifyCommit is the polling trigger endpoint.
func (h *TriggerHandler) NotifyCommit(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, false)
}

// BuildNow is the build trigger endpoint.
func (h *TriggerHandler) BuildNow(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, true)
}

func (h *TriggerHandler) handle(w http.ResponseWriter, r *http.Request, build bool) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	params, err := h.parseParams(r)
	if err != nil {
		internal.IncParseError("parameters")
		writeFault(w, h.logger, err)
		return
	}
	internal.IncEvent(params.Kind())

	lines, err := h.process(r, params, build)
	if err != nil {
		publishFailure(r.Context(), h.notifier, h.logger, params, err)
		writeFault(w, h.logger, err)
		return
	}
	publishOutcomes(r.Context(), h.notifier, h.logger, params, lines)
	writeLines(w, lines)
}

func (h *TriggerHandler) process(r *http.Request, params *event.Params, build bool) ([]string, error) {
	ctx := r.Context()
	if params.IsDelete() {
		return h.lifecycle.ProcessDelete(ctx, params)
	}
	if build {
		return h.lifecycle.ProcessPush(ctx, params)
	}
	matches, err := h.registry.Matching(ctx, params, false)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, internal.NotFoundf("no job matches repository %s branch %s", params.RepositoryURL(), params.Branch())
	}
	return h.dispatcher.NotifyCommitAll(ctx, matches), nil
}

func (h *TriggerHandler) parseParams(r *http.Request) (*event.Params, error) {
	values := r.URL.Query()
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return nil, internal.BadRequestf("unparsable form: %v", err)
		}
		for key, vals := range r.PostForm {
			for _, v := range vals {
				values.Add(key, v)
			}
		}
	}
	return event.NewParams(values)
}
