package dispatch

import "fmt"

// EventKind is one of the six events the dispatcher carries over NATS
// (SPEC_FULL §4.6/§4.4).
type EventKind string

const (
	EventStart      EventKind = "start"
	EventActionDone EventKind = "action_done"
	EventTimerFired EventKind = "timer_fired"
	EventStop       EventKind = "stop"
	EventCancel     EventKind = "cancel"
	EventRerun      EventKind = "rerun"
)

// Event is the envelope published to and consumed from JetStream. EventID
// identifies the event in logs and error messages; HandleEvent does not
// record or check it, so a replayed event is not skipped by its id. A
// replayed action_done is recognised by its action's idempotency key instead.
type Event struct {
	EventID            string                 `json:"event_id"`
	Kind               EventKind              `json:"kind"`
	WorkflowExecutionID string                `json:"workflow_execution_id"`
	TaskExecutionID    string                 `json:"task_execution_id,omitempty"`
	TaskName           string                 `json:"task_name,omitempty"`
	ItemIndex          int                    `json:"item_index,omitempty"`
	Attempt            int                    `json:"attempt,omitempty"`
	Success            bool                   `json:"success,omitempty"`
	Output             map[string]interface{} `json:"output,omitempty"`
	ErrorMsg           string                 `json:"error_msg,omitempty"`
	TimerKind          string                 `json:"timer_kind,omitempty"`
}

// subjectFor builds the "<prefix>.<namespace>.<kind>" subject an event of
// kind is published under (SPEC_FULL §4.6 "subject hierarchy
// wf.events.<namespace>.<kind>").
func subjectFor(prefix, namespace string, kind EventKind) string {
	if namespace == "" {
		namespace = "default"
	}
	return fmt.Sprintf("%s.%s.%s", prefix, namespace, kind)
}

// subjectWildcard returns the subject pattern a durable consumer subscribes
// to in order to receive every event kind for namespace.
func subjectWildcard(prefix, namespace string) string {
	if namespace == "" {
		namespace = "default"
	}
	return fmt.Sprintf("%s.%s.*", prefix, namespace)
}
