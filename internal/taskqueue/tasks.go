package taskqueue

// TypeActuatorResync is the task type for a deferred actuator state
// resynchronization.
const TypeActuatorResync = "actuator:resync"

// ResyncPayload identifies the target module to resynchronize.
type ResyncPayload struct {
	Module string `json:"module"`
}
