package model

// EventName is the closed set of chaincode events the orchestrator reacts
// to. Anything else falls into the unrecognized arm of ParseEventName.
type EventName string

const (
	EventInstructionMatched           EventName = "Instruction.matched"
	EventInstructionRollbackInitiated EventName = "Instruction.rollbackInitiated"
	EventInstructionExecuted          EventName = "Instruction.executed"
	EventInstructionRollbackDone      EventName = "Instruction.rollbackDone"
)

func ParseEventName(s string) (EventName, bool) {
	switch EventName(s) {
	case EventInstructionMatched,
		EventInstructionRollbackInitiated,
		EventInstructionExecuted,
		EventInstructionRollbackDone:
		return EventName(s), true
	}
	return "", false
}
