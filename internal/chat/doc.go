// Package chat is the business boundary for the patient-safety
// pipeline. Service.ProcessMessage runs each inbound patient message
// through redaction, generation, risk assessment, fact extraction, and
// memory mutation in a fixed order, and surfaces escalation offers to
// the caller.
package chat
