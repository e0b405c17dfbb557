package log

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldError        = "error"
	FieldOperation    = "operation"
	FieldDefinitionID = "definition_id"
	FieldOccurrenceID = "occurrence_id"
	FieldAmountCents  = "amount_cents"
	FieldYear         = "year"
	FieldMonth        = "month"
	FieldCreated      = "created"
	FieldUpdated      = "updated"
	FieldDeleted      = "deleted"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentService = "service"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentCache   = "cache"
)

// Operations defines standard operation names
const (
	OpSync     = "sync"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpValidate = "validate"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)
