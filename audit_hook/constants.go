package audithook

// Action constants for audit events.
const (
	// Lifecycle actions
	ActionManagerStarted      = "manager.started"
	ActionManagerStopped      = "manager.stopped"
	ActionPaymentsUnavailable = "payments.unavailable"

	// Purchase actions
	ActionPurchaseSucceeded = "purchase.succeeded"
	ActionPurchaseRestored  = "purchase.restored"
	ActionPurchaseFailed    = "purchase.failed"
	ActionPurchaseDeferred  = "purchase.deferred"

	// Restore actions
	ActionRestoreEmpty     = "restore.empty"
	ActionRestoreCompleted = "restore.completed"
	ActionRestoreFailed    = "restore.failed"
)

// Resource constants for audit events.
const (
	ResourceManager     = "manager"
	ResourceTransaction = "transaction"
	ResourceRestore     = "restore"
)

// Category constants for audit events.
const (
	CategoryLifecycle = "lifecycle"
	CategoryPayment   = "payment"
	CategoryAccess    = "access"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePending = "pending"
)
