package credit

const (
	operationDebit      = "debit"
	operationCredit     = "credit"
	operationForceDebit = "force_debit"
	operationPurchase   = "purchase"

	operationStatusOK        = "ok"
	operationStatusError     = "error"
	operationStatusDuplicate = "duplicate"

	purchaseKeyPrefix       = "purchase:"
	idempotencyKeyDelimiter = ":"
)
