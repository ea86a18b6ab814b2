package entity

// BatchRequest is one submission of orders to execute together. BatchID
// doubles as the idempotency key; submitting the same id twice within
// the dedupe window is rejected.
type BatchRequest struct {
	BatchID string
	Orders  []*OrderRequest
}

// BatchResult collects the terminal reports of a batch and the rendered
// outcome summary.
type BatchResult struct {
	BatchID string
	Reports []*ExecutionReport
	Summary string
}
