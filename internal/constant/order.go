package constant

const (
	OrderEventStreamName       = "order_executor"
	OrderEventStreamSubjectAll = "order_executor.*"
	OrderEventStreamSubject    = "order_executor.events"
)
