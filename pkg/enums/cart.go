package enums

// CartIssueCode classifies a problem detected while reconciling a cart line
// against live product and inventory data.
type CartIssueCode string

const (
	CartIssueUnavailable       CartIssueCode = "UNAVAILABLE"
	CartIssueInsufficientStock CartIssueCode = "INSUFFICIENT_STOCK"
	CartIssuePriceChanged      CartIssueCode = "PRICE_CHANGED"
)
