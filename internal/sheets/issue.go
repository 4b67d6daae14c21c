// Package sheets records support issues in a Google Sheets workbook.
// Every issue lands in a category-specific sheet and in the shared
// All-Logs sheet, with the newest row always directly under the header.
package sheets

// Sheet names in the workbook.
const (
	SheetAllLogs       = "All-Logs"
	SheetTechnical     = "Technical_Issues"
	SheetCertificate   = "Certificate_Issues"
	SheetSubscription  = "Subscription_Issues"
	SheetRefund        = "Refund"
	SheetAccountDelete = "Account_Deletion"
	SheetPayment       = "Payment_Issues"
)

// Headers maps each sheet to its header row.
var Headers = map[string][]string{
	SheetAllLogs:       {"Timestamp", "Issue Type", "App Name", "Email", "Initial Message", "Status"},
	SheetTechnical:     {"Timestamp", "App Name", "Email", "Issue Description", "Device", "OS Version", "App Version", "Screenshot"},
	SheetCertificate:   {"Timestamp", "App Name", "Email", "Course", "New Name"},
	SheetSubscription:  {"Timestamp", "App Name", "Email", "Order ID", "Status"},
	SheetRefund:        {"Timestamp", "App Name", "Email", "Order ID", "Status"},
	SheetAccountDelete: {"Timestamp", "App Name", "Email", "Status"},
	SheetPayment:       {"Timestamp", "App Name", "Email", "Country", "Initial Message", "Status"},
}

// SheetOrder lists every sheet in workbook order, All-Logs first.
var SheetOrder = []string{
	SheetAllLogs,
	SheetTechnical,
	SheetCertificate,
	SheetSubscription,
	SheetRefund,
	SheetAccountDelete,
	SheetPayment,
}

// Issue is one of the typed issue structs below. The logger dispatches
// on the concrete type; anything else is rejected at runtime.
type Issue interface {
	issueType() string
}

// TechnicalIssue records an app malfunction report. ThreadID, when
// set, lets the logger resolve screenshot URLs from thread metadata.
type TechnicalIssue struct {
	AppName        string
	Email          string
	Description    string
	Device         string
	OSVersion      string
	AppVersion     string
	Status         string
	ThreadID       string
	InitialMessage string
}

func (TechnicalIssue) issueType() string { return "Technical Issue" }

// CertificateIssue records a certificate correction or re-issue
// request.
type CertificateIssue struct {
	AppName        string
	Email          string
	Course         string
	NewName        string
	Status         string
	InitialMessage string
}

func (CertificateIssue) issueType() string { return "Certificate Issue" }

// SubscriptionIssue records a premium activation problem.
type SubscriptionIssue struct {
	AppName        string
	Email          string
	OrderID        string
	Status         string
	InitialMessage string
}

func (SubscriptionIssue) issueType() string { return "Subscription Issue" }

// RefundRequest records a refund request.
type RefundRequest struct {
	AppName        string
	Email          string
	OrderID        string
	Status         string
	InitialMessage string
}

func (RefundRequest) issueType() string { return "Refund Request" }

// AccountDeletion records an account deletion request.
type AccountDeletion struct {
	AppName        string
	Email          string
	Status         string
	InitialMessage string
}

func (AccountDeletion) issueType() string { return "Account Deletion" }

// PaymentIssue records a billing or payment processing problem.
type PaymentIssue struct {
	AppName        string
	Email          string
	Country        string
	Status         string
	InitialMessage string
}

func (PaymentIssue) issueType() string { return "Payment Issue" }

// GeneralEntry records an issue with no dedicated sheet, such as an
// order inquiry. It lands in All-Logs only.
type GeneralEntry struct {
	Type           string
	AppName        string
	Email          string
	Status         string
	InitialMessage string
}

func (g GeneralEntry) issueType() string { return g.Type }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
