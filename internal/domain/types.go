// Package domain holds the first-class row types for per-tenant domain
// entities (spec §3, §9 — "domain entity rows must have first-class
// columns for queried fields"). Money is always integer minor units.
package domain

import "time"

// Tenant mirrors the registry's tenant row.
type Tenant struct {
	ID        string
	Slug      string
	Status    TenantStatus
	CreatedAt time.Time
}

type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantDeleted   TenantStatus = "deleted"
)

// ConnectionStatus enumerates a connection's lifecycle (spec §3).
type ConnectionStatus string

const (
	ConnectionActive       ConnectionStatus = "active"
	ConnectionSuspended    ConnectionStatus = "suspended"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionDeleted      ConnectionStatus = "deleted"
)

// Connection associates a tenant with an external commerce source.
type Connection struct {
	TenantID          string
	ExternalID        string // shop hostname
	SealedAccessToken string
	SealedWebhookSecret string // optional; empty means fall back to app secret
	Capabilities      []string
	ProtocolVersion   string
	Status            ConnectionStatus
	LastInboundAt     *time.Time
	LastSyncAt        *time.Time
	InstalledAt       time.Time
}

// InboundPurpose classifies an inbound email address (spec §3).
type InboundPurpose string

const (
	PurposeTreasury InboundPurpose = "treasury"
	PurposeReceipts InboundPurpose = "receipts"
	PurposeSupport  InboundPurpose = "support"
	PurposeCreator  InboundPurpose = "creator"
	PurposeGeneral  InboundPurpose = "general"
)

// InboundAddress maps an inbound email address to a tenant and purpose.
type InboundAddress struct {
	Address     string // lower-cased
	TenantID    string
	Purpose     InboundPurpose
	DisplayName string
	Enabled     bool
}

// EventStatus enumerates the event log's processing status (spec §3).
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
	EventIgnored   EventStatus = "ignored"
)

// Event is one row of the per-tenant event log / idempotency table.
type Event struct {
	ID               string
	TenantID         string
	ExternalSourceID string // shop
	Topic            string
	ExternalEventID  string // nullable
	Payload          []byte // verbatim, structured
	HMACVerified     bool
	Status           EventStatus
	ProcessedAt      *time.Time
	ErrorMessage     string
	RetryCount       int
	IdempotencyKey   string
	ReceivedAt       time.Time
	Headers          map[string][]string
}

// Order is a first-class mirror of an external order object. All money
// fields are integer minor units (e.g. cents) — never float64.
type Order struct {
	ID                 string
	TenantID           string
	ExternalID         string
	Name               string
	Currency           string
	GrossSalesMinor    int64
	DiscountsMinor     int64
	NetSalesMinor      int64
	TaxesMinor         int64
	TotalMinor         int64
	RefundedMinor      int64
	FinancialStatus    string
	FulfillmentStatus  string
	CustomerExternalID string
	SyncedAt           time.Time
}

// OrderLineItem is a line item belonging to an Order.
type OrderLineItem struct {
	ID              string
	OrderID         string
	ExternalID      string
	Title           string
	Quantity        int
	PriceMinor      int64
	SKU             string
}

// Customer is a first-class mirror of an external customer object.
type Customer struct {
	ID         string
	TenantID   string
	ExternalID string
	Email      string
	FirstName  string
	LastName   string
	Phone      string
	Anonymized bool
	SyncedAt   time.Time
}

// CustomerAddress belongs to a Customer.
type CustomerAddress struct {
	ID         string
	CustomerID string
	ExternalID string
	Line1      string
	City       string
	Country    string
}

// Fulfillment is a first-class mirror of an external fulfillment object.
type Fulfillment struct {
	ID         string
	OrderID    string
	ExternalID string
	Status     string
	TrackingNo string
	SyncedAt   time.Time
}

// Refund aggregates successful refund transactions into one minor-unit total.
type Refund struct {
	ID           string
	OrderID      string
	ExternalID   string
	AmountMinor  int64
	CurrencyCode string
	CreatedAt    time.Time
}

// RefundLineItem belongs to a Refund.
type RefundLineItem struct {
	ID         string
	RefundID   string
	ExternalID string
	Quantity   int
	SubtotalMinor int64
}

// Product is a first-class mirror of an external product object.
type Product struct {
	ID         string
	TenantID   string
	ExternalID string
	Title      string
	Status     string // "active" | "archived"
	SyncedAt   time.Time
}

// ReceiptStatus enumerates a receipt record's lifecycle.
type ReceiptStatus string

const (
	ReceiptPending  ReceiptStatus = "pending"
	ReceiptResolved ReceiptStatus = "resolved"
)

// Receipt is a content-derived record from an inbound receipts email.
type Receipt struct {
	ID              string
	TenantID        string
	ThreadMessageID string
	AttachmentPaths []string
	AmountMinor     *int64
	Date            *time.Time
	Vendor          string
	Status          ReceiptStatus
	CreatedAt       time.Time
}

// ApprovalVerdict enumerates the treasury classifier's decision.
type ApprovalVerdict string

const (
	VerdictApproved ApprovalVerdict = "approved"
	VerdictRejected ApprovalVerdict = "rejected"
	VerdictUnclear  ApprovalVerdict = "unclear"
)

// Confidence grades how sure the classifier is about a verdict.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// TreasuryCommunication is a content-derived record from an inbound
// treasury email.
type TreasuryCommunication struct {
	ID               string
	TenantID         string
	Direction        string // "inbound" | "outbound"
	TreasuryRequestID string
	Verdict          ApprovalVerdict
	Confidence       Confidence
	MatchedKeywords  []string
	CreatedAt        time.Time
}

// ThreadStatus enumerates a support/creator thread's lifecycle.
type ThreadStatus string

const (
	ThreadOpen   ThreadStatus = "open"
	ThreadClosed ThreadStatus = "closed"
)

// Thread groups inbound/outbound messages with one contact.
type Thread struct {
	ID            string
	TenantID      string
	ContactID     string
	Status        ThreadStatus
	MessageCount  int
	LastInboundAt time.Time
	CreatedAt     time.Time
}

// ThreadMessage is one message within a Thread.
type ThreadMessage struct {
	ID        string
	ThreadID  string
	Direction string // "inbound" | "outbound"
	Subject   string
	Body      string
	MessageID string
	CreatedAt time.Time
}
