// Package cil defines the canonical command envelope, its per-type
// validation, and the router that dispatches a validated command to its
// handler.
package cil

// Type tags a command variant.
type Type string

const (
	LogExpense        Type = "LogExpense"
	LogRevenue        Type = "LogRevenue"
	LogTime           Type = "LogTime"
	CreateJob         Type = "CreateJob"
	CreateLead        Type = "CreateLead"
	CreateQuote       Type = "CreateQuote"
	CreateAgreement   Type = "CreateAgreement"
	CreateInvoice     Type = "CreateInvoice"
	CreateChangeOrder Type = "CreateChangeOrder"
	AddPricingItem    Type = "AddPricingItem"
	UpdatePricingItem Type = "UpdatePricingItem"
	DeletePricingItem Type = "DeletePricingItem"
)

// Header is carried by every variant.
type Header struct {
	Type     Type   `json:"type"`
	TenantID string `json:"tenant_id"`
	// IdempotencyKey defaults to SourceMsgID.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	SourceMsgID    string `json:"source_msg_id,omitempty"`
	ActorPhone     string `json:"actor_phone,omitempty"`
}

// Envelope returns the shared header.
func (h *Header) Envelope() *Header { return h }

// Command is a validated CIL instance. Only Validate produces one.
type Command interface {
	Envelope() *Header
}

type Expense struct {
	Header
	Job         string `json:"job"`
	JobID       string `json:"job_id,omitempty"`
	Item        string `json:"item"`
	AmountCents int64  `json:"amount_cents"`
	Store       string `json:"store,omitempty"`
	Date        string `json:"date"`
	Category    string `json:"category,omitempty"`
}

type Revenue struct {
	Header
	Job         string `json:"job"`
	JobID       string `json:"job_id,omitempty"`
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
	Payer       string `json:"payer,omitempty"`
	Date        string `json:"date"`
	Category    string `json:"category,omitempty"`
}

type Time struct {
	Header
	Job      string `json:"job"`
	JobID    string `json:"job_id,omitempty"`
	Employee string `json:"employee"`
	Minutes  int    `json:"minutes"`
	Date     string `json:"date"`
	Memo     string `json:"memo,omitempty"`
}

type Job struct {
	Header
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

type Lead struct {
	Header
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Notes string `json:"notes,omitempty"`
}

type Quote struct {
	Header
	Job        string `json:"job"`
	JobID      string `json:"job_id,omitempty"`
	Title      string `json:"title"`
	Customer   string `json:"customer,omitempty"`
	TotalCents int64  `json:"total_cents"`
}

type Agreement struct {
	Header
	Quote    string `json:"quote"`
	Title    string `json:"title,omitempty"`
	SignedBy string `json:"signed_by,omitempty"`
}

type Invoice struct {
	Header
	Quote       string `json:"quote"`
	AmountCents int64  `json:"amount_cents"`
	DueDate     string `json:"due_date,omitempty"`
}

type ChangeOrder struct {
	Header
	Job         string `json:"job"`
	JobID       string `json:"job_id,omitempty"`
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
}

// PricingItem serves AddPricingItem, UpdatePricingItem and DeletePricingItem.
type PricingItem struct {
	Header
	Name          string `json:"name"`
	Unit          string `json:"unit,omitempty"`
	UnitCostCents int64  `json:"unit_cost_cents"`
	Category      string `json:"category,omitempty"`
}
