// Package types defines the ledger rows and entity shapes shared by the
// conversational pipeline.
package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DateLayout is the calendar-date layout used everywhere a date is stored or
// exchanged.
const DateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidDate reports whether s is a real YYYY-MM-DD calendar date.
func ValidDate(s string) bool {
	if !datePattern.MatchString(s) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// TxKind distinguishes rows in the transactions table.
type TxKind string

const (
	KindExpense TxKind = "expense"
	KindRevenue TxKind = "revenue"
)

// IsValid checks if the kind is known.
func (k TxKind) IsValid() bool {
	return k == KindExpense || k == KindRevenue
}

// JobStatus is the lifecycle of a job.
type JobStatus string

const (
	JobDraft  JobStatus = "draft"
	JobActive JobStatus = "active"
	JobClosed JobStatus = "closed"
)

// QuoteStatus is the lifecycle of a quote.
type QuoteStatus string

const (
	QuoteDraft    QuoteStatus = "draft"
	QuoteAccepted QuoteStatus = "accepted"
	QuoteVoid     QuoteStatus = "void"
)

// EntityKind names the entity families that can be referenced by id, number
// or name.
type EntityKind string

const (
	EntityJob       EntityKind = "job"
	EntityQuote     EntityKind = "quote"
	EntityAgreement EntityKind = "agreement"
)

// Entity is the resolved form of a reference.
type Entity struct {
	Kind  EntityKind `json:"kind"`
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	JobNo int64      `json:"job_no,omitempty"`
	// Created is set when the reference produced a new draft row.
	Created bool `json:"created,omitempty"`
}

// Label renders an entity for prompts and replies.
func (e *Entity) Label() string {
	if e.Kind == EntityJob && e.JobNo > 0 {
		return fmt.Sprintf("#%d %s", e.JobNo, e.Name)
	}
	return e.Name
}

// User maps a conversation identity to its tenant.
type User struct {
	Identity string `json:"identity"`
	OwnerID  string `json:"owner_id"`
	UserName string `json:"user_name,omitempty"`
}

// Job is a unit of work a tenant books money and time against.
type Job struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	JobNo     int64     `json:"job_no"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required fields before insert.
func (j *Job) Validate() error {
	if j.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(j.Name) > 200 {
		return fmt.Errorf("name must be 200 characters or less (got %d)", len(j.Name))
	}
	switch j.Status {
	case JobDraft, JobActive, JobClosed:
	default:
		return fmt.Errorf("invalid job status: %s", j.Status)
	}
	return nil
}

// Entity returns the job as a resolved reference.
func (j *Job) Entity() *Entity {
	return &Entity{Kind: EntityJob, ID: j.ID, Name: j.Name, JobNo: j.JobNo}
}

// Transaction is an expense or revenue row.
type Transaction struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Kind        TxKind    `json:"kind"`
	Date        string    `json:"date"`
	Description string    `json:"description"`
	AmountCents int64     `json:"amount_cents"`
	Source      string    `json:"source,omitempty"` // vendor for expenses, payer for revenue
	JobID       string    `json:"job_id,omitempty"`
	JobName     string    `json:"job_name,omitempty"`
	Category    string    `json:"category,omitempty"`
	UserName    string    `json:"user_name,omitempty"`
	SourceMsgID string    `json:"source_msg_id"`
	MediaURL    string    `json:"media_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the row invariants the storage layer relies on.
func (t *Transaction) Validate() error {
	if t.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if !t.Kind.IsValid() {
		return fmt.Errorf("invalid transaction kind: %s", t.Kind)
	}
	if t.AmountCents <= 0 {
		return fmt.Errorf("amount_cents must be positive (got %d)", t.AmountCents)
	}
	if !ValidDate(t.Date) {
		return fmt.Errorf("date must be YYYY-MM-DD (got %q)", t.Date)
	}
	if t.SourceMsgID == "" {
		return fmt.Errorf("source_msg_id is required")
	}
	return nil
}

// TimeEntry records minutes worked on a job.
type TimeEntry struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	JobID       string    `json:"job_id"`
	Employee    string    `json:"employee"`
	Minutes     int       `json:"minutes"`
	Date        string    `json:"date"`
	Memo        string    `json:"memo,omitempty"`
	SourceMsgID string    `json:"source_msg_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the row invariants the storage layer relies on.
func (e *TimeEntry) Validate() error {
	if e.OwnerID == "" || e.JobID == "" {
		return fmt.Errorf("owner_id and job_id are required")
	}
	if e.Minutes <= 0 {
		return fmt.Errorf("minutes must be positive (got %d)", e.Minutes)
	}
	if !ValidDate(e.Date) {
		return fmt.Errorf("date must be YYYY-MM-DD (got %q)", e.Date)
	}
	if e.SourceMsgID == "" {
		return fmt.Errorf("source_msg_id is required")
	}
	return nil
}

type Quote struct {
	ID         string      `json:"id"`
	OwnerID    string      `json:"owner_id"`
	JobID      string      `json:"job_id"`
	Title      string      `json:"title"`
	Customer   string      `json:"customer,omitempty"`
	TotalCents int64       `json:"total_cents"`
	Status     QuoteStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
}

func (q *Quote) Entity() *Entity {
	return &Entity{Kind: EntityQuote, ID: q.ID, Name: q.Title}
}

type Agreement struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	QuoteID   string    `json:"quote_id"`
	JobID     string    `json:"job_id"`
	Title     string    `json:"title"`
	SignedBy  string    `json:"signed_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *Agreement) Entity() *Entity {
	return &Entity{Kind: EntityAgreement, ID: a.ID, Name: a.Title}
}

type Invoice struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	AgreementID string    `json:"agreement_id"`
	JobID       string    `json:"job_id"`
	AmountCents int64     `json:"amount_cents"`
	DueDate     string    `json:"due_date,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type ChangeOrder struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	JobID       string    `json:"job_id"`
	Description string    `json:"description"`
	AmountCents int64     `json:"amount_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

type Lead struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PricingItem is a catalog entry, unique per tenant by case-insensitive name.
type PricingItem struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Name          string    `json:"name"`
	Unit          string    `json:"unit,omitempty"`
	UnitCostCents int64     `json:"unit_cost_cents"`
	Category      string    `json:"category,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AuditRecord is the duplicate-detection row keyed by (owner, key).
type AuditRecord struct {
	OwnerID   string    `json:"owner_id"`
	Key       string    `json:"key"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"` // JSON document
	CreatedAt time.Time `json:"created_at"`
}

// Media is an attachment carried alongside a message.
type Media struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}
