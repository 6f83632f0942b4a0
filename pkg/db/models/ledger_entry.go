package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/inalterahq/inaltera-backend/pkg/enums"
)

// LedgerEntry is one immutable issuance or rectification record in a tenant's
// hash chain. After commit only Status and LinkedEntryID may change, and each
// exactly once, when the entry is cancelled. Neither field participates in
// the payload hash.
type LedgerEntry struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID      uuid.UUID         `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_ledger_entries_tenant_seq,priority:1"`
	SequenceNo    uint64            `gorm:"column:sequence_no;not null;uniqueIndex:ux_ledger_entries_tenant_seq,priority:2"`
	Kind          enums.EntryKind   `gorm:"column:kind;type:entry_kind_enum;not null"`
	Status        enums.EntryStatus `gorm:"column:status;type:entry_status_enum;not null;default:'valid'"`
	IssuedAt      time.Time         `gorm:"column:issued_at;not null"`
	ClientRef     string            `gorm:"column:client_ref;not null"`
	ClientNIF     string            `gorm:"column:client_nif"`
	InvoiceNumber string            `gorm:"column:invoice_number;not null"`
	LineItems     json.RawMessage   `gorm:"column:line_items;type:jsonb;not null"`
	Total         decimal.Decimal   `gorm:"column:total;type:numeric(14,2);not null"`
	Notes         string            `gorm:"column:notes"`
	PayloadHash   string            `gorm:"column:payload_hash;not null"`
	PrevHash      string            `gorm:"column:prev_hash;not null"`
	ChainHash     string            `gorm:"column:chain_hash;not null;uniqueIndex:ux_ledger_entries_chain_hash"`
	LinkedEntryID *uuid.UUID        `gorm:"column:linked_entry_id;type:uuid"`
	CancelReason  *string           `gorm:"column:cancel_reason"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (e *LedgerEntry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
