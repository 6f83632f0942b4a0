// Package hashchain computes the tamper-evident hash links between ledger
// entries. Hashing is deterministic: the same payload always produces the
// same hex digest regardless of process, platform or map ordering.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"

	"github.com/inalterahq/inaltera-backend/pkg/enums"
	"github.com/inalterahq/inaltera-backend/pkg/types"
)

// Algorithm selects the digest used for a tenant's chain. It is fixed for the
// life of a chain; mixed-algorithm chains are not supported.
type Algorithm string

const (
	AlgorithmSHA256  Algorithm = "sha256"
	AlgorithmSHA3256 Algorithm = "sha3-256"
)

// digestHexLen is the hex length of both supported 256-bit digests.
const digestHexLen = 64

// sha3GenesisSeed versions the genesis for sha3 chains so an entry hashed
// under one algorithm can never validate under the other.
const sha3GenesisSeed = "chain/v2"

// canonicalTimeFormat renders issued_at with a fixed six-digit fraction.
// Postgres stores timestamptz at microsecond precision, so hashing anything
// finer would not survive a round trip through the database.
const canonicalTimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// ParseAlgorithm validates and normalizes an algorithm name from config.
func ParseAlgorithm(value string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(value))) {
	case AlgorithmSHA256, "":
		return AlgorithmSHA256, nil
	case AlgorithmSHA3256:
		return AlgorithmSHA3256, nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm %q", value)
	}
}

// Genesis returns the prev_hash of the first entry in a chain.
func (a Algorithm) Genesis() string {
	switch a {
	case AlgorithmSHA3256:
		return a.sum([]byte(sha3GenesisSeed))
	default:
		return strings.Repeat("0", digestHexLen)
	}
}

func (a Algorithm) sum(b []byte) string {
	if a == AlgorithmSHA3256 {
		digest := sha3.Sum256(b)
		return hex.EncodeToString(digest[:])
	}
	digest := sha256.Sum256(b)
	return hex.EncodeToString(digest[:])
}

// Payload is the business content of an entry that participates in hashing.
// Status, linkage and the hashes themselves are excluded so the one permitted
// mutation (cancellation) never invalidates the chain.
type Payload struct {
	TenantID      uuid.UUID
	SequenceNo    uint64
	Kind          enums.EntryKind
	IssuedAt      time.Time
	ClientRef     string
	ClientNIF     string
	InvoiceNumber string
	LineItems     []types.LineItem
	Total         decimal.Decimal
	Notes         string
}

// canonicalPayload pins the serialized field order and renders decimals and
// timestamps as fixed strings so the digest is stable across versions.
type canonicalPayload struct {
	TenantID      string              `json:"tenant_id"`
	SequenceNo    uint64              `json:"sequence_no"`
	Kind          string              `json:"kind"`
	IssuedAt      string              `json:"issued_at"`
	ClientRef     string              `json:"client_ref"`
	ClientNIF     string              `json:"client_nif"`
	InvoiceNumber string              `json:"invoice_number"`
	LineItems     []canonicalLineItem `json:"line_items"`
	Total         string              `json:"total"`
	Notes         string              `json:"notes"`
}

type canonicalLineItem struct {
	Product   string `json:"producto"`
	Quantity  int64  `json:"cantidad"`
	UnitPrice string `json:"precio_unitario"`
	TaxRate   string `json:"iva"`
}

// HashPayload canonically encodes the payload and returns its hex digest.
// Malformed payloads fail fast rather than producing a hash that could end
// up committed to a chain.
func (a Algorithm) HashPayload(p Payload) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}

	items := make([]canonicalLineItem, 0, len(p.LineItems))
	for _, li := range p.LineItems {
		items = append(items, canonicalLineItem{
			Product:   li.Product,
			Quantity:  li.Quantity,
			UnitPrice: li.UnitPrice.StringFixed(2),
			TaxRate:   li.TaxRate.StringFixed(2),
		})
	}

	encoded, err := json.Marshal(canonicalPayload{
		TenantID:      p.TenantID.String(),
		SequenceNo:    p.SequenceNo,
		Kind:          string(p.Kind),
		IssuedAt:      p.IssuedAt.UTC().Truncate(time.Microsecond).Format(canonicalTimeFormat),
		ClientRef:     p.ClientRef,
		ClientNIF:     p.ClientNIF,
		InvoiceNumber: p.InvoiceNumber,
		LineItems:     items,
		Total:         p.Total.StringFixed(2),
		Notes:         p.Notes,
	})
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	return a.sum(encoded), nil
}

// Link derives the chain hash binding an entry to its predecessor:
// H(payloadHash || prevHash).
func (a Algorithm) Link(prevHash, payloadHash string) (string, error) {
	if !isDigest(prevHash) {
		return "", fmt.Errorf("invalid prev hash %q", prevHash)
	}
	if !isDigest(payloadHash) {
		return "", fmt.Errorf("invalid payload hash %q", payloadHash)
	}
	return a.sum([]byte(payloadHash + prevHash)), nil
}

// Recompute returns the payload and chain hashes an entry should carry given
// its predecessor. Verification compares these against the stored values.
func (a Algorithm) Recompute(p Payload, prevHash string) (payloadHash, chainHash string, err error) {
	payloadHash, err = a.HashPayload(p)
	if err != nil {
		return "", "", err
	}
	chainHash, err = a.Link(prevHash, payloadHash)
	if err != nil {
		return "", "", err
	}
	return payloadHash, chainHash, nil
}

func (p Payload) validate() error {
	if p.TenantID == uuid.Nil {
		return fmt.Errorf("tenant id is required")
	}
	if p.SequenceNo == 0 {
		return fmt.Errorf("sequence number must start at 1")
	}
	if !p.Kind.IsValid() {
		return fmt.Errorf("invalid entry kind %q", p.Kind)
	}
	if p.IssuedAt.IsZero() {
		return fmt.Errorf("issued at is required")
	}
	if strings.TrimSpace(p.ClientRef) == "" {
		return fmt.Errorf("client ref is required")
	}
	if strings.TrimSpace(p.InvoiceNumber) == "" {
		return fmt.Errorf("invoice number is required")
	}
	if len(p.LineItems) == 0 {
		return fmt.Errorf("at least one line item is required")
	}
	for i, li := range p.LineItems {
		if strings.TrimSpace(li.Product) == "" {
			return fmt.Errorf("line item %d: product is required", i)
		}
		if li.Quantity <= 0 {
			return fmt.Errorf("line item %d: quantity must be positive", i)
		}
	}
	return nil
}

func isDigest(s string) bool {
	if len(s) != digestHexLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
