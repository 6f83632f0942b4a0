package hashchain

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inalterahq/inaltera-backend/pkg/enums"
	"github.com/inalterahq/inaltera-backend/pkg/types"
)

func samplePayload() Payload {
	return Payload{
		TenantID:      uuid.MustParse("9f3c2c6e-6d4a-4bfb-8a4f-0af0a1f0b001"),
		SequenceNo:    1,
		Kind:          enums.EntryKindIssued,
		IssuedAt:      time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
		ClientRef:     "Acme SL",
		ClientNIF:     "B12345678",
		InvoiceNumber: "FAC-2026-0001",
		LineItems: []types.LineItem{
			{Product: "Consultoría", Quantity: 2, UnitPrice: decimal.NewFromInt(100), TaxRate: decimal.NewFromInt(21)},
		},
		Total: decimal.RequireFromString("242.00"),
		Notes: "pago a 30 días",
	}
}

func TestHashPayloadDeterministic(t *testing.T) {
	p := samplePayload()
	first, err := AlgorithmSHA256.HashPayload(p)
	if err != nil {
		t.Fatalf("HashPayload: %v", err)
	}
	second, err := AlgorithmSHA256.HashPayload(p)
	if err != nil {
		t.Fatalf("HashPayload: %v", err)
	}
	if first != second {
		t.Fatalf("hash not deterministic: %s != %s", first, second)
	}
	if len(first) != digestHexLen {
		t.Fatalf("unexpected digest length %d", len(first))
	}
}

func TestHashPayloadSensitiveToContent(t *testing.T) {
	p := samplePayload()
	base, err := AlgorithmSHA256.HashPayload(p)
	if err != nil {
		t.Fatalf("HashPayload: %v", err)
	}

	mutations := map[string]func(*Payload){
		"total":          func(m *Payload) { m.Total = m.Total.Add(decimal.NewFromInt(1)) },
		"client":         func(m *Payload) { m.ClientRef = "Other SL" },
		"sequence":       func(m *Payload) { m.SequenceNo++ },
		"invoice number": func(m *Payload) { m.InvoiceNumber = "FAC-2026-0002" },
		"line item qty":  func(m *Payload) { m.LineItems[0].Quantity++ },
		"issued at":      func(m *Payload) { m.IssuedAt = m.IssuedAt.Add(time.Second) },
	}
	for name, mutate := range mutations {
		mutated := samplePayload()
		mutated.LineItems = []types.LineItem{mutated.LineItems[0]}
		mutate(&mutated)
		got, err := AlgorithmSHA256.HashPayload(mutated)
		if err != nil {
			t.Fatalf("%s: HashPayload: %v", name, err)
		}
		if got == base {
			t.Fatalf("%s: hash unchanged after mutation", name)
		}
	}
}

func TestHashPayloadNormalizesTimezone(t *testing.T) {
	p := samplePayload()
	base, err := AlgorithmSHA256.HashPayload(p)
	if err != nil {
		t.Fatalf("HashPayload: %v", err)
	}

	madrid := time.FixedZone("CET", 3600)
	p.IssuedAt = p.IssuedAt.In(madrid)
	got, err := AlgorithmSHA256.HashPayload(p)
	if err != nil {
		t.Fatalf("HashPayload: %v", err)
	}
	if got != base {
		t.Fatal("hash changed for equivalent instant in another zone")
	}
}

func TestHashPayloadRejectsMalformed(t *testing.T) {
	cases := map[string]func(*Payload){
		"missing tenant":   func(p *Payload) { p.TenantID = uuid.Nil },
		"zero sequence":    func(p *Payload) { p.SequenceNo = 0 },
		"bad kind":         func(p *Payload) { p.Kind = enums.EntryKind("draft") },
		"zero issued at":   func(p *Payload) { p.IssuedAt = time.Time{} },
		"blank client":     func(p *Payload) { p.ClientRef = "  " },
		"blank invoice no": func(p *Payload) { p.InvoiceNumber = "" },
		"no line items":    func(p *Payload) { p.LineItems = nil },
		"zero quantity":    func(p *Payload) { p.LineItems[0].Quantity = 0 },
	}
	for name, mutate := range cases {
		p := samplePayload()
		mutate(&p)
		if _, err := AlgorithmSHA256.HashPayload(p); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLinkChainsRoundTrip(t *testing.T) {
	alg := AlgorithmSHA256
	prev := alg.Genesis()

	var hashes []string
	for seq := uint64(1); seq <= 3; seq++ {
		p := samplePayload()
		p.SequenceNo = seq
		payloadHash, chainHash, err := alg.Recompute(p, prev)
		if err != nil {
			t.Fatalf("Recompute seq %d: %v", seq, err)
		}

		// Recomputing from the same predecessor must reproduce both hashes.
		gotPayload, gotChain, err := alg.Recompute(p, prev)
		if err != nil {
			t.Fatalf("Recompute again seq %d: %v", seq, err)
		}
		if gotPayload != payloadHash || gotChain != chainHash {
			t.Fatalf("seq %d: recompute mismatch", seq)
		}

		hashes = append(hashes, chainHash)
		prev = chainHash
	}

	seen := map[string]bool{}
	for _, h := range hashes {
		if seen[h] {
			t.Fatalf("duplicate chain hash %s", h)
		}
		seen[h] = true
	}
}

func TestLinkRejectsBadHashes(t *testing.T) {
	if _, err := AlgorithmSHA256.Link("nothex", strings.Repeat("a", 64)); err == nil {
		t.Fatal("expected error for short prev hash")
	}
	if _, err := AlgorithmSHA256.Link(strings.Repeat("a", 64), strings.Repeat("z", 64)); err == nil {
		t.Fatal("expected error for non-hex payload hash")
	}
}

func TestGenesisPerAlgorithm(t *testing.T) {
	if got := AlgorithmSHA256.Genesis(); got != strings.Repeat("0", 64) {
		t.Fatalf("sha256 genesis = %s", got)
	}
	sha3Genesis := AlgorithmSHA3256.Genesis()
	if sha3Genesis == AlgorithmSHA256.Genesis() {
		t.Fatal("sha3 genesis must differ from sha256 genesis")
	}
	if len(sha3Genesis) != digestHexLen {
		t.Fatalf("sha3 genesis length = %d", len(sha3Genesis))
	}
}

func TestAlgorithmsProduceDifferentChains(t *testing.T) {
	p := samplePayload()
	h256, err := AlgorithmSHA256.HashPayload(p)
	if err != nil {
		t.Fatalf("sha256: %v", err)
	}
	h3, err := AlgorithmSHA3256.HashPayload(p)
	if err != nil {
		t.Fatalf("sha3: %v", err)
	}
	if h256 == h3 {
		t.Fatal("algorithms produced identical digests")
	}
}

func TestParseAlgorithm(t *testing.T) {
	if alg, err := ParseAlgorithm(""); err != nil || alg != AlgorithmSHA256 {
		t.Fatalf("empty: %v %v", alg, err)
	}
	if alg, err := ParseAlgorithm("SHA3-256"); err != nil || alg != AlgorithmSHA3256 {
		t.Fatalf("sha3: %v %v", alg, err)
	}
	if _, err := ParseAlgorithm("md5"); err == nil {
		t.Fatal("expected error for md5")
	}
}

func TestHashPayloadSurvivesMicrosecondStorage(t *testing.T) {
	p := samplePayload()
	p.IssuedAt = time.Date(2026, 3, 14, 10, 30, 0, 123456789, time.UTC)

	committed, err := AlgorithmSHA256.HashPayload(p)
	if err != nil {
		t.Fatalf("HashPayload: %v", err)
	}

	// timestamptz keeps microseconds only; a reloaded entry must rehash
	// to the committed value
	reloaded := p
	reloaded.IssuedAt = p.IssuedAt.Truncate(time.Microsecond)
	rehashed, err := AlgorithmSHA256.HashPayload(reloaded)
	if err != nil {
		t.Fatalf("HashPayload: %v", err)
	}
	if rehashed != committed {
		t.Fatalf("hash changed across storage precision: %s != %s", rehashed, committed)
	}
}
