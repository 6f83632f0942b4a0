package enums

import "fmt"

// AuditCategory classifies bitácora events.
type AuditCategory string

const (
	AuditCategoryLogin        AuditCategory = "login"
	AuditCategoryInvoicing    AuditCategory = "invoicing"
	AuditCategoryCancellation AuditCategory = "cancellation"
	AuditCategoryDownload     AuditCategory = "download"
	AuditCategoryConfig       AuditCategory = "config"
	AuditCategorySystem       AuditCategory = "system"
	AuditCategoryOther        AuditCategory = "other"
)

var validAuditCategories = []AuditCategory{
	AuditCategoryLogin,
	AuditCategoryInvoicing,
	AuditCategoryCancellation,
	AuditCategoryDownload,
	AuditCategoryConfig,
	AuditCategorySystem,
	AuditCategoryOther,
}

// IsValid reports whether the value matches the canonical audit category enum.
func (c AuditCategory) IsValid() bool {
	for _, candidate := range validAuditCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseAuditCategory converts raw input into AuditCategory.
func ParseAuditCategory(value string) (AuditCategory, error) {
	for _, candidate := range validAuditCategories {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit category %q", value)
}
