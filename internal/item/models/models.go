package models

import (
	"encoding/base64"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oapi-codegen/nullable"
	"github.com/shopspring/decimal"

	id "myapi/pkg/domain"
	dErrors "myapi/pkg/domain-errors"
	pkgstrings "myapi/pkg/platform/strings"
)

const (
	MaxNameLength        = 200
	MaxDescriptionLength = 2000
	MaxTags              = 20
	MaxQuantity          = math.MaxInt32

	DefaultPageSize = 20
	MaxPageSize     = 100

	AggregateType = "item"

	// RoleAdmin may restore items, see soft-deleted ones and mutate any item.
	RoleAdmin = "admin"
)

var tagPattern = regexp.MustCompile(`^[a-z0-9-]{1,32}$`)

// priceLimit bounds amounts to what NUMERIC(18,2) can hold.
var priceLimit = decimal.New(1, 16)

// Item is the catalogue entity. Version starts at 1 and increases by one on
// every command, including soft delete and restore.
type Item struct {
	ID          id.EntityID `json:"id"`
	OwnerID     id.UserID   `json:"owner_id"`
	Name        string      `json:"name"`
	Description *string     `json:"description"`
	Price       id.Money    `json:"price"`
	Quantity    int         `json:"quantity"`
	Tags        []string    `json:"tags"`
	Version     int64       `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	DeletedAt   *time.Time  `json:"deleted_at,omitempty"`
}

func (i *Item) IsDeleted() bool {
	return i.DeletedAt != nil
}

// ETag is the strong validator for the current version.
func (i *Item) ETag() string {
	return FormatETag(i.Version)
}

func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	c.Tags = slices.Clone(i.Tags)
	if i.Description != nil {
		d := *i.Description
		c.Description = &d
	}
	if i.DeletedAt != nil {
		t := *i.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// Validate checks field invariants.
func (i *Item) Validate() error {
	verr := dErrors.Validation("invalid item")
	validateName(verr, i.Name)
	if i.Description != nil && utf8.RuneCountInString(*i.Description) > MaxDescriptionLength {
		verr.WithField("description", fmt.Sprintf("must be at most %d characters", MaxDescriptionLength))
	}
	validatePrice(verr, i.Price)
	if i.Quantity < 0 {
		verr.WithField("quantity", "must not be negative")
	} else if int64(i.Quantity) > MaxQuantity {
		verr.WithField("quantity", fmt.Sprintf("must be at most %d", MaxQuantity))
	}
	validateTags(verr, i.Tags)
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func validateName(verr *dErrors.Error, name string) {
	n := utf8.RuneCountInString(name)
	if n == 0 || strings.TrimSpace(name) == "" {
		verr.WithField("name", "is required")
	} else if n > MaxNameLength {
		verr.WithField("name", fmt.Sprintf("must be at most %d characters", MaxNameLength))
	}
}

func validatePrice(verr *dErrors.Error, price id.Money) {
	if price.Currency() == "" {
		verr.WithField("price", "is required")
	} else if price.IsNegative() {
		verr.WithField("price", "must not be negative")
	} else if price.Amount().GreaterThanOrEqual(priceLimit) {
		verr.WithField("price", "must be less than "+priceLimit.String())
	}
}

func validateTags(verr *dErrors.Error, tags []string) {
	if len(tags) > MaxTags {
		verr.WithField("tags", fmt.Sprintf("must contain at most %d tags", MaxTags))
		return
	}
	for _, tag := range tags {
		if !tagPattern.MatchString(tag) {
			verr.WithField("tags", fmt.Sprintf("tag %q must match ^[a-z0-9-]{1,32}$", tag))
		}
	}
}

// NormalizeTags lowercases, trims and de-duplicates tags, keeping order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return []string{}
	}
	return pkgstrings.DedupeAndTrimLower(tags)
}

// CreateItemRequest is the body of POST /v1/items.
type CreateItemRequest struct {
	Name        string   `json:"name"`
	Description *string  `json:"description"`
	Price       id.Money `json:"price"`
	Quantity    int      `json:"quantity"`
	Tags        []string `json:"tags"`
}

func (r *CreateItemRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Tags = NormalizeTags(r.Tags)
}

// UpdateItemRequest is the body of PATCH /v1/items/{id}. Absent fields are
// left alone; an explicit null clears the description and is rejected for
// the other fields.
type UpdateItemRequest struct {
	Name            nullable.Nullable[string]   `json:"name,omitempty"`
	Description     nullable.Nullable[string]   `json:"description,omitempty"`
	Price           nullable.Nullable[id.Money] `json:"price,omitempty"`
	Quantity        nullable.Nullable[int]      `json:"quantity,omitempty"`
	Tags            nullable.Nullable[[]string] `json:"tags,omitempty"`
	ExpectedVersion *int64                      `json:"expected_version,omitempty"`
}

// IsEmpty reports whether the request changes nothing.
func (r *UpdateItemRequest) IsEmpty() bool {
	return !r.Name.IsSpecified() && !r.Description.IsSpecified() && !r.Price.IsSpecified() &&
		!r.Quantity.IsSpecified() && !r.Tags.IsSpecified()
}

// Apply copies the specified fields onto item and returns the names of the
// fields that changed.
func (r *UpdateItemRequest) Apply(item *Item) ([]string, error) {
	verr := dErrors.Validation("invalid item update")
	nonNullable := []struct {
		field string
		null  bool
	}{
		{"name", r.Name.IsNull()},
		{"price", r.Price.IsNull()},
		{"quantity", r.Quantity.IsNull()},
		{"tags", r.Tags.IsNull()},
	}
	for _, f := range nonNullable {
		if f.null {
			verr.WithField(f.field, "must not be null")
		}
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	var changed []string
	if name, err := r.Name.Get(); err == nil {
		name = strings.TrimSpace(name)
		if name != item.Name {
			item.Name = name
			changed = append(changed, "name")
		}
	}
	switch {
	case r.Description.IsNull():
		if item.Description != nil {
			item.Description = nil
			changed = append(changed, "description")
		}
	case r.Description.IsSpecified():
		desc := r.Description.MustGet()
		if item.Description == nil || *item.Description != desc {
			item.Description = &desc
			changed = append(changed, "description")
		}
	}
	if price, err := r.Price.Get(); err == nil && !price.Equal(item.Price) {
		item.Price = price
		changed = append(changed, "price")
	}
	if qty, err := r.Quantity.Get(); err == nil && qty != item.Quantity {
		item.Quantity = qty
		changed = append(changed, "quantity")
	}
	if tags, err := r.Tags.Get(); err == nil {
		tags = NormalizeTags(tags)
		if !slices.Equal(tags, item.Tags) {
			item.Tags = tags
			changed = append(changed, "tags")
		}
	}
	slices.Sort(changed)
	return changed, nil
}

// ListQuery filters and pages item listings.
type ListQuery struct {
	OwnerID        id.UserID
	Tag            string
	NamePrefix     string
	IncludeDeleted bool
	Limit          int
	Cursor         string
}

// Normalize clamps the limit to [1, MaxPageSize], defaulting to
// DefaultPageSize.
func (q *ListQuery) Normalize() {
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultPageSize
	case q.Limit > MaxPageSize:
		q.Limit = MaxPageSize
	}
	q.Tag = strings.ToLower(strings.TrimSpace(q.Tag))
	q.NamePrefix = strings.TrimSpace(q.NamePrefix)
}

// ListFilter is what stores see: the decoded cursor replaces the opaque one.
// Stores return up to Limit items with ID > After, ordered by ID.
type ListFilter struct {
	OwnerID        id.UserID
	Tag            string
	NamePrefix     string
	IncludeDeleted bool
	After          id.EntityID
	Limit          int
}

// Page is one slice of a listing.
type Page struct {
	Items      []*Item
	NextCursor string
}

// EncodeCursor makes an opaque continuation token from the last ID served.
func EncodeCursor(last id.EntityID) string {
	return base64.RawURLEncoding.EncodeToString([]byte(last.String()))
}

// DecodeCursor reverses EncodeCursor. The empty cursor is the first page.
func DecodeCursor(cursor string) (id.EntityID, error) {
	if cursor == "" {
		return id.EntityID{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return id.EntityID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid cursor")
	}
	after, err := id.ParseEntityID(string(raw))
	if err != nil {
		return id.EntityID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid cursor")
	}
	return after, nil
}

// FormatETag renders a version as a strong entity tag.
func FormatETag(version int64) string {
	return fmt.Sprintf(`"v%d"`, version)
}

// ParseETag accepts `"v3"`, `W/"v3"` and `v3`.
func ParseETag(tag string) (int64, error) {
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
	tag = strings.Trim(tag, `"`)
	var version int64
	if _, err := fmt.Sscanf(tag, "v%d", &version); err != nil || version < 1 || FormatETag(version) != `"`+tag+`"` {
		return 0, dErrors.New(dErrors.CodeBadRequest, "If-Match must be an entity tag like \"v3\"")
	}
	return version, nil
}
