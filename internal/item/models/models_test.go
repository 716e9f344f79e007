package models

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "myapi/pkg/domain"
	dErrors "myapi/pkg/domain-errors"
)

func validItem(t *testing.T) *Item {
	t.Helper()
	price, err := id.ParseMoney("12.50", "EUR")
	require.NoError(t, err)
	return &Item{
		ID:       id.NewEntityID(),
		OwnerID:  id.NewUserID(),
		Name:     "Lamp",
		Price:    price,
		Quantity: 3,
		Tags:     []string{"home", "light-2"},
		Version:  1,
	}
}

func fieldNames(t *testing.T, err error) []string {
	t.Helper()
	de, ok := dErrors.As(err)
	require.True(t, ok, "expected domain error, got %v", err)
	require.Equal(t, dErrors.CodeValidation, de.Code)
	var names []string
	for _, f := range de.Fields {
		names = append(names, f.Field)
	}
	return names
}

func TestItemValidate(t *testing.T) {
	negative, err := id.ParseMoney("-1.00", "EUR")
	require.NoError(t, err)
	huge, err := id.ParseMoney("10000000000000000.00", "EUR")
	require.NoError(t, err)
	largest, err := id.ParseMoney("9999999999999999.99", "EUR")
	require.NoError(t, err)
	tooMany := int64(MaxQuantity) + 1
	long := strings.Repeat("x", MaxDescriptionLength+1)

	tests := []struct {
		name   string
		mutate func(*Item)
		field  string
	}{
		{"empty name", func(i *Item) { i.Name = "" }, "name"},
		{"blank name", func(i *Item) { i.Name = "   " }, "name"},
		{"long name", func(i *Item) { i.Name = strings.Repeat("n", MaxNameLength+1) }, "name"},
		{"long description", func(i *Item) { i.Description = &long }, "description"},
		{"negative quantity", func(i *Item) { i.Quantity = -1 }, "quantity"},
		{"quantity above int32", func(i *Item) { i.Quantity = int(tooMany) }, "quantity"},
		{"negative price", func(i *Item) { i.Price = negative }, "price"},
		{"price beyond numeric(18,2)", func(i *Item) { i.Price = huge }, "price"},
		{"missing price", func(i *Item) { i.Price = id.Money{} }, "price"},
		{"bad tag", func(i *Item) { i.Tags = []string{"Has Space"} }, "tags"},
		{"too many tags", func(i *Item) { i.Tags = make([]string, MaxTags+1) }, "tags"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := validItem(t)
			tt.mutate(item)
			assert.Contains(t, fieldNames(t, item.Validate()), tt.field)
		})
	}

	t.Run("valid item", func(t *testing.T) {
		item := validItem(t)
		item.Name = strings.Repeat("n", MaxNameLength)
		assert.NoError(t, item.Validate())
	})

	t.Run("largest quantity and price", func(t *testing.T) {
		item := validItem(t)
		item.Quantity = MaxQuantity
		item.Price = largest
		assert.NoError(t, item.Validate())
	})
}

func TestUpdateItemRequest_Apply(t *testing.T) {
	t.Run("absent fields are untouched and null clears description", func(t *testing.T) {
		item := validItem(t)
		desc := "bright"
		item.Description = &desc

		var req UpdateItemRequest
		require.NoError(t, json.Unmarshal([]byte(`{"quantity":7,"description":null}`), &req))
		changed, err := req.Apply(item)
		require.NoError(t, err)

		assert.Equal(t, []string{"description", "quantity"}, changed)
		assert.Nil(t, item.Description)
		assert.Equal(t, 7, item.Quantity)
		assert.Equal(t, "Lamp", item.Name)
	})

	t.Run("null on required fields is rejected", func(t *testing.T) {
		var req UpdateItemRequest
		require.NoError(t, json.Unmarshal([]byte(`{"name":null,"price":null}`), &req))
		_, err := req.Apply(validItem(t))
		assert.ElementsMatch(t, []string{"name", "price"}, fieldNames(t, err))
	})

	t.Run("same values report no change", func(t *testing.T) {
		var req UpdateItemRequest
		require.NoError(t, json.Unmarshal([]byte(`{"name":"Lamp","tags":["HOME","light-2","home"]}`), &req))
		changed, err := req.Apply(validItem(t))
		require.NoError(t, err)
		assert.Empty(t, changed)
	})

	t.Run("expected version and emptiness", func(t *testing.T) {
		var req UpdateItemRequest
		require.NoError(t, json.Unmarshal([]byte(`{"expected_version":4}`), &req))
		assert.True(t, req.IsEmpty())
		require.NotNil(t, req.ExpectedVersion)
		assert.Equal(t, int64(4), *req.ExpectedVersion)
	})
}

func TestCursorRoundTrip(t *testing.T) {
	last := id.NewEntityID()
	decoded, err := DecodeCursor(EncodeCursor(last))
	require.NoError(t, err)
	assert.Equal(t, last, decoded)

	first, err := DecodeCursor("")
	require.NoError(t, err)
	assert.True(t, first.IsNil())

	for _, bad := range []string{"!!!", "bm90LWEtdWxpZA"} {
		_, err := DecodeCursor(bad)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), bad)
	}
}

func TestETag(t *testing.T) {
	assert.Equal(t, `"v3"`, FormatETag(3))
	for _, in := range []string{`"v3"`, `W/"v3"`, `v3`} {
		v, err := ParseETag(in)
		require.NoError(t, err, in)
		assert.Equal(t, int64(3), v)
	}
	for _, bad := range []string{`"3"`, `"v0"`, `"v03"`, `"v3x"`, `*`} {
		_, err := ParseETag(bad)
		assert.Error(t, err, bad)
	}
}

func TestListQueryNormalize(t *testing.T) {
	q := ListQuery{Tag: " Home "}
	q.Normalize()
	assert.Equal(t, DefaultPageSize, q.Limit)
	assert.Equal(t, "home", q.Tag)

	q = ListQuery{Limit: 1000}
	q.Normalize()
	assert.Equal(t, MaxPageSize, q.Limit)
}
