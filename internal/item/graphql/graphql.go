// Package graphql exposes item queries and mutations over POST /v1/graphql.
// Resolvers call the same service as the REST handler.
package graphql

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	gqlgo "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/oapi-codegen/nullable"

	"myapi/internal/item/models"
	id "myapi/pkg/domain"
	dErrors "myapi/pkg/domain-errors"
	request "myapi/pkg/platform/middleware/request"
)

//go:embed schema.graphql
var schemaSDL string

const maxQueryDepth = 8

// Service is the subset of item operations the schema exposes.
type Service interface {
	Create(ctx context.Context, req *models.CreateItemRequest) (*models.Item, error)
	Update(ctx context.Context, itemID id.EntityID, req *models.UpdateItemRequest) (*models.Item, error)
	Delete(ctx context.Context, itemID id.EntityID, expectedVersion *int64) (*models.Item, error)
	Get(ctx context.Context, itemID id.EntityID, includeDeleted bool) (*models.Item, error)
	List(ctx context.Context, q models.ListQuery) (*models.Page, error)
}

// Handler serves the GraphQL endpoint. Like the REST routes it expects an
// authenticated principal in the request context.
type Handler struct {
	relay *relay.Handler
}

func New(items Service, logger *slog.Logger) *Handler {
	schema := gqlgo.MustParseSchema(schemaSDL, &Resolver{items: items, logger: logger},
		gqlgo.MaxDepth(maxQueryDepth),
	)
	return &Handler{relay: &relay.Handler{Schema: schema}}
}

// Register registers the GraphQL route with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/graphql", h.relay.ServeHTTP)
}

// Resolver is the schema root.
type Resolver struct {
	items  Service
	logger *slog.Logger
}

func (r *Resolver) Item(ctx context.Context, args struct{ ID gqlgo.ID }) (*itemResolver, error) {
	itemID, err := id.ParseEntityID(string(args.ID))
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	item, err := r.items.Get(ctx, itemID, false)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, nil
		}
		return nil, r.fail(ctx, err)
	}
	return &itemResolver{item: item}, nil
}

func (r *Resolver) Items(ctx context.Context, args struct {
	First *int32
	After *string
	Tag   *string
}) (*connectionResolver, error) {
	var q models.ListQuery
	if args.First != nil {
		q.Limit = int(*args.First)
	}
	if args.After != nil {
		q.Cursor = *args.After
	}
	if args.Tag != nil {
		q.Tag = *args.Tag
	}
	page, err := r.items.List(ctx, q)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return &connectionResolver{page: page}, nil
}

type moneyInput struct {
	Amount   string
	Currency string
}

func (m moneyInput) parse() (id.Money, error) {
	return id.ParseMoney(m.Amount, m.Currency)
}

type createItemInput struct {
	Name        string
	Description *string
	Price       moneyInput
	Quantity    *int32
	Tags        *[]string
}

func (r *Resolver) CreateItem(ctx context.Context, args struct{ Input createItemInput }) (*itemResolver, error) {
	price, err := args.Input.Price.parse()
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	req := &models.CreateItemRequest{
		Name:        args.Input.Name,
		Description: args.Input.Description,
		Price:       price,
	}
	if args.Input.Quantity != nil {
		req.Quantity = int(*args.Input.Quantity)
	}
	if args.Input.Tags != nil {
		req.Tags = *args.Input.Tags
	}
	item, err := r.items.Create(ctx, req)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return &itemResolver{item: item}, nil
}

type updateItemInput struct {
	Name             *string
	Description      *string
	ClearDescription *bool
	Price            *moneyInput
	Quantity         *int32
	Tags             *[]string
}

func (in updateItemInput) request() (*models.UpdateItemRequest, error) {
	req := &models.UpdateItemRequest{}
	if in.Name != nil {
		req.Name = nullable.NewNullableWithValue(*in.Name)
	}
	switch {
	case in.ClearDescription != nil && *in.ClearDescription:
		req.Description = nullable.NewNullNullable[string]()
	case in.Description != nil:
		req.Description = nullable.NewNullableWithValue(*in.Description)
	}
	if in.Price != nil {
		price, err := in.Price.parse()
		if err != nil {
			return nil, err
		}
		req.Price = nullable.NewNullableWithValue(price)
	}
	if in.Quantity != nil {
		req.Quantity = nullable.NewNullableWithValue(int(*in.Quantity))
	}
	if in.Tags != nil {
		req.Tags = nullable.NewNullableWithValue(*in.Tags)
	}
	return req, nil
}

func (r *Resolver) UpdateItem(ctx context.Context, args struct {
	ID              gqlgo.ID
	Input           updateItemInput
	ExpectedVersion *int32
}) (*itemResolver, error) {
	itemID, err := id.ParseEntityID(string(args.ID))
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	req, err := args.Input.request()
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	req.ExpectedVersion = version(args.ExpectedVersion)
	item, err := r.items.Update(ctx, itemID, req)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return &itemResolver{item: item}, nil
}

func (r *Resolver) DeleteItem(ctx context.Context, args struct {
	ID              gqlgo.ID
	ExpectedVersion *int32
}) (*itemResolver, error) {
	itemID, err := id.ParseEntityID(string(args.ID))
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	item, err := r.items.Delete(ctx, itemID, version(args.ExpectedVersion))
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return &itemResolver{item: item}, nil
}

func version(v *int32) *int64 {
	if v == nil {
		return nil
	}
	out := int64(*v)
	return &out
}

// fail converts err into a GraphQL error carrying the domain code. Internal
// details are logged, not returned.
func (r *Resolver) fail(ctx context.Context, err error) error {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInternal {
		r.logger.ErrorContext(ctx, "graphql resolver failed", "error", err, "request_id", request.GetRequestID(ctx))
		return &resolverError{code: code, message: "internal error"}
	}
	out := &resolverError{code: code, message: err.Error()}
	var de *dErrors.Error
	if errors.As(err, &de) {
		out.message = de.Message
		out.fields = de.Fields
	}
	return out
}

type resolverError struct {
	code    dErrors.Code
	message string
	fields  []dErrors.FieldError
}

func (e *resolverError) Error() string { return e.message }

// Extensions is picked up by graphql-go and rendered under "extensions".
func (e *resolverError) Extensions() map[string]any {
	ext := map[string]any{"code": string(e.code)}
	if len(e.fields) > 0 {
		ext["fields"] = e.fields
	}
	return ext
}

type itemResolver struct {
	item *models.Item
}

func (r *itemResolver) ID() gqlgo.ID         { return gqlgo.ID(r.item.ID.String()) }
func (r *itemResolver) OwnerID() gqlgo.ID    { return gqlgo.ID(r.item.OwnerID.String()) }
func (r *itemResolver) Name() string         { return r.item.Name }
func (r *itemResolver) Description() *string { return r.item.Description }
func (r *itemResolver) Quantity() int32      { return int32(r.item.Quantity) }
func (r *itemResolver) Tags() []string       { return r.item.Tags }
func (r *itemResolver) Version() int32       { return int32(r.item.Version) }
func (r *itemResolver) CreatedAt() string    { return r.item.CreatedAt.Format(time.RFC3339Nano) }
func (r *itemResolver) UpdatedAt() string    { return r.item.UpdatedAt.Format(time.RFC3339Nano) }

func (r *itemResolver) Price() *moneyResolver {
	return &moneyResolver{money: r.item.Price}
}

func (r *itemResolver) DeletedAt() *string {
	if r.item.DeletedAt == nil {
		return nil
	}
	s := r.item.DeletedAt.Format(time.RFC3339Nano)
	return &s
}

type moneyResolver struct {
	money id.Money
}

func (r *moneyResolver) Amount() string   { return r.money.Amount().StringFixed(id.MaxMoneyScale) }
func (r *moneyResolver) Currency() string { return r.money.Currency() }

type connectionResolver struct {
	page *models.Page
}

func (r *connectionResolver) Items() []*itemResolver {
	out := make([]*itemResolver, 0, len(r.page.Items))
	for _, item := range r.page.Items {
		out = append(out, &itemResolver{item: item})
	}
	return out
}

func (r *connectionResolver) NextCursor() *string {
	if r.page.NextCursor == "" {
		return nil
	}
	return &r.page.NextCursor
}
