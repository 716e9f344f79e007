package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"myapi/internal/item/models"
	"myapi/internal/item/service"
	"myapi/internal/item/store"
	id "myapi/pkg/domain"
	"myapi/pkg/requestcontext"
)

type gqlResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message    string         `json:"message"`
		Extensions map[string]any `json:"extensions"`
	} `json:"errors"`
}

type GraphQLSuite struct {
	suite.Suite
	router chi.Router
	userID id.UserID
}

func TestGraphQLSuite(t *testing.T) {
	suite.Run(t, new(GraphQLSuite))
}

func (s *GraphQLSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	items := service.New(store.NewInMemoryStore(), service.WithLogger(logger))
	s.userID = id.NewUserID()

	s.router = chi.NewRouter()
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithPrincipal(r.Context(), s.userID, []string{"user"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	New(items, logger).Register(s.router)
}

func (s *GraphQLSuite) exec(query string, variables map[string]any) gqlResponse {
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	s.Require().NoError(err)
	req := httptest.NewRequestWithContext(context.Background(), http.MethodPost, "/v1/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Require().Equal(http.StatusOK, rec.Code)

	var resp gqlResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

type gqlItem struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"ownerId"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Price       struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	} `json:"price"`
	Quantity  int      `json:"quantity"`
	Tags      []string `json:"tags"`
	Version   int      `json:"version"`
	DeletedAt *string  `json:"deletedAt"`
}

const itemFields = `id ownerId name description price { amount currency } quantity tags version deletedAt`

func (s *GraphQLSuite) createItem(name string) gqlItem {
	resp := s.exec(`mutation($input: CreateItemInput!) { createItem(input: $input) { `+itemFields+` } }`,
		map[string]any{"input": map[string]any{
			"name":        name,
			"description": "first",
			"price":       map[string]any{"amount": "4.5", "currency": "USD"},
			"quantity":    2,
			"tags":        []string{"Garden"},
		}})
	s.Require().Empty(resp.Errors)
	var item gqlItem
	s.Require().NoError(json.Unmarshal(resp.Data["createItem"], &item))
	return item
}

func (s *GraphQLSuite) TestCreateAndQuery() {
	created := s.createItem("Rake")
	s.Equal("Rake", created.Name)
	s.Equal(s.userID.String(), created.OwnerID)
	s.Equal("4.50", created.Price.Amount)
	s.Equal([]string{"garden"}, created.Tags)
	s.Equal(1, created.Version)

	resp := s.exec(`query($id: ID!) { item(id: $id) { id name } }`, map[string]any{"id": created.ID})
	s.Require().Empty(resp.Errors)
	var found gqlItem
	s.Require().NoError(json.Unmarshal(resp.Data["item"], &found))
	s.Equal(created.ID, found.ID)

	resp = s.exec(`query($id: ID!) { item(id: $id) { id } }`, map[string]any{"id": id.NewEntityID().String()})
	s.Require().Empty(resp.Errors)
	s.JSONEq(`null`, string(resp.Data["item"]))
}

func (s *GraphQLSuite) TestUpdateAndDelete() {
	created := s.createItem("Hose")

	resp := s.exec(`mutation($id: ID!) { updateItem(id: $id, input: {quantity: 5, clearDescription: true}, expectedVersion: 1) { `+itemFields+` } }`,
		map[string]any{"id": created.ID})
	s.Require().Empty(resp.Errors)
	var updated gqlItem
	s.Require().NoError(json.Unmarshal(resp.Data["updateItem"], &updated))
	s.Equal(5, updated.Quantity)
	s.Nil(updated.Description)
	s.Equal(2, updated.Version)

	resp = s.exec(`mutation($id: ID!) { updateItem(id: $id, input: {name: "Late"}, expectedVersion: 1) { id } }`,
		map[string]any{"id": created.ID})
	s.Require().Len(resp.Errors, 1)
	s.Equal("conflict", resp.Errors[0].Extensions["code"])

	resp = s.exec(`mutation($id: ID!) { deleteItem(id: $id) { deletedAt version } }`, map[string]any{"id": created.ID})
	s.Require().Empty(resp.Errors)
	var deleted gqlItem
	s.Require().NoError(json.Unmarshal(resp.Data["deleteItem"], &deleted))
	s.NotNil(deleted.DeletedAt)
	s.Equal(3, deleted.Version)
}

func (s *GraphQLSuite) TestItemsPagination() {
	for _, name := range []string{"One", "Two", "Three"} {
		s.createItem(name)
	}

	var names []string
	var after any
	for range 3 {
		resp := s.exec(`query($after: String) { items(first: 2, after: $after, tag: "garden") { items { name } nextCursor } }`,
			map[string]any{"after": after})
		s.Require().Empty(resp.Errors)
		var conn struct {
			Items      []gqlItem `json:"items"`
			NextCursor *string   `json:"nextCursor"`
		}
		s.Require().NoError(json.Unmarshal(resp.Data["items"], &conn))
		for _, it := range conn.Items {
			names = append(names, it.Name)
		}
		if conn.NextCursor == nil {
			break
		}
		after = *conn.NextCursor
	}
	s.Equal([]string{"One", "Two", "Three"}, names)
}

func (s *GraphQLSuite) TestValidationErrorsCarryFields() {
	resp := s.exec(`mutation { createItem(input: {name: "", price: {amount: "-1", currency: "EUR"}}) { id } }`, nil)
	s.Require().Len(resp.Errors, 1)
	s.Equal("validation_error", resp.Errors[0].Extensions["code"])
	s.NotEmpty(resp.Errors[0].Extensions["fields"])
}

func TestItemResolver_LargestQuantity(t *testing.T) {
	r := &itemResolver{item: &models.Item{Quantity: models.MaxQuantity}}
	assert.Equal(t, int32(math.MaxInt32), r.Quantity())
}
