package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/modelhub/modelhub-api/internal/catalog"
	"github.com/modelhub/modelhub-api/internal/catalog/service"
	"github.com/modelhub/modelhub-api/internal/store"
	"github.com/modelhub/modelhub-api/pkg/middleware"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeToken struct{ claims map[string]interface{} }

func (t *fakeToken) Claims(v interface{}) error {
	b, err := json.Marshal(t.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// fakeVerifier accepts "good-<email>" tokens.
type fakeVerifier struct{}

func (fakeVerifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	if email, ok := strings.CutPrefix(raw, "good-"); ok {
		return &fakeToken{claims: map[string]interface{}{"sub": "uid-" + email, "email": email}}, nil
	}
	return nil, fmt.Errorf("token is expired")
}

type testServer struct {
	t         *testing.T
	g         *gin.Engine
	models    *store.MemoryCollection
	downloads *store.MemoryCollection
}

func newTestServer(t *testing.T, enforceOwner bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	models := store.NewMemoryCollection(catalog.ModelsCollection)
	downloads := store.NewMemoryCollection(catalog.DownloadsCollection)
	g := gin.New()
	New(service.New(models, downloads), middleware.AuthMiddleware(fakeVerifier{})).
		EnforceOwner(enforceOwner).
		Register(g)
	return &testServer{t: t, g: g, models: models, downloads: downloads}
}

func (s *testServer) do(method, path, body, token string) *httptest.ResponseRecorder {
	s.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.g.ServeHTTP(w, req)
	return w
}

func (s *testServer) create(body string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/models", body, "")
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Acknowledged bool   `json:"acknowledged"`
		InsertedID   string `json:"insertedId"`
	}
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &res))
	require.True(s.t, res.Acknowledged)
	require.Len(s.t, res.InsertedID, 24)
	return res.InsertedID
}

func decodeList(t *testing.T, w *httptest.ResponseRecorder) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRoot(t *testing.T) {
	s := newTestServer(t, false)
	w := s.do(http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Body.String())
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, false)
	id := primitive.NewObjectID().Hex()
	for _, path := range []string{"/models/" + id, "/my-models?email=ann@x.io"} {
		w := s.do(http.MethodGet, path, "", "")
		require.Equal(t, http.StatusUnauthorized, w.Code, path)

		w = s.do(http.MethodGet, path, "", "expired")
		require.Equal(t, http.StatusForbidden, w.Code, path)
	}
}

func TestCreateThenGet(t *testing.T) {
	s := newTestServer(t, false)
	id := s.create(`{"name":"ResNet","created_by":"ann@x.io","created_at":"2024-05-01T10:00:00Z","tags":["vision"],"size":98}`)

	w := s.do(http.MethodGet, "/models/"+id, "", "good-ann@x.io")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, fmt.Sprintf(`{"_id":%q,"name":"ResNet","created_by":"ann@x.io","created_at":"2024-05-01T10:00:00Z","tags":["vision"],"size":98}`, id), w.Body.String())
}

func TestGetMissingModelIsNull(t *testing.T) {
	s := newTestServer(t, false)
	w := s.do(http.MethodGet, "/models/"+primitive.NewObjectID().Hex(), "", "good-ann@x.io")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "null", w.Body.String())
}

func TestInvalidID(t *testing.T) {
	s := newTestServer(t, false)
	require.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/models/nope", "", "good-ann@x.io").Code)
	require.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/models/nope", `{"a":1}`, "").Code)
	require.Equal(t, http.StatusBadRequest, s.do(http.MethodDelete, "/models/nope", "", "").Code)
	require.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/downloads/nope", `{}`, "").Code)
}

func TestListAndLatest(t *testing.T) {
	s := newTestServer(t, false)
	w := s.do(http.MethodGet, "/models", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "[]", w.Body.String())

	for i := 1; i <= 9; i++ {
		s.create(fmt.Sprintf(`{"name":"m%d","created_at":"2024-02-%02dT00:00:00Z"}`, i, (i*7)%28+1))
	}
	require.Len(t, decodeList(t, s.do(http.MethodGet, "/models", "", "")), 9)

	latest := decodeList(t, s.do(http.MethodGet, "/latest-models", "", ""))
	require.Len(t, latest, 6)
	for i := 1; i < len(latest); i++ {
		require.GreaterOrEqual(t, latest[i-1]["created_at"].(string), latest[i]["created_at"].(string))
	}
}

func TestUpdateAndDelete(t *testing.T) {
	s := newTestServer(t, false)
	id := s.create(`{"name":"old","created_by":"ann@x.io"}`)

	w := s.do(http.MethodPut, "/models/"+id, `{"name":"new","license":"mit"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"acknowledged":true,"matchedCount":1,"modifiedCount":1,"upsertedCount":0,"upsertedId":null}`, w.Body.String())

	got, err := s.models.FindOne(context.Background(), bson.M{"name": "new"})
	require.NoError(t, err)
	require.Equal(t, "mit", got["license"])
	require.Equal(t, "ann@x.io", got["created_by"])

	require.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/models/"+id, `["not","an","object"]`, "").Code)
	require.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/models/"+id, `{}`, "").Code)

	w = s.do(http.MethodDelete, "/models/"+id, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"acknowledged":true,"deletedCount":1}`, w.Body.String())
	require.Empty(t, decodeList(t, s.do(http.MethodGet, "/models", "", "")))
}

func TestMyModelsTrustsQueryParameter(t *testing.T) {
	s := newTestServer(t, false)
	s.create(`{"name":"a","created_by":"ann@x.io"}`)
	s.create(`{"name":"b","created_by":"bob@x.io"}`)

	// bob can read ann's models: the filter comes from the query string
	out := decodeList(t, s.do(http.MethodGet, "/my-models?email=ann@x.io", "", "good-bob@x.io"))
	require.Len(t, out, 1)
	require.Equal(t, "a", out[0]["name"])
}

func TestMyModelsEnforceOwner(t *testing.T) {
	s := newTestServer(t, true)
	s.create(`{"name":"a","created_by":"ann@x.io"}`)

	w := s.do(http.MethodGet, "/my-models?email=ann@x.io", "", "good-bob@x.io")
	require.Equal(t, http.StatusForbidden, w.Code)

	out := decodeList(t, s.do(http.MethodGet, "/my-models?email=ann@x.io", "", "good-ann@x.io"))
	require.Len(t, out, 1)
}

func TestSearch(t *testing.T) {
	s := newTestServer(t, false)
	s.create(`{"name":"Stable Diffusion"}`)
	s.create(`{"name":"Whisper"}`)

	w := s.do(http.MethodGet, "/search", "", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"message":"Search query is required"}`, w.Body.String())

	require.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/search?name=", "", "").Code)

	out := decodeList(t, s.do(http.MethodGet, "/search?name=fUSi", "", ""))
	require.Len(t, out, 1)
	require.Equal(t, "Stable Diffusion", out[0]["name"])
}

func TestDownloadFlow(t *testing.T) {
	s := newTestServer(t, false)
	id := s.create(`{"name":"a","created_by":"ann@x.io"}`)

	w := s.do(http.MethodPost, "/downloads/"+id, fmt.Sprintf(`{"downloaded_by":"bob@x.io","model_id":%q}`, id), "")
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Result          map[string]interface{} `json:"result"`
		DownloadCounted map[string]interface{} `json:"downloadCounted"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, true, res.Result["acknowledged"])
	require.Equal(t, float64(1), res.DownloadCounted["modifiedCount"])
	require.NotContains(t, w.Body.String(), "fileUrl")

	got := s.do(http.MethodGet, "/models/"+id, "", "good-ann@x.io")
	var model map[string]interface{}
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &model))
	require.Equal(t, float64(1), model["downloads"])

	mine := decodeList(t, s.do(http.MethodGet, "/my-downloads?email=bob@x.io", "", ""))
	require.Len(t, mine, 1)
	require.Equal(t, id, mine[0]["model_id"])

	// deleting the model orphans the record
	require.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/models/"+id, "", "").Code)
	require.Len(t, decodeList(t, s.do(http.MethodGet, "/my-downloads?email=bob@x.io", "", "")), 1)
}

func TestDownloadEmptyBody(t *testing.T) {
	s := newTestServer(t, false)
	id := s.create(`{"name":"a"}`)

	w := s.do(http.MethodPost, "/downloads/"+id, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	all, err := s.downloads.Find(context.Background(), bson.M{}, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

// brokenCollection fails every call.
type brokenCollection struct{ store.Collection }

func (brokenCollection) Find(context.Context, bson.M, *store.FindOptions) ([]bson.M, error) {
	return nil, fmt.Errorf("server selection timeout")
}

func TestStoreFailureIs500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	svc := service.New(brokenCollection{store.NewMemoryCollection("models")}, store.NewMemoryCollection("downloads"))
	New(svc, middleware.AuthMiddleware(fakeVerifier{})).Register(g)

	w := httptest.NewRecorder()
	g.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.JSONEq(t, `{"message":"Internal server error"}`, w.Body.String())
}
