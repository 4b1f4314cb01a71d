package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/loggy"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "crew-01",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func newTestClient(t *testing.T, handler http.HandlerFunc, token string) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(ClientConfig{
		BaseURL:       server.URL + "/",
		AnonKey:       "anon-key",
		Token:         token,
		Table:         "obras",
		PublicBaseURL: "https://cdn.example.com",
		Timeout:       5 * time.Second,
	}, loggy.NewNoopLogger())
}

func TestInsertRecord(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/obras", r.URL.Path)
		assert.Equal(t, "id", r.URL.Query().Get("select"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "OB-1", body["obra"])
		assert.Len(t, body["fotos_antes"], 1)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id":"9b2e0c3a-1111-4222-8333-444455556666"}]`))
	}, "")

	id, err := client.InsertRecord(context.Background(), Payload{
		"obra":        "OB-1",
		"fotos_antes": []item.PhotoEntry{{URL: "https://cdn/a.jpg"}},
	})
	require.NoError(t, err)
	assert.True(t, id.IsRemote())
	assert.Equal(t, "9b2e0c3a-1111-4222-8333-444455556666", id.String())
}

func TestUpdateRecord(t *testing.T) {
	t.Run("updated", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPatch, r.Method)
			assert.Equal(t, "eq.srv-1", r.URL.Query().Get("id"))
			_, _ = w.Write([]byte(`[{"id":"srv-1"}]`))
		}, "")
		require.NoError(t, client.UpdateRecord(context.Background(), item.Remote("srv-1"), Payload{"obra": "OB-1"}))
	})

	t.Run("missing row", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[]`))
		}, "")
		err := client.UpdateRecord(context.Background(), item.Remote("srv-1"), Payload{"obra": "OB-1"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFetchRecord(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		q := r.URL.Query()
		switch {
		case q.Get("id") == "eq.srv-1":
			_, _ = w.Write([]byte(`[{"id":"srv-1","obra":"OB-1","equipe":"CNT 01","status":"finalizada","fotos_depois":[{"url":"https://cdn/d.jpg","latitude":-23.5}]}]`))
		case q.Get("obra") == "eq.OB-2" && q.Get("equipe") == "eq.CNT 02":
			assert.Equal(t, "created_at.desc", q.Get("order"))
			_, _ = w.Write([]byte(`[{"id":"srv-2","obra":"OB-2","equipe":"CNT 02"}]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}, "")
	ctx := context.Background()

	rec, err := client.FetchRecordByID(ctx, item.Remote("srv-1"))
	require.NoError(t, err)
	assert.Equal(t, item.WorkFinished, rec.WorkStatus)
	assert.Equal(t, "https://cdn/d.jpg", rec.Photos["depois"][0].URL)

	rec, err = client.FetchRecordByNaturalKey(ctx, "OB-2", "CNT 02")
	require.NoError(t, err)
	assert.Equal(t, item.Remote("srv-2"), rec.ID)

	_, err = client.FetchRecordByID(ctx, item.Remote("srv-404"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.RawQuery, "srv-500") {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`upstream down`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"PGRST301","message":"JWT expired"}`))
	}, "")
	ctx := context.Background()

	_, err := client.FetchRecordByID(ctx, item.Remote("srv-1"))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "PGRST301", apiErr.Code)
	assert.True(t, apiErr.IsAuth())
	assert.False(t, apiErr.Retryable())

	_, err = client.FetchRecordByID(ctx, item.Remote("srv-500"))
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.True(t, apiErr.Retryable())
}

func TestExpiredSessionShortCircuits(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	}, signedToken(t, time.Now().Add(-time.Hour)))

	_, err := client.InsertRecord(context.Background(), Payload{"obra": "OB-1"})
	assert.ErrorIs(t, err, ErrSessionExpired)
	_, err = client.UploadObject(context.Background(), "obra-photos", "k.jpg", strings.NewReader("x"), "image/jpeg")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, called)

	valid := signedToken(t, time.Now().Add(time.Hour))
	client.SetToken(valid)
	exp, ok := TokenExpiry(valid)
	assert.True(t, ok)
	assert.True(t, exp.After(time.Now()))

	_, ok = TokenExpiry("not-a-jwt")
	assert.False(t, ok)
}

func TestUploadObject(t *testing.T) {
	token := signedToken(t, time.Now().Add(time.Hour))
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/storage/v1/object/obra-photos/offline_1_a/antes_1_x_0.jpg", r.URL.Path)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		assert.Equal(t, "false", r.Header.Get("x-upsert"))
		assert.Equal(t, "Bearer "+token, r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "jpeg-bytes", string(body))
		_, _ = w.Write([]byte(`{"Key":"obra-photos/offline_1_a/antes_1_x_0.jpg"}`))
	}, token)

	url, err := client.UploadObject(context.Background(), "obra-photos", "offline_1_a/antes_1_x_0.jpg", strings.NewReader("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/storage/v1/object/public/obra-photos/offline_1_a/antes_1_x_0.jpg", url)
}

func TestUploadObjectStorageError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"statusCode":"409","error":"Duplicate","message":"The resource already exists"}`))
	}, "")

	_, err := client.UploadObject(context.Background(), "obra-photos", "k.jpg", strings.NewReader("x"), "image/jpeg")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Duplicate", apiErr.Code)
	assert.False(t, apiErr.Retryable())
}

func TestPostgresQueries(t *testing.T) {
	s := &PostgresStore{table: "obras", builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}

	query, args, err := s.insertQuery("uuid-1", Payload{
		"obra":        "OB-1",
		"fotos_antes": []item.PhotoEntry{{URL: "https://cdn/a.jpg"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO obras (fotos_antes,id,obra) VALUES ($1,$2,$3) RETURNING id", query)
	assert.JSONEq(t, `[{"url":"https://cdn/a.jpg","latitude":null,"longitude":null,"utm_x":null,"utm_y":null,"utm_zone":null}]`, args[0].(string))
	assert.Equal(t, "uuid-1", args[1])

	query, args, err = s.updateQuery(item.Remote("uuid-1"), Payload{"obra": "OB-2", "id": "ignored", "equipe": "CNT"})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE obras SET equipe = $1, obra = $2 WHERE id = $3", query)
	assert.Equal(t, []interface{}{"CNT", "OB-2", "uuid-1"}, args)

	query, args, err = s.selectRow().Where(sq.Eq{"t.obra": "OB-1", "t.equipe": "CNT"}).OrderBy("t.created_at DESC").ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT row_to_json(t)::text FROM obras t WHERE t.equipe = $1 AND t.obra = $2 ORDER BY t.created_at DESC LIMIT 1", query)
	assert.Equal(t, []interface{}{"CNT", "OB-1"}, args)

	query, args, err = s.listQuery("CNT", 50)
	require.NoError(t, err)
	assert.Equal(t, "SELECT row_to_json(t)::text FROM obras t WHERE t.equipe = $1 ORDER BY t.created_at DESC LIMIT 50", query)
	assert.Equal(t, []interface{}{"CNT"}, args)
}

func TestPgErrorMapsAuthFailures(t *testing.T) {
	for _, code := range []string{"28P01", "28000"} {
		raw := &pgconn.PgError{Code: code, Message: "password authentication failed for user \"field\""}
		err := fmt.Errorf("inserting record: %w", pgError(raw))
		assert.ErrorIs(t, err, ErrSessionExpired, code)

		var pgErr *pgconn.PgError
		require.True(t, errors.As(err, &pgErr))
		assert.Equal(t, code, pgErr.Code)
	}

	unique := &pgconn.PgError{Code: "23505", Message: "duplicate key value"}
	assert.NotErrorIs(t, pgError(unique), ErrSessionExpired)
	assert.Same(t, error(unique), pgError(unique))
	assert.NoError(t, pgError(nil))
}

func TestListRecords(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "eq.CNT 01", q.Get("equipe"))
		assert.Equal(t, "20", q.Get("limit"))
		assert.Equal(t, "created_at.desc", q.Get("order"))
		_, _ = w.Write([]byte(`[{"id":"srv-2","obra":"OB-2"},{"id":"srv-1","obra":"OB-1"}]`))
	}, "")

	var lister Lister = client
	records, err := lister.ListRecords(context.Background(), "CNT 01", 20)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "OB-2", records[0].SiteID)
}
