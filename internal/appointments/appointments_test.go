package appointments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"pepperbot/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "appointments.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSeedOnlyOnce(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	n, err := s.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	n, err = s.Seed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestBetweenIsInclusiveAndOrdered(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	_, err := s.Seed(ctx)
	require.NoError(t, err)

	got, err := s.Between(ctx, "2026-01-07", "2026-01-08")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Christian Schmitt", got[0].Patient)
	assert.Equal(t, "13:00", got[1].Time)
	assert.Equal(t, "14:00", got[2].Time)

	none, err := s.Between(ctx, "2027-01-01", "2027-12-31")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestCreateUpdateDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, Appointment{Date: "2026-02-01", Time: "10:30", Patient: "Anna Becker"})
	require.NoError(t, err)

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Nil(t, all[0].Notes)

	require.NoError(t, s.Update(ctx, id, Appointment{Date: "2026-02-02", Time: "11:00", Patient: "Anna Becker", Notes: notes("Moved")}))
	all, _ = s.All(ctx)
	assert.Equal(t, "2026-02-02", all[0].Date)
	assert.Equal(t, "Moved", *all[0].Notes)

	require.NoError(t, s.Delete(ctx, id))
	assert.ErrorIs(t, s.Delete(ctx, id), ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, id, all[0]), ErrNotFound)

	_, err = s.Create(ctx, Appointment{Date: "02/01/2026", Time: "10:30", Patient: "x"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.Create(ctx, Appointment{Date: "2026-02-01", Time: "25:00", Patient: "x"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.Create(ctx, Appointment{Date: "2026-02-01", Time: "10:00", Patient: " "})
	assert.ErrorIs(t, err, ErrInvalid)
}

func newServer(t *testing.T, cfg auth.Config) (*httptest.Server, *Store) {
	t.Helper()
	s := openStore(t)
	_, err := s.Seed(context.Background())
	require.NoError(t, err)
	a, err := auth.NewAuthenticator(cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(NewHandler(s, a))
	t.Cleanup(srv.Close)
	return srv, s
}

func do(t *testing.T, method, url, body, token string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestListRange(t *testing.T) {
	srv, _ := newServer(t, auth.Config{})

	resp, err := http.Get(srv.URL + "/appointments?start=2026-01-05&end=2026-01-06")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got []Appointment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "Hans Werner", got[0].Patient)
	assert.Equal(t, "Peter Müller", got[1].Patient)

	bad, body := do(t, http.MethodGet, srv.URL+"/appointments?start=2026-01-05", "", "")
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
	assert.Equal(t, "Provide ?start=YYYY-MM-DD&end=YYYY-MM-DD", body["error"])
}

func TestListAll(t *testing.T) {
	srv, _ := newServer(t, auth.Config{})

	resp, err := http.Get(srv.URL + "/appointments/all")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got []Appointment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Len(t, got, 6)
}

func TestWritesWithoutAuth(t *testing.T) {
	srv, s := newServer(t, auth.Config{})

	resp, body := do(t, http.MethodPost, srv.URL+"/appointments",
		`{"date":"2026-01-10","time":"09:30","patient":"Lena Koch","notes":"New patient"}`, "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "created", body["status"])
	id := int64(body["id"].(float64))

	resp, body = do(t, http.MethodPut, srv.URL+"/appointments/"+strconv.FormatInt(id, 10),
		`{"date":"2026-01-10","time":"10:00","patient":"Lena Koch"}`, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "updated", body["status"])

	resp, body = do(t, http.MethodDelete, srv.URL+"/appointments/"+strconv.FormatInt(id, 10), "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "deleted", body["status"])

	resp, _ = do(t, http.MethodDelete, srv.URL+"/appointments/"+strconv.FormatInt(id, 10), "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, srv.URL+"/appointments/abc", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/appointments", `{"date":"soon"}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	all, err := s.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 6)

	resp, _ = do(t, http.MethodPost, srv.URL+"/auth/login", `{"username":"admin","password":""}`, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWritesRequireToken(t *testing.T) {
	srv, _ := newServer(t, auth.Config{Enabled: true, Username: "reception", Password: "pepper", Secret: "k"})
	appointment := `{"date":"2026-01-10","time":"09:30","patient":"Lena Koch"}`

	resp, _ := do(t, http.MethodPost, srv.URL+"/appointments", appointment, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/auth/login", `{"username":"reception","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := do(t, http.MethodPost, srv.URL+"/auth/login", `{"username":"reception","password":"pepper"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := body["token"].(string)
	assert.NotEmpty(t, body["expires_at"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/appointments", appointment, token)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	get, err := http.Get(srv.URL + "/appointments/all")
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusOK, get.StatusCode, "reads stay public")
}

