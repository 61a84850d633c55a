package mockcloud

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, h http.Handler, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "s", Value: token})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]interface{}{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func TestLoginVerifyRefreshFlow(t *testing.T) {
	s := New(nil, nil)

	code, body := do(t, s, http.MethodPost, "/2.2/login", "", map[string]string{"login": "a@example.com"})
	require.Equal(t, http.StatusOK, code)
	tok := body["data"].(map[string]interface{})["user_token"].(string)

	code, _ = do(t, s, http.MethodGet, "/2.2/account", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, code, "unverified token")

	code, _ = do(t, s, http.MethodPost, "/2.2/login/verify", tok, map[string]string{"code": "000000"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, s, http.MethodPost, "/2.2/login/verify", tok, map[string]string{"code": DefaultVerifyCode})
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, s, http.MethodGet, "/2.2/account", tok, nil)
	assert.Equal(t, http.StatusOK, code)

	s.ExpireSessions()
	code, _ = do(t, s, http.MethodGet, "/2.2/account", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = do(t, s, http.MethodPost, "/2.2/login/refresh", tok, nil)
	require.Equal(t, http.StatusOK, code)
	fresh := body["data"].(map[string]interface{})["user_token"].(string)
	assert.NotEqual(t, tok, fresh)

	code, _ = do(t, s, http.MethodGet, "/2.2/account", fresh, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestFailureInjection(t *testing.T) {
	s := New(nil, nil)
	tok := s.IssueToken()
	s.Fail("/2.2/account", http.StatusInternalServerError, "boom")

	code, body := do(t, s, http.MethodGet, "/2.2/account", tok, nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "boom", body["meta"].(map[string]interface{})["error"])

	s.ClearFailures()
	code, _ = do(t, s, http.MethodGet, "/2.2/account", tok, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, s.Calls("/2.2/account"))
}

func TestMutationsChangeFixture(t *testing.T) {
	s := New(nil, nil)
	tok := s.IssueToken()

	code, _ := do(t, s, http.MethodPut, "/2.2/networks/1001/devices/c1", tok, map[string]bool{"paused": true})
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, s, http.MethodPost, "/2.2/eeros/502/reboot", tok, nil)
	require.Equal(t, http.StatusAccepted, code)
	code, _ = do(t, s, http.MethodPut, "/2.2/networks/1001/devices/zz", tok, map[string]bool{"paused": true})
	assert.Equal(t, http.StatusNotFound, code)

	s.Update(func(f *Fixture) {
		n := f.network("1001")
		assert.True(t, n.client("c1").Paused)
		assert.Equal(t, 1, n.node("502").Reboots)
	})
	require.Len(t, s.Mutations(), 2)
	assert.Equal(t, "/2.2/networks/1001/devices/c1", s.Mutations()[0].Path)
}

func TestClientListVariants(t *testing.T) {
	s := New(nil, nil)
	tok := s.IssueToken()

	_, plain := do(t, s, http.MethodGet, "/2.2/networks/1001/devices", tok, nil)
	_, usage := do(t, s, http.MethodGet, "/2.2/networks/1001/devices?include=usage", tok, nil)

	first := func(body map[string]interface{}) map[string]interface{} {
		return body["data"].([]interface{})[0].(map[string]interface{})
	}
	assert.NotContains(t, first(plain), "usage")
	assert.Contains(t, first(usage), "usage")
}
