package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/gamemaster/internal/apperr"
	"github.com/woozymasta/gamemaster/internal/models"
)

func TestIdentityGetUser(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/17", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":17,"username":"survivor"}`))
	}))
	defer ts.Close()

	u, err := NewIdentityClient(ts.URL+"/", "secret", time.Second).GetUser(context.Background(), 17)
	require.NoError(t, err)
	assert.Equal(t, "survivor", u.Username)
	assert.EqualValues(t, 17, u.ID)
}

func TestIdentityLookupError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := NewIdentityClient(ts.URL, "", time.Second).GetUser(context.Background(), 1)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "boom", se.Body)
}

func TestModeration(t *testing.T) {
	banned := int64(66)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req moderationCheck
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.UserID == banned {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := NewModerationClient(ts.URL, "", time.Second)
	assert.NoError(t, m.CheckModerations(context.Background(), 1, 2))
	assert.ErrorIs(t, m.CheckModerations(context.Background(), 1, banned), apperr.ErrUserBanned)
	assert.NoError(t, AllowAll{}.CheckModerations(context.Background(), 1, banned))
}

func TestController(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req instantiateRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, 4, req.MaxPlayers)
			_, _ = w.Write([]byte(`{"handle":"proc-1"}`))
		case http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	c := NewControllerClient(ts.URL, "", time.Second)
	room := &models.Room{ID: 3, ServerID: 1, MaxPlayersCount: 4}

	handle, err := c.Instantiate(context.Background(), room)
	require.NoError(t, err)
	assert.Equal(t, "proc-1", handle)

	assert.NoError(t, c.Terminate(context.Background(), room))
}

func TestLocalController(t *testing.T) {
	room := &models.Room{ID: 1}

	a, err := LocalController{}.Instantiate(context.Background(), room)
	require.NoError(t, err)
	b, err := LocalController{}.Instantiate(context.Background(), room)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NoError(t, LocalController{}.Terminate(context.Background(), room))
}
