package backend_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvstash/kvstash/internal/auth"
	"github.com/kvstash/kvstash/internal/backend"
	kverrors "github.com/kvstash/kvstash/internal/errors"
)

type staticCredential struct {
	calls int64
}

func (s *staticCredential) GetToken(_ context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	n := atomic.AddInt64(&s.calls, 1)
	return azcore.AccessToken{
		Token:     fmt.Sprintf("token-%d", n),
		ExpiresOn: time.Now().Add(time.Hour),
	}, nil
}

func fastRetry() backend.RetryPolicy {
	return backend.RetryPolicy{
		MaxAttempts: 4,
		MaxElapsed:  5 * time.Second,
		MinBackoff:  time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*backend.Client, *staticCredential, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cred := &staticCredential{}
	tokens := auth.NewTokenSource(cred)
	t.Cleanup(tokens.Close)

	client, err := backend.NewClient(srv.URL, tokens,
		backend.WithHTTPClient(srv.Client()),
		backend.WithRetryPolicy(fastRetry()),
	)
	require.NoError(t, err)
	return client, cred, srv
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	t.Parallel()

	tokens := auth.NewTokenSource(&staticCredential{})
	defer tokens.Close()

	_, err := backend.NewClient("not a url", tokens)
	var verr kverrors.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSetSecretRoundTrip(t *testing.T) {
	t.Parallel()

	var gotAuth, gotBody string
	client, _, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/secrets/db-password", r.URL.Path)
		require.Equal(t, "7.4", r.URL.Query().Get("api-version"))
		gotAuth = r.Header.Get("Authorization")

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotBody = req["value"].(string)

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":    srvURL(r) + "/secrets/db-password/v1",
			"value": req["value"],
			"tags":  req["tags"],
			"attributes": map[string]interface{}{
				"enabled": true,
				"created": 1700000000,
			},
		})
	}))
	_ = srv

	secret, err := client.SetSecret(context.Background(), "db-password", backend.SetParams{
		Value: "s3cr3t",
		Tags:  map[string]string{"original_name": "db password"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer token-1", gotAuth)
	assert.Equal(t, "s3cr3t", gotBody)
	assert.Equal(t, "db-password", secret.Name)
	assert.Equal(t, "v1", secret.Version)
	assert.Equal(t, "s3cr3t", secret.Value)
	assert.True(t, secret.Attributes.Enabled)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), secret.Attributes.Created)
}

func srvURL(r *http.Request) string {
	return "https://" + r.Host
}

func TestGetSecretSpecificVersion(t *testing.T) {
	t.Parallel()

	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/secrets/api-key/v7", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":    srvURL(r) + "/secrets/api-key/v7",
			"value": "old-value",
		})
	}))

	secret, err := client.GetSecret(context.Background(), "api-key", "v7")
	require.NoError(t, err)
	assert.Equal(t, "v7", secret.Version)
	assert.Equal(t, "old-value", secret.Value)
}

func TestListSecretsWalksAllPages(t *testing.T) {
	t.Parallel()

	var base string
	mux := http.NewServeMux()
	mux.HandleFunc("/secrets", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"value": []map[string]interface{}{
					{"id": base + "/secrets/alpha"},
					{"id": base + "/secrets/beta"},
				},
				"nextLink": base + "/secrets?api-version=7.4&page=2",
			})
		case "2":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"value": []map[string]interface{}{
					{"id": base + "/secrets/gamma"},
				},
				"nextLink": base + "/secrets?api-version=7.4&page=3",
			})
		case "3":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"value": []map[string]interface{}{
					{"id": base + "/secrets/delta"},
				},
			})
		}
	})
	client, _, srv := newTestClient(t, mux)
	base = srv.URL

	items, err := client.ListSecrets(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.Name)
	}
	assert.Equal(t, []string{"alpha", "beta", "gamma", "delta"}, names)
}

func TestListAbortsWhenPageFails(t *testing.T) {
	t.Parallel()

	var base string
	mux := http.NewServeMux()
	mux.HandleFunc("/secrets", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"value":    []map[string]interface{}{{"id": base + "/secrets/alpha"}},
				"nextLink": base + "/secrets?api-version=7.4&page=2",
			})
			return
		}
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error": map[string]string{"code": "Forbidden", "message": "access denied"},
		})
	})
	client, _, srv := newTestClient(t, mux)
	base = srv.URL

	items, err := client.ListSecrets(context.Background())
	var ferr kverrors.ForbiddenError
	require.ErrorAs(t, err, &ferr)
	assert.Nil(t, items, "partial results must be discarded")
}

func TestRateLimitRetriedThenSucceeds(t *testing.T) {
	t.Parallel()

	var hits int64
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) <= 3 {
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error": map[string]string{"code": "Throttled", "message": "slow down"},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":    srvURL(r) + "/secrets/x/v1",
			"value": "ok",
		})
	}))

	secret, err := client.GetSecret(context.Background(), "x", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", secret.Value)
	assert.EqualValues(t, 4, atomic.LoadInt64(&hits))
}

func TestRetryExhaustionSurfacesTransientError(t *testing.T) {
	t.Parallel()

	var hits int64
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": map[string]string{"code": "ServerBusy", "message": "overloaded"},
		})
	}))

	_, err := client.GetSecret(context.Background(), "x", "")
	var terr kverrors.TransientError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 4, terr.Attempts)
	assert.EqualValues(t, 4, atomic.LoadInt64(&hits))
	assert.Contains(t, err.Error(), "ServerBusy")
}

func TestElapsedCapReportsActualAttempts(t *testing.T) {
	t.Parallel()

	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": map[string]string{"code": "ServerBusy", "message": "overloaded"},
		})
	}))
	t.Cleanup(srv.Close)

	tokens := auth.NewTokenSource(&staticCredential{})
	t.Cleanup(tokens.Close)

	// The elapsed cap trips long before ten attempts fit.
	client, err := backend.NewClient(srv.URL, tokens,
		backend.WithHTTPClient(srv.Client()),
		backend.WithRetryPolicy(backend.RetryPolicy{
			MaxAttempts: 10,
			MaxElapsed:  30 * time.Millisecond,
			MinBackoff:  20 * time.Millisecond,
			MaxBackoff:  20 * time.Millisecond,
		}),
	)
	require.NoError(t, err)

	_, err = client.GetSecret(context.Background(), "x", "")
	var terr kverrors.TransientError
	require.ErrorAs(t, err, &terr)
	assert.Less(t, terr.Attempts, 10)
	assert.EqualValues(t, atomic.LoadInt64(&hits), terr.Attempts, "reported attempts match requests made")
}

func TestUpdateSecretPatchesTagsAndClearsExpiry(t *testing.T) {
	t.Parallel()

	var gotBody map[string]interface{}
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/secrets/cert-pw", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":   srvURL(r) + "/secrets/cert-pw/v2",
			"tags": map[string]string{"original_name": "cert pw"},
		})
	}))

	secret, err := client.UpdateSecret(context.Background(), "cert-pw", backend.UpdateParams{
		Tags: map[string]string{"original_name": "cert pw"},
	})
	require.NoError(t, err)
	assert.Equal(t, "v2", secret.Version)

	attrs, ok := gotBody["attributes"].(map[string]interface{})
	require.True(t, ok, "attributes block always sent")
	val, present := attrs["exp"]
	assert.True(t, present, "expiry sent explicitly")
	assert.Nil(t, val, "zero expiry patches to null so the backend clears it")
}

func TestUpdateSecretSendsExpiry(t *testing.T) {
	t.Parallel()

	var gotBody map[string]interface{}
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id": srvURL(r) + "/secrets/cert-pw/v2",
		})
	}))

	expires := time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := client.UpdateSecret(context.Background(), "cert-pw", backend.UpdateParams{
		Expires: expires,
	})
	require.NoError(t, err)

	attrs := gotBody["attributes"].(map[string]interface{})
	assert.EqualValues(t, expires.Unix(), attrs["exp"])
}

func TestGetDeletedSecret(t *testing.T) {
	t.Parallel()

	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/deletedsecrets/gone", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"recoveryId":  srvURL(r) + "/deletedsecrets/gone",
			"deletedDate": 1700000500,
			"tags":        map[string]string{"original_name": "gone secret"},
		})
	}))

	item, err := client.GetDeletedSecret(context.Background(), "gone")
	require.NoError(t, err)
	assert.Equal(t, "gone", item.Name)
	assert.True(t, item.Deleted)
	assert.Equal(t, "gone secret", item.Tags["original_name"])
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		check  func(t *testing.T, err error)
	}{
		{http.StatusBadRequest, func(t *testing.T, err error) {
			var e kverrors.ValidationError
			assert.ErrorAs(t, err, &e)
		}},
		{http.StatusForbidden, func(t *testing.T, err error) {
			var e kverrors.ForbiddenError
			assert.ErrorAs(t, err, &e)
		}},
		{http.StatusNotFound, func(t *testing.T, err error) {
			var e kverrors.NotFoundError
			assert.ErrorAs(t, err, &e)
			assert.Equal(t, "missing", e.Name)
		}},
		{http.StatusConflict, func(t *testing.T, err error) {
			var e kverrors.ConflictError
			assert.ErrorAs(t, err, &e)
		}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()

			var hits int64
			client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt64(&hits, 1)
				writeJSON(w, tc.status, map[string]interface{}{
					"error": map[string]string{"code": "X", "message": "nope"},
				})
			}))

			_, err := client.GetSecret(context.Background(), "missing", "")
			require.Error(t, err)
			tc.check(t, err)
			assert.EqualValues(t, 1, atomic.LoadInt64(&hits), "client errors are returned immediately")
		})
	}
}

func TestUnauthorizedForcesOneTokenRefresh(t *testing.T) {
	t.Parallel()

	var hits int64
	client, cred, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) == 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"error": map[string]string{"code": "Unauthorized", "message": "token expired"},
			})
			return
		}
		assert.Equal(t, "Bearer token-2", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":    srvURL(r) + "/secrets/x/v1",
			"value": "ok",
		})
	}))

	secret, err := client.GetSecret(context.Background(), "x", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", secret.Value)
	assert.EqualValues(t, 2, atomic.LoadInt64(&cred.calls), "401 forces exactly one refresh")
}

func TestPersistentUnauthorizedIsFatal(t *testing.T) {
	t.Parallel()

	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"error": map[string]string{"code": "Unauthorized", "message": "bad token"},
		})
	}))

	_, err := client.GetSecret(context.Background(), "x", "")
	var aerr kverrors.AuthError
	require.ErrorAs(t, err, &aerr)
}

func TestCancellationAbortsBackoffPromptly(t *testing.T) {
	t.Parallel()

	client, _, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{})
	}))
	_ = srv

	// Long backoff so a timely return proves the sleep was interrupted.
	tokens := auth.NewTokenSource(&staticCredential{})
	defer tokens.Close()
	slow, err := backend.NewClient(srv.URL, tokens,
		backend.WithHTTPClient(srv.Client()),
		backend.WithRetryPolicy(backend.RetryPolicy{
			MaxAttempts: 4,
			MaxElapsed:  time.Minute,
			MinBackoff:  10 * time.Second,
			MaxBackoff:  10 * time.Second,
		}),
	)
	require.NoError(t, err)
	_ = client

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = slow.GetSecret(ctx, "x", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second, "cancelled operation must not wait out the backoff")
}

func TestDeleteRecoverPurge(t *testing.T) {
	t.Parallel()

	var calls []string
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodPost:
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"id": srvURL(r) + "/secrets/x/v9",
			})
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))

	ctx := context.Background()
	require.NoError(t, client.DeleteSecret(ctx, "x"))

	recovered, err := client.RecoverSecret(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", recovered.Name)

	require.NoError(t, client.PurgeSecret(ctx, "x"))

	assert.Equal(t, []string{
		"DELETE /secrets/x",
		"POST /deletedsecrets/x/recover",
		"DELETE /deletedsecrets/x",
	}, calls)
}

func TestListDeletedSecrets(t *testing.T) {
	t.Parallel()

	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/deletedsecrets", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"value": []map[string]interface{}{
				{
					"recoveryId":  srvURL(r) + "/deletedsecrets/gone",
					"deletedDate": 1700000500,
					"tags":        map[string]string{"original_name": "gone secret"},
				},
			},
		})
	}))

	items, err := client.ListDeletedSecrets(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "gone", items[0].Name)
	assert.True(t, items[0].Deleted)
	assert.Equal(t, time.Unix(1700000500, 0).UTC(), items[0].DeletedDate)
	assert.Equal(t, "gone secret", items[0].Tags["original_name"])
}
