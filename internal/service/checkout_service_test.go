package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"nova_progress_backend/internal/config"
	"nova_progress_backend/internal/model"
	"nova_progress_backend/internal/util"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutReturnsRedirect(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)
	loadUser(t, store, "buyer")

	var got checkoutRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/create-checkout-session", r.URL.Path)
		assert.Equal(t, "Bearer fn-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"url":"https://pay.example/session/1"}`))
	}))
	defer srv.Close()
	env.backend.Functions = config.FunctionsConfig{BaseURL: srv.URL, APIKey: "fn-key"}

	checkout := NewCheckoutService(env.backend, store, config.PaymentsConfig{ReturnURL: "http://app.test"})
	res, err := checkout.Start(ctx, "buyer", "")
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/session/1", res.URL)
	assert.False(t, res.Simulated)
	assert.Equal(t, defaultPriceID, got.PriceID)
	assert.Equal(t, "http://app.test", got.ReturnURL)
}

func TestCheckoutSimulatesWhenUnavailable(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)
	loadUser(t, store, "buyer")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	env.backend.Functions = config.FunctionsConfig{BaseURL: srv.URL}

	strict := NewCheckoutService(env.backend, store, config.PaymentsConfig{})
	_, err := strict.Start(ctx, "buyer", "http://app.test")
	assert.ErrorIs(t, err, util.ErrCheckoutUnavailable)

	checkout := NewCheckoutService(env.backend, store, config.PaymentsConfig{Simulate: true})
	res, err := checkout.Start(ctx, "buyer", "http://app.test")
	require.NoError(t, err)
	assert.True(t, res.Simulated)
	require.NotNil(t, res.Profile)
	assert.True(t, res.Profile.IsPremium)
	assert.Equal(t, int64(1), countOutbox(t, env, model.OutboxProfileUpsert))

	env.drain(t)
	row, err := env.backend.Profiles.FindByID(ctx, "buyer")
	require.NoError(t, err)
	assert.True(t, row.IsPremium)
}

func TestCheckoutConfirm(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)
	loadUser(t, store, "buyer")
	checkout := NewCheckoutService(env.backend, store, config.PaymentsConfig{})

	require.NoError(t, checkout.Confirm(ctx, "buyer"))
	row, err := env.backend.Profiles.FindByID(ctx, "buyer")
	require.NoError(t, err)
	assert.True(t, row.IsPremium)

	assert.ErrorIs(t, checkout.Confirm(ctx, "ghost"), util.ErrUserNotFound)
}
