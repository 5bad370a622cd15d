package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectrefill/refill-backend/pkg/enums"
	pkgerrors "github.com/projectrefill/refill-backend/pkg/errors"
)

func withURLParam(r *http.Request, key, value string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rc))
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "eventId", id.String())
	got, err := ParseUUIDParam(req, "eventId")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	bad := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "eventId", "nope")
	_, err = ParseUUIDParam(bad, "eventId")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = ParseUUIDParam(httptest.NewRequest(http.MethodGet, "/", nil), "eventId")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryUUID(t *testing.T) {
	id := uuid.New()
	got, err := ParseQueryUUID(httptest.NewRequest(http.MethodGet, "/?equipment_id="+id.String(), nil), "equipment_id")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, *got)

	got, err = ParseQueryUUID(httptest.NewRequest(http.MethodGet, "/", nil), "equipment_id")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseQueryUUID(httptest.NewRequest(http.MethodGet, "/?equipment_id=x", nil), "equipment_id")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2026-10-19", "date")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), got)

	_, err = ParseDate("19/10/2026", "date")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryEnum(t *testing.T) {
	got, err := ParseQueryEnum(httptest.NewRequest(http.MethodGet, "/?location_type=depot", nil), "location_type", enums.ParseLocationType)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, enums.LocationTypeDepot, *got)

	_, err = ParseQueryEnum(httptest.NewRequest(http.MethodGet, "/?location_type=moon", nil), "location_type", enums.ParseLocationType)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryInt(t *testing.T) {
	got, err := ParseQueryInt(httptest.NewRequest(http.MethodGet, "/", nil), "limit", 25, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 25, got)

	got, err = ParseQueryInt(httptest.NewRequest(http.MethodGet, "/?limit=40", nil), "limit", 25, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 40, got)

	for _, raw := range []string{"abc", "0", "101"} {
		_, err := ParseQueryInt(httptest.NewRequest(http.MethodGet, "/?limit="+raw, nil), "limit", 25, 1, 100)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), raw)
	}
}
