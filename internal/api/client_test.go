package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/laps.report/internal/httputil"
)

func TestClient_AgainstStation(t *testing.T) {
	st := newStation(t)
	_, _ = startRace(t, st.publisher())

	srv := httptest.NewServer(st.handler)
	defer srv.Close()
	c := NewClient(srv.URL+"/", nil)
	ctx := context.Background()

	status, err := c.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, "running", status.State)
	assert.Equal(t, 4, status.Decisions.Accepted)

	cats, err := c.Standings(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, 3, cats[0].Standings[0].Number)

	junior, err := c.CategoryStandings(ctx, "Junior")
	require.NoError(t, err)
	require.Len(t, junior, 1)
	assert.Equal(t, "Duda", junior[0].Name)

	_, err = c.CategoryStandings(ctx, "Elite")
	var se *httputil.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)

	presses, err := c.Stop(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, presses)
	assert.True(t, st.latch.StopAsserted())
}

func TestClient_Mock(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusConflict, `{"error":"race is finished"}`).
		AddErrorResponse(errors.New("connection refused"))
	c := NewClient("http://station.local:8080", mock)
	ctx := context.Background()

	_, err := c.Stop(ctx)
	var se *httputil.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "race is finished", se.Message)

	_, err = c.Session(ctx)
	assert.ErrorContains(t, err, "connection refused")

	require.Equal(t, 2, mock.RequestCount())
	req := mock.Request(0)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "http://station.local:8080/api/session/stop", req.URL.String())
}
