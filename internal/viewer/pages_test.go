package viewer

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPages(t *testing.T) {
	h := newTestHandler(t, newFakeChecker())
	r := newTestRouter(h)
	ctx := context.Background()

	live, _, err := h.svc.CreateStream(ctx, StreamInput{Name: "Bunny <live>", URL: goodURL}, false)
	require.NoError(t, err)
	off := false
	_, _, err = h.svc.CreateStream(ctx, StreamInput{Name: "Archived", URL: goneURL, IsActive: &off, Override: true}, false)
	require.NoError(t, err)

	rec := do(t, r, http.MethodGet, "/viewer/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Bunny &lt;live&gt;")
	assert.Contains(t, rec.Body.String(), "/viewer/gate/"+live.ID+"/")
	assert.NotContains(t, rec.Body.String(), "Archived")

	rec = do(t, r, http.MethodGet, "/viewer/gate/"+live.ID+"/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>Bunny &lt;live&gt;</h1>")
	assert.Contains(t, rec.Body.String(), live.ID)

	rec = do(t, r, http.MethodGet, "/viewer/gate/missing/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
