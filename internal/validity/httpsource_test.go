package validity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSourceFetchSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/bishop-validity/b1":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"has_valid_ordination":true,"has_valid_consecration":false,"worst_ordination_status":"valid"}`))
		case "/api/bishop-validity/broken":
			_, _ = w.Write([]byte(`{not json`))
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	source := NewHTTPSource(srv.URL+"/", "tok")
	source.Client = srv.Client()
	ctx := context.Background()

	summary, err := source.FetchSummary(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, Summary{
		HasValidOrdination:      true,
		WorstOrdinationStatus:   StatusValid,
		WorstConsecrationStatus: StatusInvalid,
	}, summary)

	_, err = source.FetchSummary(ctx, "missing")
	assert.ErrorIs(t, err, ErrSummaryUnavailable)

	_, err = source.FetchSummary(ctx, "broken")
	assert.ErrorIs(t, err, ErrSummaryUnavailable)
}
