package customer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDirectory(t *testing.T) *Directory {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/customers/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch id := mux.Vars(r)["id"]; id {
		case "cus_active", "cus_deleted":
			status := "active"
			if id == "cus_deleted" {
				status = "deleted"
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(Record{ID: id, Status: status})
		case "cus_broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}).Methods("GET")

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewDirectory(srv.URL, time.Second)
}

func TestResolveCustomer(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	ok, err := d.ResolveCustomer(ctx, "cus_active")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.ResolveCustomer(ctx, "cus_deleted")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.ResolveCustomer(ctx, "cus_unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = d.ResolveCustomer(ctx, "cus_broken")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

func TestLookup(t *testing.T) {
	record, err := newDirectory(t).Lookup(context.Background(), "cus_active")
	require.NoError(t, err)
	assert.Equal(t, "cus_active", record.ID)
}
