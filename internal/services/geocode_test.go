package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func newSuggestTestService(t *testing.T, lastQuery *url.Values) *GeocodeService {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*lastQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"features":[{"geometry":{"coordinates":[79.9865,23.1778]},"properties":{"name":"Dumna Airport","city":"Jabalpur","state":"Madhya Pradesh"}}]}`)
	}))
	t.Cleanup(server.Close)
	return &GeocodeService{photonBase: server.URL, httpClient: server.Client()}
}

func TestSuggestClampsLimitAndAppendsCityHint(t *testing.T) {
	var lastQuery url.Values
	service := newSuggestTestService(t, &lastQuery)

	suggestions, err := service.Suggest(context.Background(), "Dumna", "Jabalpur", 99)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if got := lastQuery.Get("limit"); got != "10" {
		t.Errorf("limit = %q, want 10", got)
	}
	if got := lastQuery.Get("q"); got != "Dumna, Jabalpur" {
		t.Errorf("q = %q, want hint appended", got)
	}
	if len(suggestions) != 1 || suggestions[0].City != "Jabalpur" {
		t.Errorf("suggestions = %+v", suggestions)
	}
	if suggestions[0].Lat != 23.1778 || suggestions[0].Lng != 79.9865 {
		t.Errorf("coordinates swapped: %+v", suggestions[0])
	}
}

func TestSuggestDefaultsLimit(t *testing.T) {
	var lastQuery url.Values
	service := newSuggestTestService(t, &lastQuery)

	if _, err := service.Suggest(context.Background(), "Dumna Airport Jabalpur", "Jabalpur", 0); err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if got := lastQuery.Get("limit"); got != "5" {
		t.Errorf("limit = %q, want 5", got)
	}
	if got := lastQuery.Get("q"); got != "Dumna Airport Jabalpur" {
		t.Errorf("q = %q, hint should not repeat", got)
	}
}
