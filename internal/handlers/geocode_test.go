package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestGeocodeSuggestShortQueryReturnsEmptyList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest("POST", "/api/rides/geocode/suggest", strings.NewReader(`{"query":"Du","limit":5}`))
	c.Request.Header.Set("Content-Type", "application/json")

	GeocodeSuggest(nil, nil)(c)

	if recorder.Code != 200 {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if body := recorder.Body.String(); !strings.Contains(body, `"suggestions":[]`) {
		t.Errorf("body = %s, want empty suggestions", body)
	}
}
