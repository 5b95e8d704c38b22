package httpx

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProblemCarriesRFC7807Fields(t *testing.T) {
	rec := httptest.NewRecorder()
	Problem(rec, 422, "Validation Failed", "quantity_received exceeds ordered")

	require.Equal(t, 422, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	require.Contains(t, body, `"type":"about:blank"`)
	require.Contains(t, body, `"title":"Validation Failed"`)
	require.Contains(t, body, `"status":422`)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"amount":"10","amout":"99"}`))

	var payload struct {
		Amount string `json:"amount"`
	}
	require.Error(t, DecodeJSON(req, &payload))
}
