package export

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-distribution/internal/delivery"
	"github.com/odyssey-erp/odyssey-distribution/report"
)

func sampleNote() delivery.DeliveryNote {
	approved := time.Date(2025, 3, 4, 9, 30, 0, 0, time.UTC)
	return delivery.DeliveryNote{
		ID:         uuid.New(),
		DocNumber:  "DN-0007",
		SellerID:   "distributor",
		CustomerID: "shop",
		Status:     delivery.NoteStatusWarehouseApproved,
		Notes:      "leave at back door",
		ApprovedAt: &approved,
		Lines: []delivery.DeliveryNoteLine{
			{LineOrder: 1, ProductID: "SOAP", ProductName: "Soap bar", Quantity: 10, UnitPrice: 2.5},
			{LineOrder: 2, ProductID: "RICE", ProductName: "Rice 5kg", Quantity: 1.25, UnitPrice: 12},
		},
	}
}

func TestPackingListHTML(t *testing.T) {
	p, err := NewPackingList(nil)
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC) }

	html, err := p.HTML(sampleNote())
	require.NoError(t, err)
	assert.Contains(t, html, "PACKING LIST")
	assert.Contains(t, html, "DN-0007")
	assert.Contains(t, html, "March 4, 2025")
	assert.Contains(t, html, "1.25")
	assert.Contains(t, html, "40.00")
	assert.Contains(t, html, "leave at back door")
	assert.Contains(t, html, "Printed Mar 5, 2025 08:00")

	bulk := sampleNote()
	bulk.Lines = []delivery.DeliveryNoteLine{{LineOrder: 1, ProductID: "OIL", ProductName: "Oil 1L", Quantity: 1000, UnitPrice: 1234.5}}
	html, err = p.HTML(bulk)
	require.NoError(t, err)
	assert.Contains(t, html, "1,234.50")
	assert.Contains(t, html, "1,234,500.00")
}

func TestRenderNoteSendsHTMLToGotenberg(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forms/chromium/convert/html", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(10<<20))
		assert.Equal(t, "8.5", r.FormValue("paperWidth"))

		file, header, err := r.FormFile("files")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "packing-list-dn-0007.html", header.Filename)
		body, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Contains(t, string(body), "Soap bar")

		_, _ = w.Write([]byte("%PDF-mock"))
	}))
	defer srv.Close()

	p, err := NewPackingList(report.NewClient(srv.URL, srv.Client()))
	require.NoError(t, err)
	pdf, err := p.RenderNote(context.Background(), sampleNote())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-mock", string(pdf))
}

func TestRenderNoteReportsGotenbergFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chromium crashed", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewPackingList(report.NewClient(srv.URL, srv.Client()))
	require.NoError(t, err)
	_, err = p.RenderNote(context.Background(), sampleNote())
	require.ErrorContains(t, err, "gotenberg response 503: chromium crashed")

	var missing *PackingList
	_, err = missing.RenderNote(context.Background(), sampleNote())
	require.ErrorContains(t, err, "not initialized")
}
