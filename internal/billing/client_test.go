package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mmeshcher/storefront-system/internal/model"
)

func TestCreateInvoice_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/invoice" {
			t.Fatalf("path = %s, want /api/invoice", r.URL.Path)
		}

		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.UserID != 42 || req.Amount != 50000 || len(req.Groups) != 2 {
			t.Fatalf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(createResponse{InvoiceID: "X1"}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	inv, err := client.CreateInvoice(ctx, 42, []string{"group_a", "group_b"}, 50000)
	if err != nil {
		t.Fatalf("CreateInvoice error: %v", err)
	}
	if inv.ID != "X1" || inv.Amount != 50000 {
		t.Fatalf("unexpected invoice: %+v", inv)
	}
}

func TestCreateInvoice_BackendErrorTextPreserved(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient funds", http.StatusBadRequest)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.CreateInvoice(ctx, 1, []string{"group_a"}, 100)
	var ce *CreateError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CreateError, got %v", err)
	}
	if !strings.Contains(ce.Message, "insufficient funds") {
		t.Fatalf("message = %q, want backend text", ce.Message)
	}
}

func TestCreateInvoice_RejectsLooseResponseShapes(t *testing.T) {
	// варианты вида {"id": ...} или {"data":{"invoice_id": ...}} не принимаются
	shapes := []string{
		`{"id":"X1"}`,
		`{"invoice":"X1"}`,
		`{"data":{"invoice_id":"X1"}}`,
		`[]`,
	}

	for _, shape := range shapes {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(shape))
		}))

		client := NewClient(ts.URL)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)

		_, err := client.CreateInvoice(ctx, 1, []string{"group_a"}, 100)

		cancel()
		ts.Close()

		var ce *CreateError
		if !errors.As(err, &ce) {
			t.Fatalf("shape %s: expected CreateError, got %v", shape, err)
		}
	}
}

func TestStatus_Paid(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/invoice/X1/status" {
			t.Fatalf("path = %s, want /api/invoice/X1/status", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"PAID"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	status, ok := client.Status(ctx, "X1")
	if !ok || status != model.InvoiceStatusPaid {
		t.Fatalf("Status = (%s, %v), want (PAID, true)", status, ok)
	}
}

func TestStatus_TolerantOnFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if status, ok := client.Status(ctx, "X1"); ok {
		t.Fatalf("Status = (%s, true), want unknown signal", status)
	}
}

func TestStatus_UnknownValueIsNoOp(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"REFUNDED"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if status, ok := client.Status(ctx, "X1"); ok {
		t.Fatalf("Status = (%s, true), want unknown signal", status)
	}
}

func TestQRImageURL_CacheDefeatingToken(t *testing.T) {
	client := NewClient("shop.example.com")

	url := client.QRImageURL("X1", 50000)

	if !strings.HasPrefix(url, "http://shop.example.com/api/qr/X1.png?amount=50000&ts=") {
		t.Fatalf("unexpected url: %s", url)
	}
}

func TestFetchConfig_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/config" {
			t.Fatalf("path = %s, want /api/config", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price":25000,"groups":[{"id":"group_a","name":"Group A"}]}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := client.FetchConfig(ctx)
	if err != nil {
		t.Fatalf("FetchConfig error: %v", err)
	}
	if cfg.Price != 25000 || len(cfg.Groups) != 1 || cfg.Groups[0].ID != "group_a" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
