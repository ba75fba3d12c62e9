package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadline/booking-engine/api"
	"github.com/roadline/booking-engine/booking"
	"github.com/roadline/booking-engine/booking/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)

type testServer struct {
	server *httptest.Server
	store  *store.TxMemory
}

// newTestServer runs the router over the memory store with one trip
// (trip-1 on bus-1, seats s1/s2, 100 per seat) and user u1 holding the
// given balance.
func newTestServer(t *testing.T, balance int64) *testServer {
	t.Helper()
	ctx := context.Background()
	mem := store.NewTxMemory()

	require.NoError(t, mem.SaveBus(ctx, booking.Bus{ID: "bus-1", Plate: "34-AB-123", Company: "Roadline", SeatCount: 2}))
	require.NoError(t, mem.SaveSeat(ctx, booking.Seat{ID: "s1", BusID: "bus-1", Row: 1, Column: 1, Number: "1A"}))
	require.NoError(t, mem.SaveSeat(ctx, booking.Seat{ID: "s2", BusID: "bus-1", Row: 1, Column: 2, Number: "1B"}))
	require.NoError(t, mem.SaveTrip(ctx, booking.Trip{
		ID:            "trip-1",
		BusID:         "bus-1",
		DepartureCity: "Istanbul",
		ArrivalCity:   "Ankara",
		DepartureAt:   testNow.Add(24 * time.Hour),
		ArrivalAt:     testNow.Add(29 * time.Hour),
		Price:         booking.NewMoneyFromInt(100),
		Status:        booking.TripActive,
	}))
	require.NoError(t, mem.SaveUser(ctx, booking.User{
		ID:            "u1",
		Name:          "Ada",
		Email:         "ada@example.com",
		CreditBalance: booking.NewMoneyFromInt(balance),
		Active:        true,
		CreatedAt:     testNow,
	}))

	engine := booking.NewEngine(mem, booking.FixedClock{At: testNow}, booking.DefaultLimits())
	handler := api.NewHandler(mem, engine, nil)
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)

	return &testServer{server: srv, store: mem}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func purchaseBody(seats ...string) map[string]any {
	names := make([]string, len(seats))
	for i := range names {
		names[i] = fmt.Sprintf("Passenger %d", i+1)
	}
	return map[string]any{
		"user_id":         "u1",
		"trip_id":         "trip-1",
		"seat_ids":        seats,
		"passenger_names": names,
	}
}

// =============================================================================
// TICKETS
// =============================================================================

func TestAPI_PurchaseTicket(t *testing.T) {
	ts := newTestServer(t, 250)

	resp, body := ts.do(t, http.MethodPost, "/api/tickets", purchaseBody("s1", "s2"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var out struct {
		Ticket struct {
			ID         string `json:"id"`
			Status     string `json:"status"`
			FinalPrice string `json:"final_price"`
		} `json:"ticket"`
		NewBalance string `json:"new_balance"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "active", out.Ticket.Status)
	assert.Equal(t, "200.00", out.Ticket.FinalPrice)
	assert.Equal(t, "50.00", out.NewBalance)
}

func TestAPI_Purchase_SeatConflict_409WithSeats(t *testing.T) {
	ts := newTestServer(t, 500)

	resp, _ := ts.do(t, http.MethodPost, "/api/tickets", purchaseBody("s1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/api/tickets", purchaseBody("s1"))
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var out struct {
		Code    string `json:"code"`
		Details struct {
			Seats []string `json:"seats"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "seat_conflict", out.Code)
	assert.Equal(t, []string{"s1"}, out.Details.Seats)
}

func TestAPI_Purchase_InsufficientFunds_402(t *testing.T) {
	ts := newTestServer(t, 50)

	resp, _ := ts.do(t, http.MethodPost, "/api/tickets", purchaseBody("s1"))
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestAPI_Purchase_UnknownTrip_404(t *testing.T) {
	ts := newTestServer(t, 500)

	body := purchaseBody("s1")
	body["trip_id"] = "trip-404"
	resp, _ := ts.do(t, http.MethodPost, "/api/tickets", body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Purchase_NoSeats_400(t *testing.T) {
	ts := newTestServer(t, 500)

	resp, _ := ts.do(t, http.MethodPost, "/api/tickets", purchaseBody())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CancelTicket(t *testing.T) {
	ts := newTestServer(t, 250)

	resp, body := ts.do(t, http.MethodPost, "/api/tickets", purchaseBody("s1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Ticket struct {
			ID string `json:"id"`
		} `json:"ticket"`
	}
	require.NoError(t, json.Unmarshal(body, &created))

	resp, body = ts.do(t, http.MethodPost, "/api/tickets/"+created.Ticket.ID+"/cancel",
		map[string]any{"user_id": "u1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out struct {
		Refund     string `json:"refund"`
		NewBalance string `json:"new_balance"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "100.00", out.Refund)
	assert.Equal(t, "250.00", out.NewBalance)
}

func TestAPI_Cancel_InsideCutoff_409(t *testing.T) {
	ts := newTestServer(t, 250)
	ctx := context.Background()

	resp, body := ts.do(t, http.MethodPost, "/api/tickets", purchaseBody("s1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Ticket struct {
			ID string `json:"id"`
		} `json:"ticket"`
	}
	require.NoError(t, json.Unmarshal(body, &created))

	trip, err := ts.store.GetTrip(ctx, "trip-1")
	require.NoError(t, err)
	trip.DepartureAt = testNow.Add(20 * time.Minute)
	require.NoError(t, ts.store.SaveTrip(ctx, *trip))

	resp, _ = ts.do(t, http.MethodPost, "/api/tickets/"+created.Ticket.ID+"/cancel",
		map[string]any{"user_id": "u1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_Cancel_SomeoneElsesTicket_404(t *testing.T) {
	ts := newTestServer(t, 250)

	resp, body := ts.do(t, http.MethodPost, "/api/tickets", purchaseBody("s1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Ticket struct {
			ID string `json:"id"`
		} `json:"ticket"`
	}
	require.NoError(t, json.Unmarshal(body, &created))

	resp, _ = ts.do(t, http.MethodPost, "/api/tickets/"+created.Ticket.ID+"/cancel",
		map[string]any{"user_id": "someone-else"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ListTickets_IncludesSeatsAndPassengers(t *testing.T) {
	ts := newTestServer(t, 250)

	resp, _ := ts.do(t, http.MethodPost, "/api/tickets", purchaseBody("s1", "s2"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, "/api/users/u1/tickets", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tickets []struct {
		Seats []struct {
			SeatID        string `json:"seat_id"`
			PassengerName string `json:"passenger_name"`
		} `json:"seats"`
	}
	require.NoError(t, json.Unmarshal(body, &tickets))
	require.Len(t, tickets, 1)
	require.Len(t, tickets[0].Seats, 2)
	assert.Equal(t, "Passenger 1", tickets[0].Seats[0].PassengerName)
}

// =============================================================================
// USERS AND CREDIT
// =============================================================================

func TestAPI_BalanceAndTopUp(t *testing.T) {
	ts := newTestServer(t, 30)

	resp, body := ts.do(t, http.MethodGet, "/api/users/u1/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bal struct {
		Balance string `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(body, &bal))
	assert.Equal(t, "30.00", bal.Balance)

	resp, body = ts.do(t, http.MethodPost, "/api/users/u1/topup",
		map[string]any{"amount": "120", "method": "CreditCard"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &bal))
	assert.Equal(t, "150.00", bal.Balance)

	resp, _ = ts.do(t, http.MethodPost, "/api/users/u1/topup",
		map[string]any{"amount": "120", "method": "Cash"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/users/u1/topup",
		map[string]any{"amount": "nonsense", "method": "CreditCard"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Balance_MissingUser_404(t *testing.T) {
	ts := newTestServer(t, 0)

	resp, _ := ts.do(t, http.MethodGet, "/api/users/ghost/balance", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_PaymentHistory(t *testing.T) {
	ts := newTestServer(t, 250)

	resp, _ := ts.do(t, http.MethodPost, "/api/users/u1/topup",
		map[string]any{"amount": "50", "method": "BankTransfer"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/api/tickets", purchaseBody("s1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, "/api/users/u1/payments", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payments []struct {
		Type   string `json:"type"`
		Amount string `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(body, &payments))
	require.Len(t, payments, 2)
	assert.Equal(t, "topup", payments[0].Type)
	assert.Equal(t, "purchase", payments[1].Type)
}

func TestAPI_CreateUser(t *testing.T) {
	ts := newTestServer(t, 0)

	resp, body := ts.do(t, http.MethodPost, "/api/users",
		map[string]any{"name": "Grace", "email": "grace@example.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.NotEmpty(t, out.ID)

	resp, _ = ts.do(t, http.MethodPost, "/api/users", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// TRIPS, COUPONS, FLEET
// =============================================================================

func TestAPI_TripSeatMap(t *testing.T) {
	ts := newTestServer(t, 250)

	resp, _ := ts.do(t, http.MethodPost, "/api/tickets", purchaseBody("s2"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, "/api/trips/trip-1/seats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var seats []struct {
		ID    string `json:"id"`
		Taken bool   `json:"taken"`
	}
	require.NoError(t, json.Unmarshal(body, &seats))
	require.Len(t, seats, 2)
	for _, s := range seats {
		assert.Equal(t, s.ID == "s2", s.Taken, "seat %s", s.ID)
	}
}

func TestAPI_CouponLifecycle(t *testing.T) {
	ts := newTestServer(t, 100)

	resp, _ := ts.do(t, http.MethodPost, "/api/coupons", map[string]any{
		"code":          "SAVE10",
		"discount_rate": "10",
		"usage_limit":   5,
		"expires_at":    testNow.Add(48 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Not granted yet: preview reports invalid without erroring
	resp, body := ts.do(t, http.MethodGet, "/api/coupons/validate?user_id=u1&code=SAVE10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var quote struct {
		Valid        bool   `json:"valid"`
		DiscountRate string `json:"discount_rate"`
	}
	require.NoError(t, json.Unmarshal(body, &quote))
	assert.False(t, quote.Valid)

	resp, _ = ts.do(t, http.MethodPost, "/api/coupons/grants",
		map[string]any{"user_id": "u1", "coupon_code": "SAVE10"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/coupons/validate?user_id=u1&code=SAVE10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &quote))
	assert.True(t, quote.Valid)
	assert.Equal(t, "10", quote.DiscountRate)

	// 100 seat price, 10% off, balance exactly covers it
	reqBody := purchaseBody("s1")
	reqBody["coupon_code"] = "SAVE10"
	resp, body = ts.do(t, http.MethodPost, "/api/tickets", reqBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var out struct {
		Ticket struct {
			FinalPrice string `json:"final_price"`
		} `json:"ticket"`
		NewBalance string `json:"new_balance"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "90.00", out.Ticket.FinalPrice)
	assert.Equal(t, "10.00", out.NewBalance)
}

func TestAPI_CreateBus_GeneratesSeatGrid(t *testing.T) {
	ts := newTestServer(t, 0)
	ctx := context.Background()

	resp, body := ts.do(t, http.MethodPost, "/api/buses", map[string]any{
		"id":            "bus-2",
		"plate":         "06-ZZ-042",
		"company":       "Roadline",
		"rows":          3,
		"seats_per_row": 2,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	seats, err := ts.store.SeatsByBus(ctx, "bus-2")
	require.NoError(t, err)
	require.Len(t, seats, 6)
	numbers := make(map[string]bool)
	for _, s := range seats {
		numbers[s.Number] = true
	}
	assert.True(t, numbers["1A"])
	assert.True(t, numbers["3B"])
}

func TestAPI_CreateCoupon_RejectsBadRate(t *testing.T) {
	ts := newTestServer(t, 0)

	resp, _ := ts.do(t, http.MethodPost, "/api/coupons", map[string]any{
		"code":          "TOOBIG",
		"discount_rate": decimal.NewFromInt(150).String(),
		"expires_at":    testNow.Add(time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
