package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/mcclellann/groupLoan/pkg/collection"
	"github.com/mcclellann/groupLoan/pkg/config"
	"github.com/mcclellann/groupLoan/pkg/models"
	"github.com/mcclellann/groupLoan/pkg/report"
	"github.com/mcclellann/groupLoan/pkg/store/storetest"
	"github.com/shopspring/decimal"
)

func setupTestServer(t *testing.T, secret string) (*Server, *mux.Router) {
	t.Helper()
	cfg := &config.Config{DefaultTenure: 12, JWTSecret: secret}
	server := NewServer(storetest.New(t), cfg, storetest.Logger())
	return server, server.Router()
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
}

// seedGroup creates n members and a group holding them through the API.
func seedGroup(t *testing.T, router http.Handler, n int) models.MemberGroup {
	t.Helper()
	var ids []string
	for i := 0; i < n; i++ {
		rr := do(t, router, "POST", "/members", map[string]string{"full_name": fmt.Sprintf("Member %d", i+1), "place": "Salem"})
		if rr.Code != http.StatusCreated {
			t.Fatalf("Expected status 201 creating member, got %d: %s", rr.Code, rr.Body.String())
		}
		var m models.Member
		decodeBody(t, rr, &m)
		ids = append(ids, m.ID.String())
	}
	rr := do(t, router, "POST", "/groups", map[string]interface{}{"group_id": "G-1", "name": "Lotus", "place": "Salem", "member_ids": ids})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 creating group, got %d: %s", rr.Code, rr.Body.String())
	}
	var g models.MemberGroup
	decodeBody(t, rr, &g)
	return g
}

func createLoan(t *testing.T, router http.Handler, group models.MemberGroup, number string) models.Loan {
	t.Helper()
	rr := do(t, router, "POST", "/loans", map[string]interface{}{
		"loan_id":             number,
		"member_group_id":     group.ID,
		"loan_amount":         "12000",
		"loan_tenure":         12,
		"loan_start_date":     "2024-01-01T00:00:00Z",
		"repayment_frequency": "month",
		"emi_day":             "Monday",
		"assign_to":           "ST-1",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 creating loan, got %d: %s", rr.Code, rr.Body.String())
	}
	var l models.Loan
	decodeBody(t, rr, &l)
	return l
}

func TestAPI_LoanLifecycle(t *testing.T) {
	_, router := setupTestServer(t, "")
	group := seedGroup(t, router, 2)
	l := createLoan(t, router, group, "LN-100")

	if l.Status != models.LoanStatusDraft || l.CreatedBy != defaultActor {
		t.Errorf("Expected a Draft loan created by %s, got %s by %s", defaultActor, l.Status, l.CreatedBy)
	}

	rr := do(t, router, "POST", "/loans/"+l.ID.String()+"/approve", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 approving, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = do(t, router, "POST", "/loans/"+l.ID.String()+"/approve", nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 on second approval, got %d", rr.Code)
	}

	rr = do(t, router, "GET", "/loans/"+l.ID.String()+"/emis", nil)
	var emis []models.Emi
	decodeBody(t, rr, &emis)
	if len(emis) != 24 {
		t.Fatalf("Expected 24 EMIs, got %d", len(emis))
	}

	pay := map[string]interface{}{"emi_id": emis[0].ID, "amount": "1000"}
	rr = do(t, router, "POST", "/collections/payments", pay)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 paying, got %d: %s", rr.Code, rr.Body.String())
	}
	var receipt collection.Receipt
	decodeBody(t, rr, &receipt)
	if receipt.EmiStatus != models.EmiStatusPaid || !receipt.MemberPending.Equal(decimal.NewFromInt(11000)) {
		t.Errorf("Unexpected receipt: %+v", receipt)
	}
	if rr := do(t, router, "POST", "/collections/payments", pay); rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 paying twice, got %d", rr.Code)
	}

	rr = do(t, router, "GET", "/collections/"+l.ID.String(), nil)
	var view collection.LoanView
	decodeBody(t, rr, &view)
	if !view.LoanAmount.Equal(decimal.NewFromInt(24000)) || !view.CollectedAmount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Unexpected view amounts: loan %s collected %s", view.LoanAmount, view.CollectedAmount)
	}

	rr = do(t, router, "GET", "/loans/"+l.ID.String()+"/billing", nil)
	var entries []models.Billing
	decodeBody(t, rr, &entries)
	if len(entries) != 3 {
		t.Errorf("Expected 2 LOAN_AMOUNT and 1 PAYMENT entries, got %d", len(entries))
	}

	rr = do(t, router, "GET", "/reports/data?emi_day=Monday", nil)
	var data report.Data
	decodeBody(t, rr, &data)
	if data.LoansCount != 1 || !data.Metrics.TotalCollected.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Unexpected report: %d loans, collected %s", data.LoansCount, data.Metrics.TotalCollected)
	}

	rr = do(t, router, "GET", "/reports/export", nil)
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Errorf("Expected an xlsx download, got %d %s", rr.Code, rr.Header().Get("Content-Type"))
	}
}

func TestAPI_OverdueSweep(t *testing.T) {
	_, router := setupTestServer(t, "")
	group := seedGroup(t, router, 1)
	l := createLoan(t, router, group, "LN-200")
	do(t, router, "POST", "/loans/"+l.ID.String()+"/approve", nil)

	// Due dates run 2024-01-31 .. 2024-12-26; three are before 2024-04-01.
	rr := do(t, router, "POST", "/collections/overdue?as_of=2024-04-01", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var res map[string]int
	decodeBody(t, rr, &res)
	if res["updated"] != 3 {
		t.Errorf("Expected 3 EMIs marked overdue, got %d", res["updated"])
	}
}

func TestAPI_Errors(t *testing.T) {
	_, router := setupTestServer(t, "")

	tests := []struct {
		method, path string
		body         interface{}
		want         int
	}{
		{"GET", "/loans/not-a-uuid", nil, http.StatusBadRequest},
		{"GET", "/loans/7b3c6b0e-3f7e-4a57-9d1c-0d0c4f1f3a11", nil, http.StatusNotFound},
		{"POST", "/loans", map[string]interface{}{"loan_amount": "100"}, http.StatusBadRequest},
		{"POST", "/loans", map[string]interface{}{"loan_id": "LN-1", "loan_status": "Pending"}, http.StatusBadRequest},
		{"POST", "/groups", map[string]interface{}{"name": "G", "member_ids": 42}, http.StatusBadRequest},
		{"POST", "/collections/payments", map[string]interface{}{"emi_id": "7b3c6b0e-3f7e-4a57-9d1c-0d0c4f1f3a11", "amount": "0"}, http.StatusBadRequest},
		{"GET", "/reports/data?start_date=01-01-2024", nil, http.StatusBadRequest},
		{"GET", "/members?limit=-1", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		rr := do(t, router, tt.method, tt.path, tt.body)
		if rr.Code != tt.want {
			t.Errorf("%s %s: expected status %d, got %d: %s", tt.method, tt.path, tt.want, rr.Code, rr.Body.String())
		}
	}

	req := httptest.NewRequest("POST", "/members", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for malformed JSON, got %d", rr.Code)
	}
}

func TestAPI_Authentication(t *testing.T) {
	const secret = "test-secret"
	_, router := setupTestServer(t, secret)

	if rr := do(t, router, "GET", "/health", nil); rr.Code != http.StatusOK {
		t.Errorf("Expected /health to be public, got %d", rr.Code)
	}
	if rr := do(t, router, "GET", "/loans", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without a token, got %d", rr.Code)
	}

	sign := func(key string, exp time.Time) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "officer-7",
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		})
		s, err := token.SignedString([]byte(key))
		if err != nil {
			t.Fatalf("Failed to sign token: %v", err)
		}
		return "Bearer " + s
	}

	if rr := do(t, router, "GET", "/loans", nil, "Authorization", sign("wrong", time.Now().Add(time.Hour))); rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for a foreign signature, got %d", rr.Code)
	}
	if rr := do(t, router, "GET", "/loans", nil, "Authorization", sign(secret, time.Now().Add(-time.Hour))); rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for an expired token, got %d", rr.Code)
	}

	auth := sign(secret, time.Now().Add(time.Hour))
	rr := do(t, router, "POST", "/members", map[string]string{"full_name": "Kavya"}, "Authorization", auth)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var m models.Member
	decodeBody(t, rr, &m)
	if m.CreatedBy != "officer-7" {
		t.Errorf("Expected created_by from the token subject, got %q", m.CreatedBy)
	}
}

func TestAPI_ManualBillingAndScheduleDelete(t *testing.T) {
	_, router := setupTestServer(t, "")
	group := seedGroup(t, router, 1)
	draft := createLoan(t, router, group, "LN-300")
	l := createLoan(t, router, group, "LN-301")
	do(t, router, "POST", "/loans/"+l.ID.String()+"/approve", nil)

	var detail struct {
		Members []models.LoanMember `json:"members"`
	}
	decodeBody(t, do(t, router, "GET", "/loans/"+l.ID.String(), nil), &detail)
	if len(detail.Members) != 1 {
		t.Fatalf("Expected 1 member share, got %d", len(detail.Members))
	}
	memberID := detail.Members[0].MemberID

	entry := func(loanID interface{}, code string) map[string]interface{} {
		return map[string]interface{}{
			"loan_id":      loanID,
			"member_id":    memberID,
			"amount":       "500",
			"billing_code": code,
			"type":         "CREDIT",
			"description":  "Late fee",
		}
	}
	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"payment", entry(l.ID, "PAYMENT"), http.StatusBadRequest},
		{"loan amount", entry(l.ID, "LOAN_AMOUNT"), http.StatusBadRequest},
		{"unknown code", entry(l.ID, "BONUS"), http.StatusBadRequest},
		{"draft loan", entry(draft.ID, "OTHER_FEE"), http.StatusBadRequest},
		{"late fee", entry(l.ID, "OTHER_FEE"), http.StatusCreated},
	}
	for _, tt := range tests {
		if rr := do(t, router, "POST", "/billing", tt.body); rr.Code != tt.want {
			t.Errorf("%s: expected status %d, got %d: %s", tt.name, tt.want, rr.Code, rr.Body.String())
		}
	}

	// The share moves by exactly the amount paid.
	var emis []models.Emi
	decodeBody(t, do(t, router, "GET", "/loans/"+l.ID.String()+"/emis", nil), &emis)
	rr := do(t, router, "POST", "/collections/payments", map[string]interface{}{"emi_id": emis[0].ID, "amount": "1000"})
	var receipt collection.Receipt
	decodeBody(t, rr, &receipt)
	if !receipt.MemberCollected.Equal(decimal.NewFromInt(1000)) || !receipt.MemberPending.Equal(decimal.NewFromInt(11000)) {
		t.Errorf("Expected collected 1000 and pending 11000, got %s and %s", receipt.MemberCollected, receipt.MemberPending)
	}

	if rr := do(t, router, "DELETE", "/loans/"+l.ID.String()+"/emis", nil); rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 deleting a paid schedule, got %d", rr.Code)
	}
}
