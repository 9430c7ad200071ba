package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/service/admission"
	"github.com/vladislavdragonenkov/flashsale/internal/service/payment"
	"github.com/vladislavdragonenkov/flashsale/internal/service/token"
	"github.com/vladislavdragonenkov/flashsale/internal/storage/memory"
)

type staticMetaProvider struct {
	meta domain.ActivityMeta
}

func (p *staticMetaProvider) Get(context.Context, int64) (domain.ActivityMeta, error) {
	return p.meta, nil
}

type apiFixture struct {
	mux      *http.ServeMux
	loopback *LoopbackPublisher

	mu        sync.Mutex
	finalized []domain.CampaignCommand
}

func newAPIFixture(t *testing.T, limit int64) *apiFixture {
	t.Helper()

	kv := memory.NewKeyValueStore()
	tokens, err := token.NewService(kv, token.Config{Secret: []byte("secret")}, nil)
	require.NoError(t, err)

	meta := &staticMetaProvider{meta: domain.ActivityMeta{
		ID:           7,
		LimitCount:   limit,
		Status:       domain.ActivityStatusActive,
		ProductID:    3,
		CampaignType: domain.CampaignTypePurchase,
	}}
	admissionSvc := admission.NewService(memory.NewAdmissionStore(), meta, nil, nil, nil)

	fixture := &apiFixture{loopback: NewLoopbackPublisher()}
	fixture.loopback.SetHandler(func(_ context.Context, cmd domain.CampaignCommand) error {
		fixture.mu.Lock()
		defer fixture.mu.Unlock()
		fixture.finalized = append(fixture.finalized, cmd)
		return nil
	})

	paymentSvc := payment.NewService(tokens, fixture.loopback, nil)
	fixture.mux = NewAPI(admissionSvc, tokens, paymentSvc).Routes()
	return fixture
}

func (f *apiFixture) do(method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	recorder := httptest.NewRecorder()
	f.mux.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
	return body
}

func TestCreateEntryFullFlow(t *testing.T) {
	fixture := newAPIFixture(t, 10)

	resp := fixture.do(http.MethodPost, "/api/v1/activities/7/entries", "42", `{"quantity":2}`)
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())
	entry := decodeBody(t, resp)
	reservation, _ := entry["reservation_token"].(string)
	require.NotEmpty(t, reservation, "reservation token missing in response")
	require.EqualValues(t, 1, entry["order"])

	resp = fixture.do(http.MethodPost, "/api/v1/payments/prepare", "42", `{"reservation_token":"`+reservation+`"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	approval, _ := decodeBody(t, resp)["approval_token"].(string)
	require.NotEmpty(t, approval, "approval token missing in response")

	resp = fixture.do(http.MethodPost, "/api/v1/payments/confirm", "42", `{"approval_token":"`+approval+`"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	fixture.mu.Lock()
	defer fixture.mu.Unlock()
	require.Len(t, fixture.finalized, 1)
	cmd := fixture.finalized[0]
	require.EqualValues(t, 7, cmd.ActivityID)
	require.EqualValues(t, 42, cmd.UserID)
	require.EqualValues(t, 2, cmd.Quantity)
}

func TestCreateEntryStatusMapping(t *testing.T) {
	fixture := newAPIFixture(t, 1)

	// Первый пользователь занимает единственный слот.
	resp := fixture.do(http.MethodPost, "/api/v1/activities/7/entries", "42", "")
	require.Equal(t, http.StatusAccepted, resp.Code)

	// Дубликат.
	resp = fixture.do(http.MethodPost, "/api/v1/activities/7/entries", "42", "")
	require.Equal(t, http.StatusConflict, resp.Code)

	// Распроданность.
	resp = fixture.do(http.MethodPost, "/api/v1/activities/7/entries", "43", "")
	require.Equal(t, http.StatusGone, resp.Code)
}

func TestCreateEntryBadInput(t *testing.T) {
	fixture := newAPIFixture(t, 10)

	resp := fixture.do(http.MethodPost, "/api/v1/activities/7/entries", "", "")
	require.Equal(t, http.StatusBadRequest, resp.Code, "missing user header")

	resp = fixture.do(http.MethodPost, "/api/v1/activities/7/entries", "not-a-number", "")
	require.Equal(t, http.StatusBadRequest, resp.Code, "bad user header")

	resp = fixture.do(http.MethodPost, "/api/v1/activities/abc/entries", "42", "")
	require.Equal(t, http.StatusBadRequest, resp.Code, "bad activity id")
}

func TestPaymentTokenErrors(t *testing.T) {
	fixture := newAPIFixture(t, 10)

	resp := fixture.do(http.MethodPost, "/api/v1/activities/7/entries", "42", "")
	require.Equal(t, http.StatusAccepted, resp.Code)
	reservation, _ := decodeBody(t, resp)["reservation_token"].(string)

	// Чужой пользователь предъявляет токен.
	resp = fixture.do(http.MethodPost, "/api/v1/payments/prepare", "99", `{"reservation_token":"`+reservation+`"}`)
	require.Equal(t, http.StatusForbidden, resp.Code)

	// Выдуманный approval токен.
	resp = fixture.do(http.MethodPost, "/api/v1/payments/confirm", "42", `{"approval_token":"42:7"}`)
	require.Equal(t, http.StatusForbidden, resp.Code)

	// Пустые тела.
	resp = fixture.do(http.MethodPost, "/api/v1/payments/prepare", "42", `{}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	resp = fixture.do(http.MethodPost, "/api/v1/payments/confirm", "42", `{}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestConfirmWithoutBrokerReturnsServiceUnavailable(t *testing.T) {
	fixture := newAPIFixture(t, 10)
	// Обработчик не подключён: publish невозможен.
	fixture.loopback.SetHandler(nil)

	resp := fixture.do(http.MethodPost, "/api/v1/activities/7/entries", "42", "")
	reservation, _ := decodeBody(t, resp)["reservation_token"].(string)

	resp = fixture.do(http.MethodPost, "/api/v1/payments/prepare", "42", `{"reservation_token":"`+reservation+`"}`)
	approval, _ := decodeBody(t, resp)["approval_token"].(string)

	resp = fixture.do(http.MethodPost, "/api/v1/payments/confirm", "42", `{"approval_token":"`+approval+`"}`)
	require.Equal(t, http.StatusServiceUnavailable, resp.Code, resp.Body.String())
}
