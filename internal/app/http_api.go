package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/service/admission"
	"github.com/vladislavdragonenkov/flashsale/internal/service/payment"
	"github.com/vladislavdragonenkov/flashsale/internal/service/token"
)

// userIDHeader проставляется шлюзом после аутентификации; сам сервис
// пользователей не аутентифицирует.
const userIDHeader = "X-User-ID"

// API — HTTP-слой сервиса допуска.
type API struct {
	admission *admission.Service
	tokens    *token.Service
	payments  *payment.Service
	logger    *log.Entry
}

// NewAPI создаёт HTTP API поверх сервисов допуска и оплаты.
func NewAPI(admissionSvc *admission.Service, tokens *token.Service, payments *payment.Service) *API {
	return &API{
		admission: admissionSvc,
		tokens:    tokens,
		payments:  payments,
		logger:    log.WithField("component", "http-api"),
	}
}

// Routes собирает маршруты API.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/activities/{activityID}/entries", a.handleCreateEntry)
	mux.HandleFunc("POST /api/v1/payments/prepare", a.handlePreparePayment)
	mux.HandleFunc("POST /api/v1/payments/confirm", a.handleConfirmPayment)
	return mux
}

type createEntryRequest struct {
	Quantity int32 `json:"quantity"`
}

type createEntryResponse struct {
	ReservationToken string `json:"reservation_token"`
	Order            int64  `json:"order"`
}

// handleCreateEntry — первая фаза: попытка занять слот и выпуск токена
// резервации.
func (a *API) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUserID(w, r)
	if !ok {
		return
	}
	activityID, err := strconv.ParseInt(r.PathValue("activityID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid activity id")
		return
	}

	var req createEntryRequest
	if r.Body != nil {
		// Тело опционально; пустое читается как значения по умолчанию.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	result, err := a.admission.Reserve(r.Context(), activityID, userID)
	if err != nil {
		a.writeReserveError(w, err)
		return
	}

	switch result.Outcome {
	case admission.OutcomeDuplicated:
		writeError(w, http.StatusConflict, "user already admitted to this activity")
		return
	case admission.OutcomeSoldOut:
		writeError(w, http.StatusGone, "activity slots are sold out")
		return
	case admission.OutcomeClosed:
		writeError(w, http.StatusGone, "activity is not accepting entries")
		return
	}

	reservationToken, err := a.tokens.IssueReservation(r.Context(), domain.ReservationTokenPayload{
		UserID:       userID,
		ActivityID:   activityID,
		ProductID:    result.Meta.ProductID,
		Quantity:     req.Quantity,
		CampaignType: result.Meta.CampaignType,
	})
	if err != nil {
		// Слот занят, а токен не выпущен: снимаем членство, чтобы клиент мог
		// повторить запрос.
		if rollbackErr := a.admission.RollbackReservation(r.Context(), activityID, userID); rollbackErr != nil {
			a.logger.WithError(rollbackErr).WithFields(log.Fields{
				"activity_id": activityID,
				"user_id":     userID,
			}).Error("failed to rollback reservation after token issue failure")
		}
		a.logger.WithError(err).Error("failed to issue reservation token")
		writeError(w, http.StatusInternalServerError, "failed to issue reservation token")
		return
	}

	writeJSON(w, http.StatusAccepted, createEntryResponse{
		ReservationToken: reservationToken,
		Order:            result.Order,
	})
}

func (a *API) writeReserveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrActivityNotFound):
		writeError(w, http.StatusNotFound, "activity not found")
	case errors.Is(err, domain.ErrValidationFailed):
		writeError(w, http.StatusForbidden, "eligibility requirements not met")
	case errors.Is(err, domain.ErrUserDataMissing):
		writeError(w, http.StatusForbidden, "user profile is not available for validation")
	default:
		a.logger.WithError(err).Error("reservation attempt failed")
		writeError(w, http.StatusInternalServerError, "reservation failed")
	}
}

type preparePaymentRequest struct {
	ReservationToken string `json:"reservation_token"`
}

type preparePaymentResponse struct {
	ApprovalToken string `json:"approval_token"`
}

// handlePreparePayment — обмен токена резервации на токен одобрения оплаты.
func (a *API) handlePreparePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUserID(w, r)
	if !ok {
		return
	}

	var req preparePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReservationToken == "" {
		writeError(w, http.StatusBadRequest, "reservation_token is required")
		return
	}

	approvalToken, err := a.payments.Prepare(r.Context(), req.ReservationToken, userID)
	if err != nil {
		a.writePaymentError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, preparePaymentResponse{ApprovalToken: approvalToken})
}

type confirmPaymentRequest struct {
	ApprovalToken string `json:"approval_token"`
}

// handleConfirmPayment — подтверждение оплаты и публикация команды финализации.
func (a *API) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUserID(w, r)
	if !ok {
		return
	}

	var req confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ApprovalToken == "" {
		writeError(w, http.StatusBadRequest, "approval_token is required")
		return
	}

	if err := a.payments.Confirm(r.Context(), req.ApprovalToken, userID); err != nil {
		a.writePaymentError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (a *API) writePaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTokenInvalid):
		writeError(w, http.StatusForbidden, "token is invalid or expired")
	case errors.Is(err, domain.ErrTokenOwnership):
		writeError(w, http.StatusForbidden, "token belongs to another user")
	case errors.Is(err, domain.ErrPublishUnavailable):
		writeError(w, http.StatusServiceUnavailable, "payment accepted, confirmation will be retried")
	default:
		a.logger.WithError(err).Error("payment operation failed")
		writeError(w, http.StatusInternalServerError, "payment operation failed")
	}
}

func (a *API) requireUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get(userIDHeader)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return 0, false
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "X-User-ID header is invalid")
		return 0, false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
