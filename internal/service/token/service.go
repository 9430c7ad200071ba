package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/metrics"
)

// Префиксы ключей токенов в общем кэше.
const (
	ReservationKeyPrefix = "RESERVATION_TOKEN:"
	ApprovalKeyPrefix    = "PAYMENT_APPROVED_TOKEN:"
)

const (
	defaultReservationTTL = 5 * time.Minute
	defaultApprovalTTL    = 30 * time.Minute
)

// Config задаёт параметры сервиса токенов.
type Config struct {
	// Secret — ключ подписи HMAC-SHA256. Обязателен.
	Secret []byte
	// ReservationTTL — время жизни токена первой фазы.
	ReservationTTL time.Duration
	// ApprovalTTL — время жизни токена второй фазы.
	ApprovalTTL time.Duration
}

// Service выпускает, проверяет и гасит токены двухфазного протокола.
// Токен резервации детерминирован по паре (userID, activityID): повторный
// выпуск для той же пары даёт ту же строку, поэтому ретраи клиента не
// плодят висячие ключи.
type Service struct {
	store          domain.KeyValueStore
	secret         []byte
	reservationTTL time.Duration
	approvalTTL    time.Duration
	metrics        *metrics.CampaignMetrics
	logger         *log.Entry
}

// NewService создаёт сервис токенов.
func NewService(store domain.KeyValueStore, cfg Config, campaignMetrics *metrics.CampaignMetrics) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("token secret is required")
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = defaultReservationTTL
	}
	if cfg.ApprovalTTL <= 0 {
		cfg.ApprovalTTL = defaultApprovalTTL
	}

	return &Service{
		store:          store,
		secret:         cfg.Secret,
		reservationTTL: cfg.ReservationTTL,
		approvalTTL:    cfg.ApprovalTTL,
		metrics:        campaignMetrics,
		logger:         log.WithField("component", "token-service"),
	}, nil
}

// IssueReservation выпускает токен первой фазы и сохраняет payload под
// ключом RESERVATION_TOKEN:<token> с TTL резервации.
func (s *Service) IssueReservation(ctx context.Context, payload domain.ReservationTokenPayload) (string, error) {
	token := s.buildToken(payload.UserID, payload.ActivityID)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal reservation payload: %w", err)
	}

	if err := s.store.Set(ctx, ReservationKeyPrefix+token, body, s.reservationTTL); err != nil {
		return "", fmt.Errorf("store reservation token: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordTokenIssued()
	}
	return token, nil
}

// ValidateReservation проверяет токен без гашения: подпись, наличие ключа
// в кэше и принадлежность предъявителю.
func (s *Service) ValidateReservation(ctx context.Context, token string, userID int64) (domain.ReservationTokenPayload, error) {
	if err := s.verifySignature(token, userID); err != nil {
		s.rejected()
		return domain.ReservationTokenPayload{}, err
	}

	raw, ok, err := s.store.Get(ctx, ReservationKeyPrefix+token)
	if err != nil {
		return domain.ReservationTokenPayload{}, fmt.Errorf("load reservation token: %w", err)
	}
	if !ok {
		s.rejected()
		return domain.ReservationTokenPayload{}, domain.ErrTokenInvalid
	}

	return s.decodeReservation(raw, userID)
}

// ConsumeReservation гасит токен первой фазы: ровно один из конкурирующих
// вызовов получает payload, остальные — ErrTokenInvalid.
func (s *Service) ConsumeReservation(ctx context.Context, token string, userID int64) (domain.ReservationTokenPayload, error) {
	if err := s.verifySignature(token, userID); err != nil {
		s.rejected()
		return domain.ReservationTokenPayload{}, err
	}

	raw, ok, err := s.store.GetDel(ctx, ReservationKeyPrefix+token)
	if err != nil {
		return domain.ReservationTokenPayload{}, fmt.Errorf("consume reservation token: %w", err)
	}
	if !ok {
		s.rejected()
		return domain.ReservationTokenPayload{}, domain.ErrTokenInvalid
	}

	payload, err := s.decodeReservation(raw, userID)
	if err != nil {
		return domain.ReservationTokenPayload{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordTokenConfirmed()
	}
	return payload, nil
}

// IssueApproval выпускает токен второй фазы "<userID>:<activityID>" и
// сохраняет payload под ключом PAYMENT_APPROVED_TOKEN:<token>.
func (s *Service) IssueApproval(ctx context.Context, payload domain.PaymentApprovalPayload) (string, error) {
	token := fmt.Sprintf("%d:%d", payload.UserID, payload.ActivityID)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal approval payload: %w", err)
	}

	if err := s.store.Set(ctx, ApprovalKeyPrefix+token, body, s.approvalTTL); err != nil {
		return "", fmt.Errorf("store approval token: %w", err)
	}

	return token, nil
}

// RefreshApproval продлевает TTL токена второй фазы, пока клиент держит
// сессию оплаты открытой.
func (s *Service) RefreshApproval(ctx context.Context, token string) error {
	return s.store.Refresh(ctx, ApprovalKeyPrefix+token, s.approvalTTL)
}

// ConsumeApproval гасит токен второй фазы с проверкой принадлежности.
func (s *Service) ConsumeApproval(ctx context.Context, token string, userID int64) (domain.PaymentApprovalPayload, error) {
	ownerPart, _, found := strings.Cut(token, ":")
	if !found {
		s.rejected()
		return domain.PaymentApprovalPayload{}, domain.ErrTokenInvalid
	}
	owner, err := strconv.ParseInt(ownerPart, 10, 64)
	if err != nil {
		s.rejected()
		return domain.PaymentApprovalPayload{}, domain.ErrTokenInvalid
	}
	if owner != userID {
		s.rejected()
		return domain.PaymentApprovalPayload{}, domain.ErrTokenOwnership
	}

	raw, ok, err := s.store.GetDel(ctx, ApprovalKeyPrefix+token)
	if err != nil {
		return domain.PaymentApprovalPayload{}, fmt.Errorf("consume approval token: %w", err)
	}
	if !ok {
		s.rejected()
		return domain.PaymentApprovalPayload{}, domain.ErrTokenInvalid
	}

	var payload domain.PaymentApprovalPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.PaymentApprovalPayload{}, fmt.Errorf("decode approval payload: %w", err)
	}
	if payload.UserID != userID {
		s.rejected()
		return domain.PaymentApprovalPayload{}, domain.ErrTokenOwnership
	}

	return payload, nil
}

// CleanupReservation удаляет ключ резервации после финализации оплаты.
func (s *Service) CleanupReservation(ctx context.Context, token string) error {
	return s.store.Delete(ctx, ReservationKeyPrefix+token)
}

// buildToken собирает детерминированный токен: base64url от
// "userID:activityID:hex(hmac)".
func (s *Service) buildToken(userID, activityID int64) string {
	raw := fmt.Sprintf("%d:%d:%s", userID, activityID, s.sign(userID, activityID))
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func (s *Service) sign(userID, activityID int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%d:%d", userID, activityID)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature проверяет структуру токена, подпись и владельца ещё до
// похода в кэш: подделанный токен отбивается локально.
func (s *Service) verifySignature(token string, userID int64) error {
	ids, err := ParseToken(token)
	if err != nil {
		return err
	}
	if ids.UserID != userID {
		return domain.ErrTokenOwnership
	}

	expected := s.sign(ids.UserID, ids.ActivityID)
	if !hmac.Equal([]byte(expected), []byte(ids.Signature)) {
		return domain.ErrTokenInvalid
	}
	return nil
}

func (s *Service) decodeReservation(raw []byte, userID int64) (domain.ReservationTokenPayload, error) {
	var payload domain.ReservationTokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.ReservationTokenPayload{}, fmt.Errorf("decode reservation payload: %w", err)
	}
	if payload.UserID != userID {
		s.rejected()
		return domain.ReservationTokenPayload{}, domain.ErrTokenOwnership
	}
	return payload, nil
}

func (s *Service) rejected() {
	if s.metrics != nil {
		s.metrics.RecordTokenRejected()
	}
}

// TokenIdentity — разобранные составные части токена резервации.
type TokenIdentity struct {
	UserID     int64
	ActivityID int64
	Signature  string
}

// ParseToken разбирает токен резервации без проверки подписи. Используется
// и сервисом, и слушателем истечения ключей, которому подпись не нужна.
func ParseToken(token string) (TokenIdentity, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return TokenIdentity{}, domain.ErrTokenInvalid
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 3 {
		return TokenIdentity{}, domain.ErrTokenInvalid
	}

	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return TokenIdentity{}, domain.ErrTokenInvalid
	}
	activityID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return TokenIdentity{}, domain.ErrTokenInvalid
	}

	return TokenIdentity{UserID: userID, ActivityID: activityID, Signature: parts[2]}, nil
}
