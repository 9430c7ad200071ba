package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

const catalogRequestTimeout = 3 * time.Second

// HTTPCatalogClient читает метаданные активности из внутреннего API каталога.
// Запросы подписываются системным токеном межсервисного доступа.
type HTTPCatalogClient struct {
	baseURL     string
	systemToken string
	client      *http.Client
}

// NewHTTPCatalogClient создаёт клиент каталога кампаний.
func NewHTTPCatalogClient(baseURL, systemToken string) *HTTPCatalogClient {
	return &HTTPCatalogClient{
		baseURL:     baseURL,
		systemToken: systemToken,
		client:      &http.Client{Timeout: catalogRequestTimeout},
	}
}

// FetchActivity запрашивает снимок активности по внутреннему API.
func (c *HTTPCatalogClient) FetchActivity(ctx context.Context, activityID int64) (domain.ActivityMeta, error) {
	url := fmt.Sprintf("%s/internal/api/v1/activities/%d", c.baseURL, activityID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.ActivityMeta{}, fmt.Errorf("build catalog request: %w", err)
	}
	if c.systemToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.systemToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.ActivityMeta{}, fmt.Errorf("call catalog: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return domain.ActivityMeta{}, domain.ErrActivityNotFound
	default:
		return domain.ActivityMeta{}, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var meta domain.ActivityMeta
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return domain.ActivityMeta{}, fmt.Errorf("decode catalog response: %w", err)
	}

	return meta, nil
}

var _ CatalogClient = (*HTTPCatalogClient)(nil)
