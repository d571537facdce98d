// Package socios предоставляет клиент для внешнего реестра членов кооператива.
package socios

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// MemberStatus описывает итог проверки члена кооператива в реестре.
type MemberStatus int

const (
	// MemberStatusActive — член найден и активен.
	MemberStatusActive MemberStatus = iota
	// MemberStatusNotFound — реестр не знает такого члена.
	MemberStatusNotFound
	// MemberStatusInactive — член найден, но деактивирован.
	MemberStatusInactive
	// MemberStatusUnavailable — реестр недоступен, проверить не удалось.
	MemberStatusUnavailable
)

// Client инкапсулирует HTTP-взаимодействие с сервисом socios.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Member описывает ответ реестра по одному члену кооператива.
type Member struct {
	ID     string `json:"id"`
	Active bool   `json:"activo"`
}

// NewClient создаёт HTTP-клиент для обращения к реестру по указанному адресу.
// Клиент выполняет один запрос без повторов: политика повторов остаётся за вызывающим.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CheckMember запрашивает члена кооператива по идентификатору и возвращает
// семантический итог проверки. Сетевые сбои и таймауты не считаются ошибкой:
// они отражаются статусом MemberStatusUnavailable. Ошибка возвращается только
// при некорректном ответе реестра.
func (c *Client) CheckMember(ctx context.Context, memberID string) (MemberStatus, error) {
	if c == nil || c.baseURL == "" {
		return MemberStatusUnavailable, fmt.Errorf("socios client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := fmt.Sprintf("%s/api/socios/%s", base, memberID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return MemberStatusUnavailable, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Отказ соединения или таймаут: реестр недоступен.
		return MemberStatusUnavailable, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return MemberStatusNotFound, nil
	case resp.StatusCode != http.StatusOK:
		return MemberStatusUnavailable, nil
	}

	var member Member
	if err := json.NewDecoder(resp.Body).Decode(&member); err != nil {
		return MemberStatusUnavailable, fmt.Errorf("decode response: %w", err)
	}

	if !member.Active {
		return MemberStatusInactive, nil
	}

	return MemberStatusActive, nil
}
