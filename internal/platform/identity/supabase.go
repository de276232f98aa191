package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SupabaseProvider creates users through the GoTrue admin API using the
// service role key.
type SupabaseProvider struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

func NewSupabaseProvider(baseURL, serviceKey string, client *http.Client) *SupabaseProvider {
	if !strings.HasPrefix(baseURL, "http") {
		baseURL = "https://" + baseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &SupabaseProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: client,
	}
}

type adminCreateUserRequest struct {
	Phone        string         `json:"phone"`
	Password     string         `json:"password"`
	PhoneConfirm bool           `json:"phone_confirm"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

type gotrueError struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code"`
	Msg       string `json:"msg"`
	Message   string `json:"message"`
}

func (e gotrueError) text() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Message
}

func (p *SupabaseProvider) CreateUser(ctx context.Context, u NewUser) (*User, error) {
	body, err := json.Marshal(adminCreateUserRequest{
		Phone:        u.Phone,
		Password:     u.Password,
		PhoneConfirm: true,
		UserMetadata: u.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal create user request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/auth/v1/admin/users", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build create user request: %w", err)
	}
	req.Header.Set("apikey", p.serviceKey)
	req.Header.Set("Authorization", "Bearer "+p.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create user request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read create user response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var ge gotrueError
		_ = json.Unmarshal(respBody, &ge)
		if ge.ErrorCode == "phone_exists" || strings.Contains(strings.ToLower(ge.text()), "already registered") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user failed with status %d: %s", resp.StatusCode, ge.text())
	}

	var user User
	if err := json.Unmarshal(respBody, &user); err != nil {
		return nil, fmt.Errorf("decode created user: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("create user response has no id")
	}
	return &user, nil
}
