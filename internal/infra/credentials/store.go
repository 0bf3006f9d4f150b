package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"mediarecon/internal/infra"
	"mediarecon/internal/sqlinline"
)

const (
	// ProviderGeneration is the integration_tokens row holding the generation
	// provider API key.
	ProviderGeneration = "generation_provider"
)

// Store reads and writes integration tokens from either backend.
type Store struct {
	sql  infra.SQLExecutor
	lite infra.SQLiteExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

func NewSQLiteStore(lite infra.SQLiteExecutor) *Store {
	return &Store{lite: lite}
}

// ProviderAPIKey returns the stored provider key, or "" when none is set.
func (s *Store) ProviderAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderGeneration)
}

func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	var row infra.RowScanner
	if s.lite != nil {
		row = s.lite.QueryRow(ctx, sqlinline.QLiteSelectIntegrationToken, provider)
	} else {
		row = s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	}
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) SetProviderAPIKey(ctx context.Context, key string, props map[string]any) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("provider api key is required")
	}
	return s.upsert(ctx, ProviderGeneration, key, props)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if s.lite != nil {
		_, err = s.lite.Exec(ctx, sqlinline.QLiteUpsertIntegrationToken, provider, token, string(raw))
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}
