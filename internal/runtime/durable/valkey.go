package durable

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"

	"github.com/prosescan/prosescan/internal/runtime/cache"
)

type ValkeyTLSConfig struct {
	Enabled bool
	CAFile  string
}

type ValkeyConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      ValkeyTLSConfig
}

type valkeyStore struct {
	client valkey.Client
}

// NewValkey connects to the configured valkey instance and verifies it with a
// ping before any scan traffic depends on it.
func NewValkey(cfg ValkeyConfig) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("durable: valkey address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("durable: read valkey ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("durable: valkey ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("durable: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("durable: valkey ping: %w", err)
	}

	return &valkeyStore{client: client}, nil
}

func (s *valkeyStore) Persist(ctx context.Context, key string, entry cache.Entry) error {
	if entry.ExpiresAt.IsZero() {
		return errors.New("durable: entry expiry required")
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("durable: marshal entry: %w", err)
	}
	cmd := s.client.B().Set().Key(key).Value(string(payload)).Px(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("durable: valkey set: %w", err)
	}
	return nil
}

func (s *valkeyStore) Fetch(ctx context.Context, key string) (cache.Entry, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return cache.Entry{}, false, nil
		}
		return cache.Entry{}, false, fmt.Errorf("durable: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("durable: valkey get bytes: %w", err)
	}
	var entry cache.Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return cache.Entry{}, false, fmt.Errorf("durable: valkey unmarshal: %w", err)
	}
	return entry, true, nil
}

func (s *valkeyStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
