// Package backend opens the store named by the store_url setting.
package backend

import (
	"context"
	"fmt"
	"net/url"

	"github.com/C4T-BuT-S4D/hashchat/internal/config"
	"github.com/C4T-BuT-S4D/hashchat/internal/remote"
	"github.com/C4T-BuT-S4D/hashchat/internal/storage"
	"github.com/C4T-BuT-S4D/hashchat/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Kind string

const (
	KindRemote   Kind = "remote"
	KindPostgres Kind = "postgres"
	KindMemory   Kind = "memory"
)

// KindOf maps a store URL scheme to the backend serving it.
func KindOf(storeURL string) (Kind, error) {
	u, err := url.Parse(storeURL)
	if err != nil {
		return "", fmt.Errorf("parsing store url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return KindRemote, nil
	case "postgres", "postgresql":
		return KindPostgres, nil
	case "memory":
		return KindMemory, nil
	default:
		return "", fmt.Errorf("unsupported store url scheme %q", u.Scheme)
	}
}

// Open connects to the configured store. The returned function releases it.
func Open(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	kind, err := KindOf(cfg.StoreURL)
	if err != nil {
		return nil, nil, err
	}

	logrus.Infof("using %s store", kind)

	switch kind {
	case KindRemote:
		client, err := remote.New(cfg.StoreURL, cfg.StoreAnonKey, cfg.RequestTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("creating remote client: %w", err)
		}
		return client, closer("remote", client.Close), nil

	case KindPostgres:
		db, err := gorm.Open(postgres.Open(cfg.StoreURL), &gorm.Config{TranslateError: true})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		st := storage.New(db)
		if err := st.Migrate(ctx); err != nil {
			return nil, nil, fmt.Errorf("migrating database: %w", err)
		}
		if err := st.SeedDefaults(ctx, cfg.DefaultChannel); err != nil {
			return nil, nil, fmt.Errorf("seeding database: %w", err)
		}
		return st, closer("postgres", st.Close), nil

	default:
		mem, err := store.NewSeededMemory(ctx, cfg.DefaultChannel)
		if err != nil {
			return nil, nil, fmt.Errorf("creating memory store: %w", err)
		}
		return mem, func() {}, nil
	}
}

func closer(name string, closeFn func() error) func() {
	return func() {
		if err := closeFn(); err != nil {
			logrus.Errorf("closing %s store: %v", name, err)
		}
	}
}
