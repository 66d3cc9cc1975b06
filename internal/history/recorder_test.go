package history

import (
	"errors"
	"testing"

	"github.com/greese/imaginary-home-sub000/internal/infrastructure/config"
)

func TestConnectDisabled(t *testing.T) {
	_, err := Connect(config.HistoryConfig{Enabled: false}, nil)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("error = %v, want ErrDisabled", err)
	}
}

func TestConnectUnreachableServer(t *testing.T) {
	cfg := config.HistoryConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1", // nothing listens here
		Token:   "token",
		Org:     "org",
		Bucket:  "bucket",
	}
	if _, err := Connect(cfg, nil); err == nil {
		t.Error("expected a connection error for an unreachable server")
	}
}
