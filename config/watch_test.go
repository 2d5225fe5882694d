package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "env: test\nrisk:\n  dailyLimit: 100\n")

	updates := make(chan AppConfig, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = Watcher{Path: path, Cooldown: 10 * time.Millisecond}.Start(ctx, func(cfg AppConfig) {
			select {
			case updates <- cfg:
			default:
			}
		})
		close(done)
	}()
	time.Sleep(50 * time.Millisecond) // 等 watcher 建立

	if err := os.WriteFile(path, []byte("env: test\nrisk:\n  dailyLimit: 250000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-updates:
		if cfg.Risk.DailyLimit != 250000 {
			t.Fatalf("reloaded dailyLimit = %v", cfg.Risk.DailyLimit)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never delivered reload")
	}
	cancel()
	<-done
}

func TestWatcherIgnoresInvalidConfig(t *testing.T) {
	path := writeConfig(t, "env: test\n")

	updates := make(chan AppConfig, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = Watcher{Path: path, Cooldown: 10 * time.Millisecond}.Start(ctx, func(cfg AppConfig) {
			updates <- cfg
		})
	}()
	time.Sleep(50 * time.Millisecond)

	// 非法配置：保持旧配置，不回调
	if err := os.WriteFile(path, []byte("env: test\nrisk:\n  dailyLimit: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-updates:
		t.Fatalf("invalid config delivered: %+v", cfg.Risk)
	case <-time.After(300 * time.Millisecond):
	}
}
