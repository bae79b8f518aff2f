// Package config handles platform configuration
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr   string
	BridgeAddr string // websocket host bridge; empty selects the local bridge

	RenderRate      float64 // Hz, crop render loop target
	CaptureRate     float64 // Hz, screen grab rate feeding live streams
	PollInterval    time.Duration
	ChangeThreshold float64
	ReadyTimeout    time.Duration

	MinSelectionSize float64 // selector floor, both axes
	MoveEventsPerSec int     // pointer-move throttle toward the bridge

	PreviewWidth int // thumbnail width for capture notifications
}

func Load() *Config {
	return &Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8700"),
		BridgeAddr:       getEnv("BRIDGE_ADDR", ""),
		RenderRate:       getEnvFloat("RENDER_RATE", 60.0),
		CaptureRate:      getEnvFloat("CAPTURE_RATE", 30.0),
		PollInterval:     getEnvDuration("POLL_INTERVAL", 500*time.Millisecond),
		ChangeThreshold:  getEnvFloat("CHANGE_THRESHOLD", 0.95),
		ReadyTimeout:     getEnvDuration("READY_TIMEOUT", 5*time.Second),
		MinSelectionSize: getEnvFloat("MIN_SELECTION_SIZE", 100),
		MoveEventsPerSec: getEnvInt("MOVE_EVENTS_PER_SEC", 60),
		PreviewWidth:     getEnvInt("PREVIEW_WIDTH", 320),
	}
}

// RenderInterval returns the render loop tick period (~16ms at 60 Hz).
func (c *Config) RenderInterval() time.Duration {
	if c.RenderRate <= 0 {
		return 16 * time.Millisecond
	}
	return time.Duration(float64(time.Second) / c.RenderRate)
}

// CaptureInterval returns the screen grab period for live streams.
func (c *Config) CaptureInterval() time.Duration {
	if c.CaptureRate <= 0 {
		return 33 * time.Millisecond
	}
	return time.Duration(float64(time.Second) / c.CaptureRate)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
