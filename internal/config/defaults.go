package config

import (
	"github.com/knadh/koanf/v2"
)

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"server.host": "0.0.0.0",
		"server.port": 8080,

		"auth.jwt_expiry":     "24h",
		"auth.admin_username": "admin",

		"downloads.dir":                   "/data/downloads",
		"downloads.max_file_size":         int64(900 * 1024 * 1024),
		"downloads.compression_threshold": int64(200 * 1024 * 1024),

		"fetch.binary":            "yt-dlp",
		"fetch.default_quality":   "720",
		"fetch.progress_interval": "4s",
		"fetch.max_attempts":      1,
		"fetch.retry_backoff":     "2s",

		"transform.binary":        "ffmpeg",
		"transform.timeout":       "10m",
		"transform.crf":           "35",
		"transform.preset":        "ultrafast",
		"transform.audio_bitrate": "64k",

		"pipeline.workers": 2,

		"stats.max_connections": 5,

		"logging.level":  "info",
		"logging.format": "pretty",
	}

	for key, val := range defaults {
		k.Set(key, val)
	}
	return nil
}
