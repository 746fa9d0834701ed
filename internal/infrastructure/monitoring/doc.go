/*
Package monitoring provides Prometheus metrics for podfs.

# Metrics

  - podfs_channel_commands_total{verb,status} and command round trip histogram
  - podfs_channel_anomalies_total{kind}: malformed or unmatched result lines
  - podfs_channel_reconnects_total{outcome}
  - podfs_channels_active, podfs_channel_pending_calls
  - podfs_listing_cache_total{result}: read-ahead hits and misses
  - podfs_transfer_bytes_total, podfs_transfers_active, podfs_transfers_total{outcome}
  - podfs_streams_active{kind}, podfs_stream_emits_total{kind}
  - HTTP and WebSocket request metrics for the daemon

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "ls")
	// ... round trip ...
	timer.Stop("ok")

Metrics live on a private registry rather than the global default one.
*/
package monitoring
