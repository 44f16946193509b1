// Package cmd defines the CLI commands for the glossarizer executable.
//
// Architecture overview:
//   - Passes: the glossarize command runs one pass per configured portal. A
//     platform registry picks the adapter (Socrata, CKAN, ArcGIS Open Data,
//     file listing), the orchestrator walks the catalog listing, skips
//     resources whose listing signal matches the stored crawl state, and
//     fetches the rest with three attempts and exponential backoff. Broken
//     metadata is emitted degraded rather than dropped; a rate-limited
//     portal pauses the whole pass for its configured cooldown.
//   - Persistence & fanout: crawl state lives in the configured state store
//     (memory/sqlite/postgres). Descriptors stream into one JSONL catalog
//     per portal (local file or GCS object), staged and committed only
//     after a clean pass. A compact Pub/Sub event is published per pass
//     when a topic is configured. Progress events are batched through the
//     hub into zap logs, Prometheus metrics, and the status board.
//   - HTTP API: the serve command exposes internal/api.Server, a read-only
//     inspection surface: health and readiness probes, /metrics, the live
//     pass status board, and per-portal crawl state and pass history.
//     Nothing mutates over HTTP; passes start from the CLI.
//   - Configuration & plumbing: Viper populates config from a YAML file and
//     GLOSSARIZER_* env vars; zap provides structured logging; commands
//     receive their services through the root command's context.
//
// Operational notes:
//   - Concurrency model: portals crawl in parallel under one errgroup
//     bound (crawl.concurrency); within a portal, requests are serial
//     behind a per-portal token bucket (rate_limit/rate_burst). Headless
//     link resolution has its own semaphore inside the chromedp pager.
//   - Shutdown: SIGINT/SIGTERM cancels in-flight passes; pass bookkeeping
//     and catalog settlement run on detached deadlines so finished work
//     still lands. The serve command drains the HTTP server the same way.
//   - Observability: zap logs carry portal and pass IDs at key
//     transitions; Prometheus counters/histograms track HTTP and pass
//     activity; the status board keeps the latest pass per portal.
//
// Quick checklist:
//   - Configure portals in glossarizer.yaml (id, platform, endpoint) and
//     override knobs via env: GLOSSARIZER_STORE_BACKEND,
//     GLOSSARIZER_CRAWL_CONCURRENCY, GLOSSARIZER_CATALOG_DIR,
//     GLOSSARIZER_PUBSUB_PROJECT_ID, GLOSSARIZER_HEADLESS_ENABLED.
//   - Run a pass locally: go run . glossarize --config glossarizer.yaml
//     (add --portal to narrow the pass).
//   - Inspect state: go run . serve, then GET /v1/portals and
//     /v1/portals/{portal}/resources.
package cmd
