// Command codehub-crawler runs the repository statistics crawler.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and task endpoints. POST /api/v1/codehub/task
//     validates the user name and hands it to the orchestrator, which returns the task id immediately.
//   - Orchestrator: internal/orchestrator arms a task by enqueueing one repo-list unit; that unit fans out one
//     repo-detail unit per repository. Detail units persist stars/forks and count completions under a per-run
//     mutex; the last one marks the task done. Any failure marks it failed, and later successes never revert it.
//   - Queue: internal/queue/memory runs each unit in its own goroutine, optionally capped by queue.max_in_flight,
//     and tracks unit handles until the owning task is pruned.
//   - Persistence: SQLite (default), Postgres, or memory task stores; goose migrations are embedded.
//   - Remote: the bundled emulator (see the emulator subcommand) or the GitHub REST API.
//   - Events: when pubsub.topic_name is set, every terminal transition publishes a task event to Pub/Sub.
//
// Operational notes:
//   - serve re-enqueues tasks left pending by a previous process before accepting requests.
//   - SIGINT/SIGTERM stops the HTTP server, then waits up to queue.drain_timeout_seconds for in-flight units.
//   - Configuration comes from an optional YAML file (--config) and CODEHUB_* environment variables, e.g.
//     CODEHUB_STORAGE_DRIVER=postgres CODEHUB_STORAGE_POSTGRES_DSN=... CODEHUB_REMOTE_PROVIDER=github
//     CODEHUB_REMOTE_GITHUB_TOKEN=....
//
// Quick start:
//
//	codehub-crawler emulator &
//	codehub-crawler crawl linus
//	codehub-crawler serve --with-emulator
package main
