// Command board-archiver keeps local copies of FoolFuuka imageboard threads.
//
// Architecture overview:
//   - Scheduler: internal/scheduler registers threads, polls them on a fixed delay and turns new
//     replies into image and thumbnail download items. Threads stop being polled once the archive
//     reports them archived or gone.
//   - Queue & workers: items wait in a time-ordered in-memory queue and are drained by a fixed
//     worker pool sized by archiver.workers. Per-board locks keep one board's updates serialized.
//   - Fetch pipeline: every request goes through the Colly fetcher with a per-host token bucket.
//     The FoolFuuka thread API is decoded by internal/fuuka; the HTML page is mirrored with goquery.
//   - Persistence & fanout: files land under <base_dir>/<board>/<thread_id>. Status events are
//     batched by the progress hub and sent to log, Prometheus, and optionally Postgres and Pub/Sub.
//   - Configuration & plumbing: Viper populates config from file and ARCHIVER_* env vars; cobra
//     flags override it. zap logs, Prometheus metrics on /metrics when the API server is enabled.
//
// Run locally: go run . archive --config config.yaml https://archive.example/a/thread/12345
package main

import "github.com/JakeFAU/board-archiver/cmd"

func main() {
	cmd.Execute()
}
