// Package batch runs one resolve-then-download pipeline per item with
// bounded concurrency.
//
// Example usage:
//
//	registry := tempfile.NewRegistry()
//	dl, _ := downloader.New(httpClient, registry, downloader.DefaultOptions())
//	orch, _ := batch.New(batch.Config{
//		Resolver:   resolver.NewBilibili(httpClient, resolver.DefaultOptions()),
//		Downloader: dl,
//		Gate:       gate.New(50),
//		Registry:   registry,
//	})
//	report, err := orch.Run(ctx, items)
//
// The orchestrator:
//   - Starts a goroutine per item and admits at most gate capacity at once
//   - Recovers panics inside a pipeline and records them as failures
//   - Keeps Report.Failed in submission order
//   - Sweeps leftover temp files when the batch completes or ctx is cancelled
package batch
