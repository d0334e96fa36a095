// Package engine composes the catalog holder, the matcher, the lineage
// store, the change notifier and the session registry behind the
// operations exposed to the UI layer.
//
// Thread-safety model:
//   - Match, lineage reads and writes: safe from any goroutine
//   - ReloadCatalog: runs on the shared worker pool; concurrent reloads
//     publish in version order and never roll the catalog back
//   - Sessions: every registry mutation goes through the registry's own
//     goroutine, started by Start
package engine
