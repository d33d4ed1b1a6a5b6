// Package chart implements the Chart Registry.
//
// The registry holds independent sync controllers keyed by chart ID. Each
// chart owns its own series and stream; charts never share state. Charts
// added while the registry is running are started immediately, and removed
// charts are stopped before they leave the registry.
package chart
