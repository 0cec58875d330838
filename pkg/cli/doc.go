// Package cli implements the hookd command line.
//
// 'hookd serve' assembles the full stack: store, event bus, shared state,
// script executor, capture listeners and admin API. Every other command is
// a thin client of a running instance's admin API, located via --admin-url
// or HOOKD_ADMIN_URL and authenticated with --api-key or
// HOOKD_ADMIN_API_KEY.
package cli
