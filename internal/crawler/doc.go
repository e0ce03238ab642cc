// Package crawler defines the domain types and collaborator contracts shared
// by the crawl coordinator, the enrichment stages, the worker pool and the
// storage adapters of the newswatch service.
package crawler
