// Package memory is the conversation memory engine. It persists messages
// through a MessageStore, keeps per-thread or per-resource working memory
// under a per-key mutex, and augments message retrieval with semantic
// recall backed by an embedding provider and a vector index.
package memory
