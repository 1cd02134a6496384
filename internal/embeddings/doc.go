// Package embeddings generates vectors for item content.
//
// Two providers are supported: "openai" (any OpenAI-compatible embeddings
// API, including TEI, through langchaingo) and "fastembed" (local ONNX
// models, cgo builds only). RateLimited throttles any provider, and Long
// embeds text of arbitrary length by splitting it into token-bounded chunks
// and averaging the chunk vectors.
//
// Errors from a provider are reported as *failure.ProviderError so callers
// can skip the affected unit and carry on.
package embeddings
