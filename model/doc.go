// Package model defines the provider-agnostic abstractions for calling
// language models from pipeline stages.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Keep request/response shapes minimal and transport independent
//   - Scope expensive clients to an explicit, injectable Pool instead of
//     package-level singletons
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic) implement the Model interface in their own
// sub-packages so pipeline code remains decoupled from vendor SDKs.
package model
