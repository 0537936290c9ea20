// Package backend defines the provider-agnostic boundary between the step
// executor and the agent runtimes that actually perform work.
//
// Core goals:
//   - Keep request shapes minimal and transport independent (Request carries
//     the persona, structured prompt and expected output schema)
//   - Return raw JSON documents and leave interpretation, repair and schema
//     validation to the executor
//   - Facilitate deterministic offline testing (Mock)
//
// Providers (Anthropic, OpenAI, Gemini) implement the Backend interface in
// subpackages so higher layers remain decoupled from vendor SDKs.
package backend
