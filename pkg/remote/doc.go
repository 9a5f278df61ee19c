// Package remote holds the shared pieces of the remote model providers. Each
// provider lives in its own subpackage and implements
// generation.RemoteGenerator over the vendor's official streaming SDK.
package remote

// SystemPrompt is the instruction sent ahead of every user prompt.
const SystemPrompt = "You are a helpful assistant. Write concise, vivid responses."
