// Package secrets provides regex-based secret detection and redaction.
//
// Chat input frequently contains pasted Apex code, debug logs, and curl
// commands carrying live credentials. Every message is scrubbed before it
// is persisted or forwarded to the model. Findings are reported by rule ID
// only; matched values are never included in results or logs.
package secrets
