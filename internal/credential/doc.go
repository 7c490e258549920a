// Package credential defines the domain types for upstream credentials:
// providers, model groups, capability tiers, and the Credential record itself.
package credential
