// Package inference defines the contracts of the external vision and text
// models the pipeline calls, the errors they report, and provider-neutral
// wrappers around them (circuit breaking, an offline stub).
package inference
