// Package gemini implements the vision and text inference contracts on top of
// Google's Gemini API via the google.golang.org/genai SDK.
package gemini
