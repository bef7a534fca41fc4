// Package thumbnail writes resized JPEG copies of uploaded images to local
// disk and returns the public path they are served under.
package thumbnail
