// Package crawler defines the core types shared by the chapter archiving
// pipeline: chapters, run targets, extraction results, the collaborator
// interfaces implemented by the fetcher and extractor packages, and the error
// taxonomy every stage reports through.
package crawler
