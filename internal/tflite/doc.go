// Package tflite runs the leaf classifier on TensorFlow Lite, the format the
// model was originally exported in.
//
// The interpreter binding needs the TensorFlow Lite C library at build time,
// so the default build links no backend and NewEngine returns ErrNoBackend.
// Enable the real engine with the build tag `tflite`:
//
//	go build -tags=tflite ./...
package tflite

// Config controls how an Engine is created.
type Config struct {
	ModelPath  string
	NumThreads int
}
