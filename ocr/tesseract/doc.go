// Package tesseract registers a gosseract-backed OCR engine as the default
// engine. It needs libtesseract and is compiled only with the tesseract
// build tag.
package tesseract
