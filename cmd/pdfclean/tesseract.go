//go:build tesseract

package main

import _ "github.com/wudi/scanclean/ocr/tesseract"
