package source

import (
	"bytes"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gen2brain/go-fitz"
)

var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

// LoadImages reads scene images from a single file or from every image in
// a directory, sorted by file name. A PDF yields one scene per page.
func LoadImages(path string, dpi int) ([]SceneImage, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !fi.IsDir() {
		if strings.EqualFold(filepath.Ext(path), ".pdf") {
			return LoadPDF(path, dpi)
		}
		si, err := loadImageFile(path)
		if err != nil {
			return nil, err
		}
		return []SceneImage{si}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))]; ok {
			paths = append(paths, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, path)
	}

	images := make([]SceneImage, 0, len(paths))
	for _, p := range paths {
		si, err := loadImageFile(p)
		if err != nil {
			return nil, err
		}
		images = append(images, si)
	}
	return images, nil
}

func loadImageFile(path string) (SceneImage, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from the operator
	if err != nil {
		return SceneImage{}, err
	}
	return SceneImage{
		Bytes:    data,
		MIMEType: imageExtensions[strings.ToLower(filepath.Ext(path))],
	}, nil
}

// LoadPDF renders every page of a PDF into a PNG scene image.
func LoadPDF(path string, dpi int) ([]SceneImage, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	if dpi <= 0 {
		dpi = DefaultDPI
	}

	images := make([]SceneImage, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		img, err := doc.ImageDPI(i, float64(dpi))
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", i, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode page %d: %w", i, err)
		}
		images = append(images, SceneImage{Bytes: buf.Bytes(), MIMEType: "image/png"})
	}

	if len(images) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, path)
	}
	return images, nil
}
