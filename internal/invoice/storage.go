package invoice

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage persists pipeline side outputs such as visualization images.
type Storage interface {
	// SaveImage writes an image file and returns its name.
	SaveImage(filename string, data []byte) (string, error)

	// GetImage reads a previously saved image file.
	GetImage(filename string) ([]byte, error)
}

// OutputStorage implements Storage under a local output directory, with
// images kept in an images/ subdirectory.
type OutputStorage struct {
	imagesDir string
}

// NewOutputStorage creates the output directory layout.
func NewOutputStorage(baseDir string) (*OutputStorage, error) {
	imagesDir := filepath.Join(baseDir, "images")
	if err := os.MkdirAll(imagesDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &OutputStorage{imagesDir: imagesDir}, nil
}

// SaveImage writes an image into the images directory.
func (o *OutputStorage) SaveImage(filename string, data []byte) (string, error) {
	path := filepath.Join(o.imagesDir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return filename, nil
}

// GetImage reads an image from the images directory.
func (o *OutputStorage) GetImage(filename string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(o.imagesDir, filename))
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return data, nil
}
