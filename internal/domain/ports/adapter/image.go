package adapter

type ImageInfo struct {
	Format    string // jpeg | png | webp
	MIME      string
	Width     int
	Height    int
	SizeBytes int
}

type ImageConstraints struct {
	MaxBytes int
}

// ImageProcessor validates uploads and shrinks them for the provider.
// Validate fails with *domain.ValidationError.
type ImageProcessor interface {
	Validate(data []byte) (ImageInfo, error)
	Optimize(data []byte, c ImageConstraints) ([]byte, error)
}
