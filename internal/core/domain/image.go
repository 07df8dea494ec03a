package domain

// PreparedImage is a decoded image ready for upload.
type PreparedImage struct {
	Name     string
	Data     []byte
	MimeType string
	Width    int
	Height   int
	// Thumbnail is nil when no thumbnail size was requested or the image is
	// already small enough.
	Thumbnail *PreparedImage
}
