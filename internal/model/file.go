package model

import "io"

// FileUpload is a file handed to the file storage service.
type FileUpload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Descriptor builds the answer descriptor for the file once stored at url.
func (f *FileUpload) Descriptor(url string) FileDescriptor {
	return FileDescriptor{FileName: f.Name, FileType: f.ContentType, FileURL: url}
}
