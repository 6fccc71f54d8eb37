package doccodec

const (
	// maximum size of an encoded document
	MaxDocumentSize = 8 * 1024 * 1024
	// maximum size of any individual string inside a document
	MaxStringLen = MaxDocumentSize
	// maximum size of any individual byte string inside a document
	MaxBytesLen = MaxDocumentSize
	// maximum number of elements in a map or list
	MaxContainerLen = 256 * 1024
	// maximum length of a map key
	MaxKeyLen = 8192

	binKey = "$bin"
)
