package event

// AttachmentType identifies what an attachment blob contains
type AttachmentType string

const (
	AttachmentScreenshot  AttachmentType = "screenshot"
	AttachmentLayout      AttachmentType = "layout_snapshot"
	AttachmentMethodTrace AttachmentType = "method_trace"
)

// Attachment is a binary blob owned by exactly one event. Small blobs
// are stored inline in the database; large ones (method traces) stay on
// disk and the row holds the path. The attachment is deleted whenever
// its owning event is deleted.
type Attachment struct {
	ID      string
	EventID string
	Name    string
	Type    AttachmentType
	Inline  []byte
	Path    string
	Size    int64

	// UploadURL is a signed URL returned by the ingestion service in a
	// batch ack; empty until then.
	UploadURL string
}
