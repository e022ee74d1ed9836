package pipeline

// User-facing texts. Only the pipeline turns failures into messages; raw
// internal errors never reach users except transport errors, which are
// shown verbatim.
const (
	NoTemplateMessage       = "Please set an auto rename format first using /autorename"
	OutOfCreditsMessage     = "You've run out of credits!\n\nGenerate more credits by completing short links using /gentoken command."
	StoreUnavailableMessage = "Unable to verify your credits right now. Please try again shortly."
	QualityAdvisoryMessage  = "I was not able to extract the quality properly. Renaming as 'Unknown'..."
	DownloadingMessage      = "Downloading..."
	ProcessingMessage       = "Processing and adding metadata..."
	UploadingMessage        = "Uploading..."
	downloadErrorFormat     = "Download Error: %v"
	uploadErrorFormat       = "Upload Error: %v"
)
