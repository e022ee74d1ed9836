package pipeline

// State is the position of a job in the rename state machine.
type State string

const (
	StateAdmitted         State = "admitted"
	StateTemplateResolved State = "template_resolved"
	StateDownloading      State = "downloading"
	StateMetadataMux      State = "metadata_mux"
	StateUploading        State = "uploading"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// Outcome is how a Run ended.
type Outcome string

const (
	OutcomeDelivered        Outcome = "delivered"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeNoTemplate       Outcome = "no_template"
	OutcomeDenied           Outcome = "denied"
	OutcomeStoreUnavailable Outcome = "store_unavailable"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeDownloadFailed   Outcome = "download_failed"
	OutcomeUploadFailed     Outcome = "upload_failed"
)

// Delivered reports whether the file reached the user.
func (o Outcome) Delivered() bool {
	return o == OutcomeDelivered
}
