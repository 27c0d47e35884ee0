package common

// Index types accepted by the registry.
const (
	IndexTypeStage  = "stage"
	IndexTypeMirror = "mirror"
)
