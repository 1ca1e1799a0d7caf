// Package catalog holds the vocabulary shared by the model catalog service
// and its HTTP handlers: collection names and well-known document fields.
// Documents themselves stay schemaless (bson.M); any other field a client
// submits is stored verbatim.
package catalog

const (
	ModelsCollection    = "models"
	DownloadsCollection = "downloads"
)

// Model fields.
const (
	FieldName      = "name"
	FieldCreatedBy = "created_by"
	FieldCreatedAt = "created_at"
	FieldDownloads = "downloads"
	// FieldFileKey optionally names the artifact object in storage.
	FieldFileKey = "file_key"
)

// Download record fields.
const (
	FieldDownloadedBy = "downloaded_by"
)

// LatestLimit is the number of models returned by the latest listing.
const LatestLimit = 6
