package domain

import "time"

// UserRecord is the durable per-user state, one record per platform user id.
type UserRecord struct {
	UserID      string
	UserName    string
	Platform    Platform
	Thread      Thread
	Personality string
}

// Thread holds the continuation handle returned by the reasoning backend
// after its most recent reply. ID is empty until the first successful call.
type Thread struct {
	ID          string
	LastUpdated time.Time
}

// DossierMapping links a user to the current dossier file and mirrors its
// content, since the file store does not allow downloading it back.
type DossierMapping struct {
	FileID            string
	VectorStoreFileID string
	Content           string
}
