package models

import "time"

// ChatAttachment is the metadata row for an image uploaded to the chat.
type ChatAttachment struct {
	ID             string     `json:"id" db:"id"`
	UploaderUserID int64      `json:"uploader_user_id" db:"uploader_user_id"`
	StoragePath    string     `json:"storage_path" db:"storage_path"`
	FileName       string     `json:"file_name" db:"file_name"`
	MimeType       string     `json:"mime_type" db:"mime_type"`
	FileSizeBytes  int64      `json:"file_size_bytes" db:"file_size_bytes"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}
