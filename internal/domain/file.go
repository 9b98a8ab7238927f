package domain

import "strings"

// Resource types reported by the storage service for an upload
const (
	ResourceTypeImage = "image"
	ResourceTypeRaw   = "raw"
)

// UploadResult describes a stored chat attachment
type UploadResult struct {
	URL          string `json:"url"`
	ObjectKey    string `json:"objectKey"`
	ResourceType string `json:"resourceType"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
}

// ResourceTypeFor classifies an upload by its content type
func ResourceTypeFor(contentType string) string {
	if strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return ResourceTypeImage
	}
	return ResourceTypeRaw
}

// AttachmentMessageType maps an upload's resource type to the chat message type
func AttachmentMessageType(resourceType string) MessageType {
	if resourceType == ResourceTypeImage {
		return MessageTypeImage
	}
	return MessageTypeFile
}
