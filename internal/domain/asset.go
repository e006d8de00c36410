package domain

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AssetType is a coarse classification derived from the MIME type.
type AssetType string

const (
	AssetTypeImage    AssetType = "image"
	AssetTypeVideo    AssetType = "video"
	AssetTypeAudio    AssetType = "audio"
	AssetTypeDocument AssetType = "document"
	AssetTypeOther    AssetType = "other"
)

// Asset is the durable record of a fully transferred media file. It is
// created exactly once per successful upload (chunked or direct) and always
// references a completely assembled, size-verified object in storage.
type Asset struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID      primitive.ObjectID `bson:"userId" json:"userId"`     // Owning user
	FileName    string             `bson:"fileName" json:"fileName"` // Original filename provided by client
	UniqueName  string             `bson:"uniqueName" json:"uniqueName"`
	ContentHash string             `bson:"contentHash" json:"contentHash"`
	MimeType    string             `bson:"mimeType" json:"mimeType"`
	AssetType   AssetType          `bson:"assetType" json:"assetType"`
	Size        int64              `bson:"size" json:"size"` // Byte size of the stored object
	StorageKey  string             `bson:"storageKey" json:"-"`
	StorageURL  string             `bson:"storageUrl" json:"storageUrl"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// ClassifyMimeType maps a MIME type onto an AssetType bucket.
func ClassifyMimeType(mimeType string) AssetType {
	mt := strings.ToLower(mimeType)
	switch {
	case strings.HasPrefix(mt, "image/"):
		return AssetTypeImage
	case strings.HasPrefix(mt, "video/"):
		return AssetTypeVideo
	case strings.HasPrefix(mt, "audio/"):
		return AssetTypeAudio
	case strings.HasPrefix(mt, "application/pdf"), strings.HasPrefix(mt, "text/"):
		return AssetTypeDocument
	default:
		return AssetTypeOther
	}
}
